// Package sqlstore is the mysql Backend driver, built on
// github.com/go-sql-driver/mysql and github.com/letsencrypt/borp, the ORM
// layer boulder itself uses in front of MySQL for its storage authority.
// Four tables back the four logical maps spec section 3 describes
// (names, certificates, keys, key_identifiers); borp's struct-tag mapping
// is used the way boulder's own sa package uses it, rather than hand-rolled
// SQL string building for every query.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"

	_ "github.com/go-sql-driver/mysql"
	"github.com/letsencrypt/borp"

	"github.com/pickyca/picky-ca/backend"
	"github.com/pickyca/picky-ca/pkierrors"
)

// nameRecord is one row of the names table: a subject display string
// pointing at a content hash, ordered by insertion so Find can return
// most-recent-first.
type nameRecord struct {
	ID   int64  `db:"id"`
	Name string `db:"name"`
	Hash string `db:"hash"`
}

type certRecord struct {
	Hash string `db:"hash"`
	DER  []byte `db:"der"`
}

type keyRecord struct {
	Hash string `db:"hash"`
	DER  []byte `db:"der"`
}

type keyIdentifierRecord struct {
	SKIHex string `db:"ski_hex"`
	Hash   string `db:"hash"`
}

// Backend implements backend.Backend over MySQL via borp.
type Backend struct {
	dbMap *borp.DbMap
}

// New opens a mysql connection using dsn (a go-sql-driver/mysql DSN) and
// ensures the backing tables exist.
func New(dsn string) (*Backend, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, backend.ErrBackendUnavailable
	}
	if err := db.Ping(); err != nil {
		return nil, backend.ErrBackendUnavailable
	}

	dbMap := &borp.DbMap{Db: db, Dialect: borp.MySQLDialect{Engine: "InnoDB", Encoding: "UTF8MB4"}}
	dbMap.AddTableWithName(nameRecord{}, "names").SetKeys(true, "ID")
	dbMap.AddTableWithName(certRecord{}, "certificates").SetKeys(false, "Hash")
	dbMap.AddTableWithName(keyRecord{}, "keys").SetKeys(false, "Hash")
	dbMap.AddTableWithName(keyIdentifierRecord{}, "key_identifiers").SetKeys(false, "SKIHex")

	if err := dbMap.CreateTablesIfNotExists(); err != nil {
		return nil, pkierrors.WrapStorage(err)
	}

	return &Backend{dbMap: dbMap}, nil
}

// Store implements backend.Backend.
func (b *Backend) Store(ctx context.Context, name string, certDER []byte, keyDER []byte, ski []byte) (string, error) {
	hash := backend.Multihash(certDER)
	skiHex := hex.EncodeToString(ski)

	tx, err := b.dbMap.Begin()
	if err != nil {
		return "", pkierrors.WrapStorage(err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := upsertCert(tx, hash, certDER); err != nil {
		return "", pkierrors.WrapStorage(err)
	}
	if keyDER != nil {
		if err := upsertKey(tx, hash, keyDER); err != nil {
			return "", pkierrors.WrapStorage(err)
		}
	}
	if err := upsertKeyIdentifier(tx, skiHex, hash); err != nil {
		return "", pkierrors.WrapStorage(err)
	}
	if err := tx.Insert(&nameRecord{Name: name, Hash: hash}); err != nil {
		return "", pkierrors.WrapStorage(err)
	}

	if err := tx.Commit(); err != nil {
		return "", pkierrors.WrapStorage(err)
	}
	return hash, nil
}

// upsertCert follows the overwrite-or-ignore policy spec section 5 permits
// for a duplicate (name, ski) pair: a re-Store of the same hash is a no-op
// past the first write, since content-addressed rows are immutable once
// written.
func upsertCert(tx *borp.Transaction, hash string, der []byte) error {
	var existing certRecord
	err := tx.SelectOne(&existing, "SELECT hash, der FROM certificates WHERE hash = ?", hash)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	return tx.Insert(&certRecord{Hash: hash, DER: der})
}

func upsertKey(tx *borp.Transaction, hash string, der []byte) error {
	var existing keyRecord
	err := tx.SelectOne(&existing, "SELECT hash, der FROM keys WHERE hash = ?", hash)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	return tx.Insert(&keyRecord{Hash: hash, DER: der})
}

func upsertKeyIdentifier(tx *borp.Transaction, skiHex, hash string) error {
	var existing keyIdentifierRecord
	err := tx.SelectOne(&existing, "SELECT ski_hex, hash FROM key_identifiers WHERE ski_hex = ?", skiHex)
	if err == nil {
		existing.Hash = hash
		_, err := tx.Update(&existing)
		return err
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	return tx.Insert(&keyIdentifierRecord{SKIHex: skiHex, Hash: hash})
}

// Find implements backend.Backend.
func (b *Backend) Find(ctx context.Context, name string) ([]backend.Record, error) {
	var rows []nameRecord
	_, err := b.dbMap.Select(&rows, "SELECT id, name, hash FROM names WHERE name = ? ORDER BY id DESC", name)
	if err != nil {
		return nil, pkierrors.WrapStorage(err)
	}
	if len(rows) == 0 {
		return nil, pkierrors.NotFound
	}
	out := make([]backend.Record, len(rows))
	for i, r := range rows {
		out[i] = backend.Record{Name: r.Name, Hash: r.Hash}
	}
	return out, nil
}

// GetCert implements backend.Backend.
func (b *Backend) GetCert(ctx context.Context, hash string) ([]byte, error) {
	var rec certRecord
	err := b.dbMap.SelectOne(&rec, "SELECT hash, der FROM certificates WHERE hash = ?", hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkierrors.NotFound
	}
	if err != nil {
		return nil, pkierrors.WrapStorage(err)
	}
	return rec.DER, nil
}

// GetKey implements backend.Backend.
func (b *Backend) GetKey(ctx context.Context, hash string) ([]byte, error) {
	var rec keyRecord
	err := b.dbMap.SelectOne(&rec, "SELECT hash, der FROM keys WHERE hash = ?", hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkierrors.NotFound
	}
	if err != nil {
		return nil, pkierrors.WrapStorage(err)
	}
	return rec.DER, nil
}

// GetHashFromKeyIdentifier implements backend.Backend.
func (b *Backend) GetHashFromKeyIdentifier(ctx context.Context, skiHex string) (string, error) {
	var rec keyIdentifierRecord
	err := b.dbMap.SelectOne(&rec, "SELECT ski_hex, hash FROM key_identifiers WHERE ski_hex = ?", skiHex)
	if errors.Is(err, sql.ErrNoRows) {
		return "", pkierrors.NotFound
	}
	if err != nil {
		return "", pkierrors.WrapStorage(err)
	}
	return rec.Hash, nil
}

// GetKeyIdentifierFromHash implements backend.Backend.
func (b *Backend) GetKeyIdentifierFromHash(ctx context.Context, hash string) (string, error) {
	var rec keyIdentifierRecord
	err := b.dbMap.SelectOne(&rec, "SELECT ski_hex, hash FROM key_identifiers WHERE hash = ?", hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", pkierrors.NotFound
	}
	if err != nil {
		return "", pkierrors.WrapStorage(err)
	}
	return rec.SKIHex, nil
}

// Health implements backend.Backend.
func (b *Backend) Health(ctx context.Context) error {
	if err := b.dbMap.Db.PingContext(ctx); err != nil {
		return backend.ErrBackendUnavailable
	}
	return nil
}

