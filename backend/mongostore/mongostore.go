// Package mongostore is the mongodb Backend driver, grounded on the
// original Rust implementation's db/mongodb backend (a dedicated
// certificates/keys/key_identifiers/names collection layout) and built on
// go.mongodb.org/mongo-driver, the same driver version
// GoogleContainerTools-skaffold's module graph pulls in.
package mongostore

import (
	"context"
	"encoding/hex"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/pickyca/picky-ca/backend"
	"github.com/pickyca/picky-ca/pkierrors"
)

type nameDoc struct {
	Name      string    `bson:"name"`
	Hash      string    `bson:"hash"`
	CreatedAt time.Time `bson:"created_at"`
}

type certDoc struct {
	Hash string `bson:"_id"`
	DER  []byte `bson:"der"`
}

type keyDoc struct {
	Hash string `bson:"_id"`
	DER  []byte `bson:"der"`
}

type keyIdentifierDoc struct {
	SKIHex string `bson:"_id"`
	Hash   string `bson:"hash"`
}

// Backend implements backend.Backend over MongoDB.
type Backend struct {
	client *mongo.Client
	db     *mongo.Database
}

// New connects to uri and selects dbName as the working database.
func New(ctx context.Context, uri, dbName string) (*Backend, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, backend.ErrBackendUnavailable
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, backend.ErrBackendUnavailable
	}
	return &Backend{client: client, db: client.Database(dbName)}, nil
}

func (b *Backend) names() *mongo.Collection          { return b.db.Collection("names") }
func (b *Backend) certs() *mongo.Collection          { return b.db.Collection("certificates") }
func (b *Backend) keys() *mongo.Collection           { return b.db.Collection("keys") }
func (b *Backend) keyIdentifiers() *mongo.Collection { return b.db.Collection("key_identifiers") }

// Store implements backend.Backend, upserting the content-addressed
// collections (certificates/keys/key_identifiers are keyed by hash or SKI,
// so a re-Store of the same content is a no-op past the first write) and
// always inserting a new names document, so Find's most-recent-first order
// is simply "sort by created_at descending."
func (b *Backend) Store(ctx context.Context, name string, certDER []byte, keyDER []byte, ski []byte) (string, error) {
	hash := backend.Multihash(certDER)
	skiHex := hex.EncodeToString(ski)

	upsert := options.Replace().SetUpsert(true)

	if _, err := b.certs().ReplaceOne(ctx, bson.M{"_id": hash}, certDoc{Hash: hash, DER: certDER}, upsert); err != nil {
		return "", pkierrors.WrapStorage(err)
	}
	if keyDER != nil {
		if _, err := b.keys().ReplaceOne(ctx, bson.M{"_id": hash}, keyDoc{Hash: hash, DER: keyDER}, upsert); err != nil {
			return "", pkierrors.WrapStorage(err)
		}
	}
	if _, err := b.keyIdentifiers().ReplaceOne(ctx, bson.M{"_id": skiHex}, keyIdentifierDoc{SKIHex: skiHex, Hash: hash}, upsert); err != nil {
		return "", pkierrors.WrapStorage(err)
	}
	if _, err := b.names().InsertOne(ctx, nameDoc{Name: name, Hash: hash, CreatedAt: time.Now()}); err != nil {
		return "", pkierrors.WrapStorage(err)
	}

	return hash, nil
}

// Find implements backend.Backend.
func (b *Backend) Find(ctx context.Context, name string) ([]backend.Record, error) {
	cur, err := b.names().Find(ctx, bson.M{"name": name}, options.Find().SetSort(bson.M{"created_at": -1}))
	if err != nil {
		return nil, pkierrors.WrapStorage(err)
	}
	defer cur.Close(ctx)

	var out []backend.Record
	for cur.Next(ctx) {
		var doc nameDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, pkierrors.WrapStorage(err)
		}
		out = append(out, backend.Record{Name: doc.Name, Hash: doc.Hash})
	}
	if len(out) == 0 {
		return nil, pkierrors.NotFound
	}
	return out, nil
}

// GetCert implements backend.Backend.
func (b *Backend) GetCert(ctx context.Context, hash string) ([]byte, error) {
	var doc certDoc
	if err := b.certs().FindOne(ctx, bson.M{"_id": hash}).Decode(&doc); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, pkierrors.NotFound
		}
		return nil, pkierrors.WrapStorage(err)
	}
	return doc.DER, nil
}

// GetKey implements backend.Backend.
func (b *Backend) GetKey(ctx context.Context, hash string) ([]byte, error) {
	var doc keyDoc
	if err := b.keys().FindOne(ctx, bson.M{"_id": hash}).Decode(&doc); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, pkierrors.NotFound
		}
		return nil, pkierrors.WrapStorage(err)
	}
	return doc.DER, nil
}

// GetHashFromKeyIdentifier implements backend.Backend.
func (b *Backend) GetHashFromKeyIdentifier(ctx context.Context, skiHex string) (string, error) {
	var doc keyIdentifierDoc
	if err := b.keyIdentifiers().FindOne(ctx, bson.M{"_id": skiHex}).Decode(&doc); err != nil {
		if err == mongo.ErrNoDocuments {
			return "", pkierrors.NotFound
		}
		return "", pkierrors.WrapStorage(err)
	}
	return doc.Hash, nil
}

// GetKeyIdentifierFromHash implements backend.Backend.
func (b *Backend) GetKeyIdentifierFromHash(ctx context.Context, hash string) (string, error) {
	var doc keyIdentifierDoc
	if err := b.keyIdentifiers().FindOne(ctx, bson.M{"hash": hash}).Decode(&doc); err != nil {
		if err == mongo.ErrNoDocuments {
			return "", pkierrors.NotFound
		}
		return "", pkierrors.WrapStorage(err)
	}
	return doc.SKIHex, nil
}

// Health implements backend.Backend.
func (b *Backend) Health(ctx context.Context) error {
	if err := b.client.Ping(ctx, nil); err != nil {
		return backend.ErrBackendUnavailable
	}
	return nil
}
