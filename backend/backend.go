// Package backend defines the storage contract spec section 4.9 names and
// the content-addressing scheme every concrete driver (memory, file, mysql,
// mongodb) shares: certificates and keys are addressed by a self-describing
// multihash of their DER bytes, and names/key-identifiers are indirections
// onto that hash. The interface is modeled on boulder's own SA
// (StorageAuthority) abstraction -- a narrow capability interface the
// issuance controller depends on, with concrete implementations swapped in
// at startup -- generalized here from boulder's gRPC-backed SA to a
// directly-called Go interface, since this service has no RPC boundary
// between issuance and storage.
package backend

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/pickyca/picky-ca/pkierrors"
)

// multihashPrefix is the two-byte self-describing prefix for a SHA-256
// multihash: function code 0x12 (sha2-256), digest length 0x20 (32 bytes).
var multihashPrefix = []byte{0x12, 0x20}

// Multihash computes the lowercase-hex multihash of der: a 0x12 0x20 prefix
// followed by the SHA-256 digest, matching the format the original Rust
// implementation's sha256_to_multihash produces.
func Multihash(der []byte) string {
	sum := sha256.Sum256(der)
	buf := make([]byte, 0, len(multihashPrefix)+len(sum))
	buf = append(buf, multihashPrefix...)
	buf = append(buf, sum[:]...)
	return hex.EncodeToString(buf)
}

// NormalizeHash accepts either a full 68-character multihash or a bare
// 64-character SHA-256 hex digest (without the multihash prefix) and
// returns the canonical multihash form, so lookups work whichever form a
// caller (or an older client, per spec's legacy-compatibility note) uses.
func NormalizeHash(hash string) (string, bool) {
	switch len(hash) {
	case 68:
		if _, err := hex.DecodeString(hash); err != nil {
			return "", false
		}
		return hash, true
	case 64:
		if _, err := hex.DecodeString(hash); err != nil {
			return "", false
		}
		return hex.EncodeToString(multihashPrefix) + hash, true
	default:
		return "", false
	}
}

// Record is one (name, hash) association returned by Find.
type Record struct {
	Name string
	Hash string
}

// Backend is the storage capability set spec section 4.9 names. A single
// Backend instance is owned exclusively by the issuance controller for the
// lifetime of the process (spec section 4.9's ownership note); concrete
// drivers are responsible for serializing their own mutations.
type Backend interface {
	// Store records all four associations (name→hash, hash→cert,
	// hash→key, ski→hash) for a certificate, or reports failure. The memory
	// and mysql drivers apply the four as one unit; the file and mongodb
	// drivers write them one after another, so a failure part-way leaves
	// the earlier writes in place. keyDER may be nil for backend records where the private key is not
	// available (e.g. registered pre-signed leaves).
	Store(ctx context.Context, name string, certDER []byte, keyDER []byte, ski []byte) (hash string, err error)

	// Find returns every record stored under name, most-recently-stored
	// first, or pkierrors.NotFound if none exist.
	Find(ctx context.Context, name string) ([]Record, error)

	// GetCert returns the DER bytes stored under hash.
	GetCert(ctx context.Context, hash string) ([]byte, error)

	// GetKey returns the PKCS#8 DER bytes stored under hash, or
	// pkierrors.NotFound if the record has no key (see Store's keyDER note).
	GetKey(ctx context.Context, hash string) ([]byte, error)

	// GetHashFromKeyIdentifier resolves a hex-encoded SKI to the hash it
	// was last stored against.
	GetHashFromKeyIdentifier(ctx context.Context, skiHex string) (hash string, err error)

	// GetKeyIdentifierFromHash resolves a hash to its hex-encoded SKI.
	GetKeyIdentifierFromHash(ctx context.Context, hash string) (skiHex string, err error)

	// Health reports whether the backend is reachable and operational,
	// wrapping any failure as ErrBackendUnavailable.
	Health(ctx context.Context) error
}

// ErrBackendUnavailable is returned by Health (and may be returned by any
// other Backend method) when the underlying store cannot be reached.
var ErrBackendUnavailable = pkierrors.WrapStorage(errUnavailable)

type backendError string

func (e backendError) Error() string { return string(e) }

const errUnavailable = backendError("backend unavailable")

// ErrDuplicateName is returned by drivers whose storage model rejects
// overwriting an existing name outright instead of following the
// overwrite-or-ignore policy spec section 5 permits; memory/file/mysql/mongodb
// all choose overwrite, so no driver in this module returns it.
var ErrDuplicateName = pkierrors.WrapStorage(errDuplicateName)

const errDuplicateName = backendError("duplicate name")
