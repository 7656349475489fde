// Package signature implements RSA PKCS#1 v1.5 signing and verification
// across the hash algorithms spec section 4.3 names, plus the OID table
// used to record which algorithm signed a given TBSCertificate/CSR. It is
// grounded on the original Rust implementation's signature.rs (SignatureHashType),
// re-expressed over the standard library's crypto/rsa and crypto/rand rather
// than a third-party signing library, since boulder itself signs with bare
// crypto/rsa in ca/ca.go (ca.signer.Sign / x509.CreateCertificate's internal
// path) -- there is no ecosystem signing wrapper in the example pack to
// reach for instead.
package signature

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"hash"

	"github.com/pickyca/picky-ca/asn1der"
	"github.com/pickyca/picky-ca/keys"
	"github.com/pickyca/picky-ca/pkierrors"
)

// HashType identifies one of the five PKCS#1 v1.5 RSA signature algorithms
// this service supports, named after the original implementation's
// SignatureHashType enum.
type HashType int

const (
	RsaSha1 HashType = iota
	RsaSha224
	RsaSha256
	RsaSha384
	RsaSha512
)

var oids = map[HashType]asn1der.ObjectIdentifier{
	RsaSha1:   {1, 2, 840, 113549, 1, 1, 5},
	RsaSha224: {1, 2, 840, 113549, 1, 1, 14},
	RsaSha256: {1, 2, 840, 113549, 1, 1, 11},
	RsaSha384: {1, 2, 840, 113549, 1, 1, 12},
	RsaSha512: {1, 2, 840, 113549, 1, 1, 13},
}

var cryptoHashes = map[HashType]crypto.Hash{
	RsaSha1:   crypto.SHA1,
	RsaSha224: crypto.SHA224,
	RsaSha256: crypto.SHA256,
	RsaSha384: crypto.SHA384,
	RsaSha512: crypto.SHA512,
}

var names = map[HashType]string{
	RsaSha1:   "RSA_SHA1",
	RsaSha224: "RSA_SHA224",
	RsaSha256: "RSA_SHA256",
	RsaSha384: "RSA_SHA384",
	RsaSha512: "RSA_SHA512",
}

// String renders the algorithm name used in log lines and error messages.
func (h HashType) String() string {
	if n, ok := names[h]; ok {
		return n
	}
	return "UNKNOWN"
}

// OID returns the PKCS#1 signature algorithm OID for this hash type.
func (h HashType) OID() (asn1der.ObjectIdentifier, error) {
	oid, ok := oids[h]
	if !ok {
		return nil, &pkierrors.UnsupportedAlgorithm{Algorithm: h.String()}
	}
	return oid, nil
}

// FromOID maps a PKCS#1 signature algorithm OID back to a HashType.
func FromOID(oid asn1der.ObjectIdentifier) (HashType, error) {
	for h, o := range oids {
		if o.Equal(oid) {
			return h, nil
		}
	}
	return 0, &pkierrors.UnsupportedAlgorithm{Algorithm: oid.String()}
}

func newHash(h HashType) (hash.Hash, crypto.Hash, error) {
	ch, ok := cryptoHashes[h]
	if !ok {
		return nil, 0, &pkierrors.UnsupportedAlgorithm{Algorithm: h.String()}
	}
	switch h {
	case RsaSha1:
		return sha1.New(), ch, nil
	case RsaSha224:
		return sha256.New224(), ch, nil
	case RsaSha256:
		return sha256.New(), ch, nil
	case RsaSha384:
		return sha512.New384(), ch, nil
	case RsaSha512:
		return sha512.New(), ch, nil
	}
	return nil, 0, &pkierrors.UnsupportedAlgorithm{Algorithm: h.String()}
}

// Sign computes an RSA PKCS#1 v1.5 signature over data with the given hash
// algorithm. Signing uses crypto/rand for PKCS#1 v1.5's mandatory blinding,
// so a failure to read the OS random source surfaces as
// pkierrors.NoSecureRandomness rather than a bare crypto/rand error.
func Sign(key *keys.PrivateKey, h HashType, data []byte) ([]byte, error) {
	hasher, ch, err := newHash(h)
	if err != nil {
		return nil, err
	}
	hasher.Write(data)
	digest := hasher.Sum(nil)

	sig, err := rsa.SignPKCS1v15(rand.Reader, key.PrivateKey, ch, digest)
	if err != nil {
		if err == rsa.ErrMessageTooLong {
			return nil, err
		}
		return nil, pkierrors.NoSecureRandomness
	}
	return sig, nil
}

// Verify checks an RSA PKCS#1 v1.5 signature over data. Returns
// pkierrors.BadSignature on any mismatch, so callers can compare against it
// with errors.Is regardless of the underlying crypto/rsa error text.
func Verify(key *keys.PublicKey, h HashType, data []byte, sig []byte) error {
	hasher, ch, err := newHash(h)
	if err != nil {
		return err
	}
	hasher.Write(data)
	digest := hasher.Sum(nil)

	if err := rsa.VerifyPKCS1v15(key.PublicKey, ch, digest, sig); err != nil {
		return pkierrors.BadSignature
	}
	return nil
}
