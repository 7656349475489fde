// Package keyid computes subject/authority key identifiers from a public
// key, following the two methods the original implementation's
// key_id_gen_method.rs names: hashing the full SubjectPublicKeyInfo, or
// hashing just the BIT STRING payload and truncating to 160 bits (the
// RFC 5280 section 4.2.1.2 method (1) profile). It mirrors ca/ca.go's
// generateSKID, which hashes the SPKI bit-string payload with SHA-256 and
// truncates to 20 bytes -- the same shape, generalized to the hash
// algorithm choices spec section 4.4 allows.
package keyid

import (
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"hash"

	"github.com/pickyca/picky-ca/keys"
	"github.com/pickyca/picky-ca/pkierrors"
)

// HashAlgo names the digest used to derive a key identifier, mirroring
// KeyIdHashAlgo in the original implementation.
type HashAlgo int

const (
	Sha1 HashAlgo = iota
	Sha224
	Sha256
	Sha384
	Sha512
)

func (a HashAlgo) newHash() (hash.Hash, error) {
	switch a {
	case Sha1:
		return sha1.New(), nil
	case Sha224:
		return sha256.New224(), nil
	case Sha256:
		return sha256.New(), nil
	case Sha384:
		return sha512.New384(), nil
	case Sha512:
		return sha512.New(), nil
	default:
		return nil, &pkierrors.UnsupportedAlgorithm{Algorithm: "unknown key id hash algo"}
	}
}

// Method selects how a key identifier is derived from a public key,
// mirroring KeyIdGenMethod::{SPKValueHashedLeftmost160,SPKFullDER}.
type Method struct {
	// leftmost160 selects the RFC 5280 method (1) profile: SHA-1 (or
	// another configured hash) of the SPKI's BIT STRING payload, truncated
	// to the first 160 bits (20 bytes). If false, the entire DER-encoded
	// SubjectPublicKeyInfo is hashed instead (SPKFullDER).
	leftmost160 bool
	hash        HashAlgo
}

// SPKValueHashedLeftmost160 hashes the SPKI's raw BIT STRING value with the
// given algorithm and truncates the digest to its leftmost 20 bytes, matching
// ca/ca.go's generateSKID and RFC 5280's recommended method (1). It is not the
// certificate builder's default, which is SPKFullDER(Sha256).
func SPKValueHashedLeftmost160(h HashAlgo) Method {
	return Method{leftmost160: true, hash: h}
}

// SPKFullDER hashes the entire DER-encoded SubjectPublicKeyInfo with the
// given algorithm, with no truncation.
func SPKFullDER(h HashAlgo) Method {
	return Method{leftmost160: false, hash: h}
}

// Generate computes the key identifier for pub according to m.
func Generate(m Method, pub *keys.PublicKey) ([]byte, error) {
	hasher, err := m.hash.newHash()
	if err != nil {
		return nil, err
	}

	if m.leftmost160 {
		_, bitStringValue, err := pub.SPKIRaw()
		if err != nil {
			return nil, err
		}
		hasher.Write(bitStringValue)
		digest := hasher.Sum(nil)
		if len(digest) > 20 {
			digest = digest[:20]
		}
		return digest, nil
	}

	der, err := pub.ToDER()
	if err != nil {
		return nil, err
	}
	hasher.Write(der)
	return hasher.Sum(nil), nil
}
