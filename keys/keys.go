// Package keys implements the PrivateKey/PublicKey codecs spec section 4.2
// describes: PKCS#8 wrapping for private keys and X.509 SubjectPublicKeyInfo
// for public keys, both over RSA. It is built on the asn1der codec rather
// than encoding/asn1 or crypto/x509's own (unexported) key parsing, mirroring
// the manual-ASN.1 style ca/ca.go uses for certificate internals -- the same
// style this repo's CSR and certificate packages use for their own codecs.
package keys

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/pem"
	"math/big"

	"github.com/pickyca/picky-ca/asn1der"
	"github.com/pickyca/picky-ca/pkierrors"
)

// rsaEncryption is the PKCS#1 algorithm OID used in both PKCS#8
// PrivateKeyInfo and X.509 SubjectPublicKeyInfo for RSA keys.
var rsaEncryption = asn1der.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 1}

// PrivateKey is an RSA private key, wrapping the standard library's type so
// call sites get *rsa.PrivateKey's Sign/Decrypt methods for free.
type PrivateKey struct {
	*rsa.PrivateKey
}

// NewPrivateKey wraps an already-generated RSA key.
func NewPrivateKey(k *rsa.PrivateKey) *PrivateKey {
	return &PrivateKey{PrivateKey: k}
}

// GenerateKey generates a fresh RSA private key of the given bit size, used
// by the issuance controller's bootstrap step to create the Root (4096-bit)
// and Intermediate (2048-bit) CA keys.
func GenerateKey(bits int) (*PrivateKey, error) {
	k, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, pkierrors.NoSecureRandomness
	}
	return &PrivateKey{PrivateKey: k}, nil
}

// PublicKey is an RSA public key.
type PublicKey struct {
	*rsa.PublicKey
}

// NewPublicKey wraps an already-parsed RSA public key.
func NewPublicKey(k *rsa.PublicKey) *PublicKey {
	return &PublicKey{PublicKey: k}
}

const pemPrivateKeyType = "PRIVATE KEY"
const pemPublicKeyType = "PUBLIC KEY"

// --- PKCS#8 PrivateKeyInfo ---
//
//	PrivateKeyInfo ::= SEQUENCE {
//	  version                   INTEGER (0),
//	  privateKeyAlgorithm       AlgorithmIdentifier,
//	  privateKey                OCTET STRING -- contains DER RSAPrivateKey
//	}
//
//	RSAPrivateKey ::= SEQUENCE {
//	  version           INTEGER (0),
//	  modulus           INTEGER,  -- n
//	  publicExponent    INTEGER,  -- e
//	  privateExponent   INTEGER,  -- d
//	  prime1            INTEGER,  -- p
//	  prime2            INTEGER,  -- q
//	  exponent1         INTEGER,  -- d mod (p-1)
//	  exponent2         INTEGER,  -- d mod (q-1)
//	  coefficient       INTEGER,  -- (inverse of q) mod p
//	}

// ToDER encodes the private key as a PKCS#8 PrivateKeyInfo.
func (k *PrivateKey) ToDER() ([]byte, error) {
	k.Precompute()
	pkcs1 := asn1der.NewWriter()
	pkcs1.WriteSequence(func(w *asn1der.Writer) {
		w.WriteInt64(0)
		w.WriteInteger(k.N)
		w.WriteInt64(int64(k.E))
		w.WriteInteger(k.D)
		w.WriteInteger(k.Primes[0])
		w.WriteInteger(k.Primes[1])
		w.WriteInteger(k.Precomputed.Dp)
		w.WriteInteger(k.Precomputed.Dq)
		w.WriteInteger(k.Precomputed.Qinv)
	})
	pkcs1DER, err := pkcs1.Bytes()
	if err != nil {
		return nil, pkierrors.NewCodecError("RSAPrivateKey", err)
	}

	w := asn1der.NewWriter()
	w.WriteSequence(func(w *asn1der.Writer) {
		w.WriteInt64(0)
		w.WriteSequence(func(w *asn1der.Writer) {
			w.WriteObjectIdentifier(rsaEncryption)
			w.WriteRaw([]byte{0x05, 0x00}) // NULL parameters
		})
		w.WriteOctetString(pkcs1DER)
	})
	der, err := w.Bytes()
	if err != nil {
		return nil, pkierrors.NewCodecError("PrivateKeyInfo", err)
	}
	return der, nil
}

// ToPEM encodes the private key as a PEM "PRIVATE KEY" block.
func (k *PrivateKey) ToPEM() ([]byte, error) {
	der, err := k.ToDER()
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: pemPrivateKeyType, Bytes: der}), nil
}

// PrivateKeyFromDER decodes a PKCS#8 PrivateKeyInfo carrying an RSA key.
func PrivateKeyFromDER(der []byte) (*PrivateKey, error) {
	r := asn1der.NewReader(der)
	var pkcs1DER []byte
	err := r.ReadSequence(func(r *asn1der.Reader) error {
		if _, err := r.ReadInteger(); err != nil {
			return err
		}
		if err := readRSAAlgorithmIdentifier(r); err != nil {
			return err
		}
		var err error
		pkcs1DER, err = r.ReadOctetString()
		return err
	})
	if err != nil {
		return nil, pkierrors.NewCodecError("PrivateKeyInfo", err)
	}
	if err := r.RequireEmpty("PrivateKeyInfo"); err != nil {
		return nil, pkierrors.NewCodecError("PrivateKeyInfo", err)
	}

	key, err := parsePKCS1PrivateKey(pkcs1DER)
	if err != nil {
		return nil, pkierrors.NewCodecError("RSAPrivateKey", err)
	}
	key.Precompute()
	return &PrivateKey{PrivateKey: key}, nil
}

// PrivateKeyFromPEM decodes a PEM "PRIVATE KEY" block.
func PrivateKeyFromPEM(data []byte) (*PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, pkierrors.NewCodecError("PrivateKey PEM", errNoPEMBlock)
	}
	return PrivateKeyFromDER(block.Bytes)
}

func parsePKCS1PrivateKey(der []byte) (*rsa.PrivateKey, error) {
	r := asn1der.NewReader(der)
	key := &rsa.PrivateKey{}
	err := r.ReadSequence(func(r *asn1der.Reader) error {
		if _, err := r.ReadInteger(); err != nil {
			return err
		}
		n, err := r.ReadInteger()
		if err != nil {
			return err
		}
		e, err := r.ReadInteger()
		if err != nil {
			return err
		}
		d, err := r.ReadInteger()
		if err != nil {
			return err
		}
		p, err := r.ReadInteger()
		if err != nil {
			return err
		}
		q, err := r.ReadInteger()
		if err != nil {
			return err
		}
		// exponent1/exponent2/coefficient are recomputed by Precompute, so
		// we only need to consume them.
		if _, err := r.ReadInteger(); err != nil {
			return err
		}
		if _, err := r.ReadInteger(); err != nil {
			return err
		}
		if _, err := r.ReadInteger(); err != nil {
			return err
		}
		key.N = n
		key.E = int(e.Int64())
		key.D = d
		key.Primes = []*big.Int{p, q}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := r.RequireEmpty("RSAPrivateKey"); err != nil {
		return nil, err
	}
	return key, nil
}

// --- SubjectPublicKeyInfo ---
//
//	SubjectPublicKeyInfo ::= SEQUENCE {
//	  algorithm         AlgorithmIdentifier,
//	  subjectPublicKey  BIT STRING  -- contains DER RSAPublicKey
//	}
//
//	RSAPublicKey ::= SEQUENCE {
//	  modulus           INTEGER,
//	  publicExponent    INTEGER,
//	}

// ToDER encodes the public key as an X.509 SubjectPublicKeyInfo.
func (k *PublicKey) ToDER() ([]byte, error) {
	pub := asn1der.NewWriter()
	pub.WriteSequence(func(w *asn1der.Writer) {
		w.WriteInteger(k.N)
		w.WriteInt64(int64(k.E))
	})
	pubDER, err := pub.Bytes()
	if err != nil {
		return nil, pkierrors.NewCodecError("RSAPublicKey", err)
	}

	w := asn1der.NewWriter()
	w.WriteSequence(func(w *asn1der.Writer) {
		w.WriteSequence(func(w *asn1der.Writer) {
			w.WriteObjectIdentifier(rsaEncryption)
			w.WriteRaw([]byte{0x05, 0x00})
		})
		w.WriteBitString(asn1der.BitString{Bytes: pubDER, BitLength: len(pubDER) * 8})
	})
	der, err := w.Bytes()
	if err != nil {
		return nil, pkierrors.NewCodecError("SubjectPublicKeyInfo", err)
	}
	return der, nil
}

// ToPEM encodes the public key as a PEM "PUBLIC KEY" block.
func (k *PublicKey) ToPEM() ([]byte, error) {
	der, err := k.ToDER()
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: pemPublicKeyType, Bytes: der}), nil
}

// SPKIRaw returns the DER-encoded SubjectPublicKeyInfo along with the raw
// bit-string payload (the encoded RSAPublicKey, unused-bits stripped), which
// keyid needs for SPKFullDER and SPKValueHashedLeftmost160 respectively.
func (k *PublicKey) SPKIRaw() (spki []byte, bitStringValue []byte, err error) {
	spki, err = k.ToDER()
	if err != nil {
		return nil, nil, err
	}
	r := asn1der.NewReader(spki)
	var bs asn1der.BitString
	err = r.ReadSequence(func(r *asn1der.Reader) error {
		if err := readRSAAlgorithmIdentifier(r); err != nil {
			return err
		}
		var err error
		bs, err = r.ReadBitString()
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return spki, bs.Bytes, nil
}

// PublicKeyFromDER decodes an X.509 SubjectPublicKeyInfo carrying an RSA key.
// A SubjectPublicKeyInfo using any other algorithm OID (e.g. EC) is
// structurally parseable in the sense that the outer SEQUENCE/AlgorithmIdentifier
// is read correctly, but is rejected with UnsupportedAlgorithm since this
// service only ever signs with RSA.
func PublicKeyFromDER(der []byte) (*PublicKey, error) {
	r := asn1der.NewReader(der)
	var bs asn1der.BitString
	err := r.ReadSequence(func(r *asn1der.Reader) error {
		if err := readRSAAlgorithmIdentifier(r); err != nil {
			return err
		}
		var err error
		bs, err = r.ReadBitString()
		return err
	})
	if err != nil {
		return nil, pkierrors.NewCodecError("SubjectPublicKeyInfo", err)
	}
	if err := r.RequireEmpty("SubjectPublicKeyInfo"); err != nil {
		return nil, pkierrors.NewCodecError("SubjectPublicKeyInfo", err)
	}

	pr := asn1der.NewReader(bs.Bytes)
	pub := &rsa.PublicKey{}
	err = pr.ReadSequence(func(r *asn1der.Reader) error {
		n, err := r.ReadInteger()
		if err != nil {
			return err
		}
		e, err := r.ReadInteger()
		if err != nil {
			return err
		}
		pub.N = n
		pub.E = int(e.Int64())
		return nil
	})
	if err != nil {
		return nil, pkierrors.NewCodecError("RSAPublicKey", err)
	}
	if err := pr.RequireEmpty("RSAPublicKey"); err != nil {
		return nil, pkierrors.NewCodecError("RSAPublicKey", err)
	}
	return &PublicKey{PublicKey: pub}, nil
}

// PublicKeyFromPEM decodes a PEM "PUBLIC KEY" block.
func PublicKeyFromPEM(data []byte) (*PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, pkierrors.NewCodecError("PublicKey PEM", errNoPEMBlock)
	}
	return PublicKeyFromDER(block.Bytes)
}

func readRSAAlgorithmIdentifier(r *asn1der.Reader) error {
	return r.ReadSequence(func(r *asn1der.Reader) error {
		oid, err := r.ReadObjectIdentifier()
		if err != nil {
			return err
		}
		if !oid.Equal(rsaEncryption) {
			return &pkierrors.UnsupportedAlgorithm{Algorithm: oid.String()}
		}
		// NULL parameters, or absent; either way nothing further to read
		// from this budget once the reader reaches the end.
		if !r.Empty() {
			if _, _, err := r.ReadAnyElement(); err != nil {
				return err
			}
		}
		return nil
	})
}

type pemNoBlockError struct{}

func (pemNoBlockError) Error() string { return "no PEM block found" }

var errNoPEMBlock error = pemNoBlockError{}
