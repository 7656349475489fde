// Package certificate implements the TBSCertificate/Certificate model and
// single-shot builder spec sections 3 and 4.5 describe: a DER codec for
// X.509v3 certificates restricted to the extension set this service issues,
// a Cert wrapper exposing CertType classification and SKI/AKI accessors, and
// Builder, which assembles and signs a TBSCertificate from a
// subject (CSR or name+key) and an issuer (self or an authority). It is
// grounded on ca/ca.go's IssueCertificate/issuePrecertificateInner pipeline
// (generate serial, compose extensions, assemble TBS, sign) generalized
// from boulder's ACME-issuance-specific extension set to the fixed set
// BasicConstraints/KeyUsage/ExtendedKeyUsage/SAN/IAN/SKI/AKI spec section 3
// names, and on asn1der for the DER shape itself.
package certificate

import (
	"crypto/rand"
	"encoding/pem"
	"math/big"
	"time"

	"github.com/pickyca/picky-ca/asn1der"
	"github.com/pickyca/picky-ca/identifier"
	"github.com/pickyca/picky-ca/keyid"
	"github.com/pickyca/picky-ca/keys"
	"github.com/pickyca/picky-ca/pkierrors"
	"github.com/pickyca/picky-ca/signature"
)

// pemCertificateType is the PEM label spec section 6.3 names for certificates.
const pemCertificateType = "CERTIFICATE"

// Type classifies a certificate by its BasicConstraints and subject/issuer
// relationship, per spec section 3: this is always derived, never stored.
type Type int

const (
	TypeUnknown Type = iota
	TypeRoot
	TypeIntermediate
	TypeLeaf
)

func (t Type) String() string {
	switch t {
	case TypeRoot:
		return "root"
	case TypeIntermediate:
		return "intermediate"
	case TypeLeaf:
		return "leaf"
	default:
		return "unknown"
	}
}

// Validity is a certificate's notBefore/notAfter bound.
type Validity struct {
	NotBefore time.Time
	NotAfter  time.Time
}

// TBSCertificate is the to-be-signed portion of a certificate.
type TBSCertificate struct {
	SerialNumber       *big.Int
	SignatureAlgorithm signature.HashType
	Issuer             Name
	Validity           Validity
	Subject            Name
	SubjectPublicKey   *keys.PublicKey

	BasicConstraints       *BasicConstraints
	KeyUsage               *KeyUsage
	ExtendedKeyUsage       *ExtendedKeyUsage
	SubjectAltName         identifier.GeneralNames
	IssuerAltName          identifier.GeneralNames
	SubjectKeyIdentifier   []byte
	AuthorityKeyIdentifier *AuthorityKeyIdentifier
}

// version3 is the only certificate version this service emits or accepts.
const version3 = 2

func (tbs TBSCertificate) encode(w *asn1der.Writer) error {
	pubDER, err := tbs.SubjectPublicKey.ToDER()
	if err != nil {
		return err
	}
	sigOID, err := tbs.SignatureAlgorithm.OID()
	if err != nil {
		return err
	}

	w.WriteSequence(func(w *asn1der.Writer) {
		w.WriteExplicit(0, func(w *asn1der.Writer) {
			w.WriteInt64(version3)
		})
		w.WriteInteger(tbs.SerialNumber)
		w.WriteSequence(func(w *asn1der.Writer) {
			w.WriteObjectIdentifier(sigOID)
			w.WriteRaw([]byte{0x05, 0x00})
		})
		tbs.Issuer.encode(w)
		w.WriteSequence(func(w *asn1der.Writer) {
			w.WriteTime(tbs.Validity.NotBefore)
			w.WriteTime(tbs.Validity.NotAfter)
		})
		tbs.Subject.encode(w)
		w.WriteRaw(pubDER)

		exts := tbs.extensions()
		if len(exts) > 0 {
			w.WriteExplicit(3, func(w *asn1der.Writer) {
				w.WriteSequence(func(w *asn1der.Writer) {
					for _, e := range exts {
						e.encode(w)
					}
				})
			})
		}
	})
	return nil
}

// extensions returns the populated extensions in the fixed order spec
// section 4.5 step 3 names: BasicConstraints, KeyUsage, ExtendedKeyUsage,
// SAN, IAN, SKI, AKI.
func (tbs TBSCertificate) extensions() []extension {
	var exts []extension
	if tbs.BasicConstraints != nil {
		critical := tbs.KeyUsage != nil && tbs.KeyUsage.DigitalSignature
		exts = append(exts, extension{id: oidBasicConstraints, critical: critical, value: encodeBasicConstraints(*tbs.BasicConstraints)})
	}
	if tbs.KeyUsage != nil && !tbs.KeyUsage.empty() {
		exts = append(exts, extension{id: oidKeyUsage, critical: true, value: encodeKeyUsage(*tbs.KeyUsage)})
	}
	if tbs.ExtendedKeyUsage != nil && !tbs.ExtendedKeyUsage.empty() {
		exts = append(exts, extension{id: oidExtKeyUsage, value: encodeExtKeyUsage(*tbs.ExtendedKeyUsage)})
	}
	if !tbs.SubjectAltName.Empty() {
		exts = append(exts, extension{id: oidSubjectAltName, value: encodeGeneralNames(tbs.SubjectAltName)})
	}
	if !tbs.IssuerAltName.Empty() {
		exts = append(exts, extension{id: oidIssuerAltName, value: encodeGeneralNames(tbs.IssuerAltName)})
	}
	if len(tbs.SubjectKeyIdentifier) > 0 {
		exts = append(exts, extension{id: oidSubjectKeyIdentifier, value: encodeSKI(tbs.SubjectKeyIdentifier)})
	}
	if tbs.AuthorityKeyIdentifier != nil {
		exts = append(exts, extension{id: oidAuthorityKeyIdentifier, value: encodeAKI(*tbs.AuthorityKeyIdentifier)})
	}
	return exts
}

// decodeTBSCertificateBody reads a TBSCertificate's fields from within an
// already-opened SEQUENCE budget (see ParseCertificate, which captures the
// raw TLV bytes before delegating here).
func decodeTBSCertificateBody(r *asn1der.Reader) (TBSCertificate, error) {
	var tbs TBSCertificate

	_, err := r.ReadExplicit(0, func(inner *asn1der.Reader) error {
		v, err := inner.ReadInt64()
		if err != nil {
			return err
		}
		if v != version3 {
			return pkierrors.NewCodecError("TBSCertificate.version", errUnsupportedVersion)
		}
		return nil
	})
	if err != nil {
		return tbs, err
	}

	serial, err := r.ReadInteger()
	if err != nil {
		return tbs, err
	}
	tbs.SerialNumber = serial

	var sigOID asn1der.ObjectIdentifier
	err = r.ReadSequence(func(r *asn1der.Reader) error {
		oid, err := r.ReadObjectIdentifier()
		if err != nil {
			return err
		}
		sigOID = oid
		if !r.Empty() {
			if _, _, err := r.ReadAnyElement(); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return tbs, err
	}
	hashType, err := signature.FromOID(sigOID)
	if err != nil {
		return tbs, err
	}
	tbs.SignatureAlgorithm = hashType

	issuer, err := decodeName(r)
	if err != nil {
		return tbs, err
	}
	tbs.Issuer = issuer

	err = r.ReadSequence(func(r *asn1der.Reader) error {
		nb, err := r.ReadTime()
		if err != nil {
			return err
		}
		na, err := r.ReadTime()
		if err != nil {
			return err
		}
		tbs.Validity = Validity{NotBefore: nb, NotAfter: na}
		return nil
	})
	if err != nil {
		return tbs, err
	}

	subject, err := decodeName(r)
	if err != nil {
		return tbs, err
	}
	tbs.Subject = subject

	spkiDER, _, err := r.ReadAnyElement()
	if err != nil {
		return tbs, err
	}
	pub, err := keys.PublicKeyFromDER(spkiDER)
	if err != nil {
		return tbs, err
	}
	tbs.SubjectPublicKey = pub

	if !r.Empty() {
		_, err = r.ReadExplicit(3, func(inner *asn1der.Reader) error {
			return inner.ReadSequence(func(inner *asn1der.Reader) error {
				for !inner.Empty() {
					ext, err := decodeExtension(inner)
					if err != nil {
						return err
					}
					if err := applyExtension(&tbs, ext); err != nil {
						return err
					}
				}
				return nil
			})
		})
		if err != nil {
			return tbs, err
		}
	}

	return tbs, nil
}

func applyExtension(tbs *TBSCertificate, ext extension) error {
	switch {
	case ext.id.Equal(oidBasicConstraints):
		bc, err := decodeBasicConstraints(ext.value)
		if err != nil {
			return err
		}
		tbs.BasicConstraints = &bc
	case ext.id.Equal(oidKeyUsage):
		ku, err := decodeKeyUsage(ext.value)
		if err != nil {
			return err
		}
		tbs.KeyUsage = &ku
	case ext.id.Equal(oidExtKeyUsage):
		eku, err := decodeExtKeyUsage(ext.value)
		if err != nil {
			return err
		}
		tbs.ExtendedKeyUsage = &eku
	case ext.id.Equal(oidSubjectAltName):
		san, err := decodeGeneralNames(ext.value)
		if err != nil {
			return err
		}
		tbs.SubjectAltName = san
	case ext.id.Equal(oidIssuerAltName):
		ian, err := decodeGeneralNames(ext.value)
		if err != nil {
			return err
		}
		tbs.IssuerAltName = ian
	case ext.id.Equal(oidSubjectKeyIdentifier):
		ski, err := decodeSKI(ext.value)
		if err != nil {
			return err
		}
		tbs.SubjectKeyIdentifier = ski
	case ext.id.Equal(oidAuthorityKeyIdentifier):
		aki, err := decodeAKI(ext.value)
		if err != nil {
			return err
		}
		tbs.AuthorityKeyIdentifier = &aki
	default:
		// Unrecognized extensions are ignored whether or not they are
		// critical: this service only ever parses certificates it issued
		// itself or that were pre-provisioned for bootstrap, never
		// arbitrary third-party certificates, so there is no policy reason
		// to reject on an unknown critical extension here.
	}
	return nil
}

type certError string

func (e certError) Error() string { return string(e) }

const errUnsupportedVersion = certError("unsupported certificate version, only v3 is supported")

// ParseCertificate decodes a DER-encoded X.509 certificate restricted to
// the extension set this service understands (see applyExtension for the
// ones that are interpreted; others are preserved only in the sense that
// they don't abort the parse, not re-emitted on re-encode).
func ParseCertificate(der []byte) (*Cert, error) {
	r := asn1der.NewReader(der)
	var c Cert
	err := r.ReadSequence(func(r *asn1der.Reader) error {
		rawTBS, _, err := r.ReadAnyElement()
		if err != nil {
			return err
		}
		c.rawTBS = rawTBS

		tbsReader := asn1der.NewReader(rawTBS)
		var tbs TBSCertificate
		err = tbsReader.ReadSequence(func(inner *asn1der.Reader) error {
			tbs, err = decodeTBSCertificateBody(inner)
			return err
		})
		if err != nil {
			return err
		}
		c.TBS = tbs

		var sigOID asn1der.ObjectIdentifier
		err = r.ReadSequence(func(r *asn1der.Reader) error {
			oid, err := r.ReadObjectIdentifier()
			if err != nil {
				return err
			}
			sigOID = oid
			if !r.Empty() {
				if _, _, err := r.ReadAnyElement(); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		hashType, err := signature.FromOID(sigOID)
		if err != nil {
			return err
		}
		if hashType != tbs.SignatureAlgorithm {
			return pkierrors.NewCodecError("Certificate", errSignatureAlgorithmMismatch)
		}
		c.SignatureAlgorithm = hashType

		sigBits, err := r.ReadBitString()
		if err != nil {
			return err
		}
		c.Signature = sigBits.Bytes
		return nil
	})
	if err != nil {
		return nil, pkierrors.NewCodecError("Certificate", err)
	}
	if err := r.RequireEmpty("Certificate"); err != nil {
		return nil, pkierrors.NewCodecError("Certificate", err)
	}
	c.raw = der
	return &c, nil
}

const errSignatureAlgorithmMismatch = certError("tbsCertificate.signature does not match the outer signatureAlgorithm")

// Cert is a fully-assembled, signed certificate together with its raw DER,
// so Verify can check the signature over exactly the bytes that were
// parsed or built rather than a re-encoding of them.
type Cert struct {
	TBS                TBSCertificate
	SignatureAlgorithm signature.HashType
	Signature          []byte

	raw    []byte
	rawTBS []byte
}

// DER returns the full, signed certificate's DER encoding.
func (c *Cert) DER() []byte {
	return c.raw
}

// ToPEM encodes the certificate as a PEM "CERTIFICATE" block.
func (c *Cert) ToPEM() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: pemCertificateType, Bytes: c.raw})
}

// ParseCertificatePEM decodes a PEM "CERTIFICATE" block and parses its DER
// contents.
func ParseCertificatePEM(data []byte) (*Cert, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, pkierrors.NewCodecError("Certificate PEM", errNoCertificatePEMBlock)
	}
	return ParseCertificate(block.Bytes)
}

const errNoCertificatePEMBlock = certError("no PEM block found")

// Type classifies the certificate per spec section 3.
func (c *Cert) Type() Type {
	if c.TBS.BasicConstraints == nil {
		return TypeUnknown
	}
	if !c.TBS.BasicConstraints.CA {
		return TypeLeaf
	}
	if c.TBS.Subject.Equal(c.TBS.Issuer) {
		return TypeRoot
	}
	return TypeIntermediate
}

// SKI returns the certificate's SubjectKeyIdentifier, or nil if absent.
func (c *Cert) SKI() []byte { return c.TBS.SubjectKeyIdentifier }

// AKI returns the certificate's AuthorityKeyIdentifier keyIdentifier field,
// or nil if the extension is absent or carries no keyIdentifier.
func (c *Cert) AKI() []byte {
	if c.TBS.AuthorityKeyIdentifier == nil {
		return nil
	}
	return c.TBS.AuthorityKeyIdentifier.KeyIdentifier
}

// BasicConstraints returns the certificate's BasicConstraints, or the zero
// value with ok=false if the extension is absent.
func (c *Cert) BasicConstraints() (BasicConstraints, bool) {
	if c.TBS.BasicConstraints == nil {
		return BasicConstraints{}, false
	}
	return *c.TBS.BasicConstraints, true
}

// Subject returns the certificate's subject Name.
func (c *Cert) Subject() Name { return c.TBS.Subject }

// Issuer returns the certificate's issuer Name.
func (c *Cert) Issuer() Name { return c.TBS.Issuer }

// PublicKey returns the certificate's subject public key.
func (c *Cert) PublicKey() *keys.PublicKey { return c.TBS.SubjectPublicKey }

// Validity returns the certificate's notBefore/notAfter bound.
func (c *Cert) Validity() Validity { return c.TBS.Validity }

// VerifySignature checks this certificate's signature against issuerKey,
// returning pkierrors.BadSignature on mismatch (wrapped by chainverify with
// the certificate's subject when used in a chain walk).
func (c *Cert) VerifySignature(issuerKey *keys.PublicKey) error {
	return signature.Verify(issuerKey, c.SignatureAlgorithm, c.rawTBS, c.Signature)
}

// generateSerialNumber returns a random positive serial number. Unlike
// ca/ca.go's 136-bit scheme (which reserves bytes for a backdating/CT-shard
// encoding this service has no use for), spec section 4.5 step 4 asks for a
// plain random serial; 4 bytes keeps the value trivially within INTEGER's
// positive range while remaining collision-resistant for a single CA's
// issuance volume.
func generateSerialNumber() (*big.Int, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return nil, pkierrors.NoSecureRandomness
	}
	buf[0] &= 0x7f // keep the INTEGER non-negative
	return new(big.Int).SetBytes(buf), nil
}

// ComputeKeyIdentifier computes a key identifier for pub using m, wrapping
// any failure as a CodecError so builder call sites have one error shape to
// check.
func ComputeKeyIdentifier(m keyid.Method, pub *keys.PublicKey) ([]byte, error) {
	id, err := keyid.Generate(m, pub)
	if err != nil {
		return nil, pkierrors.NewCodecError("key identifier", err)
	}
	return id, nil
}
