// Package csr implements the PKCS#10 CertificationRequest model spec
// section 4.6 describes: decode/encode, self-signed generation, and
// self-signature verification. It follows the same manual-ASN.1 approach as
// the certificate package, built on asn1der, and is grounded on the
// original Rust implementation's CSR handling (picky's csr module, whose
// verify()/into_subject_infos() call shape is named directly in spec
// section 4.6) together with boulder's own TBS-then-sign pipeline in
// ca/ca.go as the template for "encode the to-be-signed part once, sign
// exactly those bytes."
package csr

import (
	"github.com/pickyca/picky-ca/asn1der"
	"github.com/pickyca/picky-ca/certificate"
	"github.com/pickyca/picky-ca/keys"
	"github.com/pickyca/picky-ca/pkierrors"
	"github.com/pickyca/picky-ca/signature"
)

// Csr is a parsed or generated PKCS#10 certification request.
type Csr struct {
	Subject            certificate.Name
	SubjectPublicKey   *keys.PublicKey
	SignatureAlgorithm signature.HashType
	Signature          []byte

	rawInfo []byte
}

// FromDER decodes a PKCS#10 CertificationRequest.
//
//	CertificationRequest ::= SEQUENCE {
//	  certificationRequestInfo  CertificationRequestInfo,
//	  signatureAlgorithm        AlgorithmIdentifier,
//	  signature                 BIT STRING
//	}
//
//	CertificationRequestInfo ::= SEQUENCE {
//	  version       INTEGER (0),
//	  subject       Name,
//	  subjectPKInfo SubjectPublicKeyInfo,
//	  attributes    [0] IMPLICIT SET OF Attribute OPTIONAL
//	}
func FromDER(der []byte) (*Csr, error) {
	r := asn1der.NewReader(der)
	var c Csr
	err := r.ReadSequence(func(r *asn1der.Reader) error {
		rawInfo, _, err := r.ReadAnyElement()
		if err != nil {
			return err
		}
		c.rawInfo = rawInfo

		infoReader := asn1der.NewReader(rawInfo)
		err = infoReader.ReadSequence(func(inner *asn1der.Reader) error {
			v, err := inner.ReadInt64()
			if err != nil {
				return err
			}
			if v != 0 {
				return errUnsupportedVersion
			}
			subject, err := certificate.DecodeName(inner)
			if err != nil {
				return err
			}
			c.Subject = subject

			spkiDER, _, err := inner.ReadAnyElement()
			if err != nil {
				return err
			}
			pub, err := keys.PublicKeyFromDER(spkiDER)
			if err != nil {
				return err
			}
			c.SubjectPublicKey = pub

			// attributes [0] IMPLICIT SET OF Attribute, not interpreted by
			// this service; consume if present so trailing-byte checks pass.
			_, err = inner.ReadImplicitConstructed(0, func(attrs *asn1der.Reader) error {
				for !attrs.Empty() {
					if _, _, err := attrs.ReadAnyElement(); err != nil {
						return err
					}
				}
				return nil
			})
			return err
		})
		if err != nil {
			return err
		}

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
		c.SignatureAlgorithm = hashType

		sigBits, err := r.ReadBitString()
		if err != nil {
			return err
		}
		c.Signature = sigBits.Bytes
		return nil
	})
	if err != nil {
		return nil, pkierrors.NewCodecError("CertificationRequest", err)
	}
	if err := r.RequireEmpty("CertificationRequest"); err != nil {
		return nil, pkierrors.NewCodecError("CertificationRequest", err)
	}
	return &c, nil
}

// ToDER encodes the CSR, including its signature, as PKCS#10 DER.
func (c *Csr) ToDER() ([]byte, error) {
	w := asn1der.NewWriter()
	sigOID, err := c.SignatureAlgorithm.OID()
	if err != nil {
		return nil, err
	}
	w.WriteSequence(func(w *asn1der.Writer) {
		w.WriteRaw(c.rawInfo)
		w.WriteSequence(func(w *asn1der.Writer) {
			w.WriteObjectIdentifier(sigOID)
			w.WriteRaw([]byte{0x05, 0x00})
		})
		w.WriteBitString(asn1derBitString(c.Signature))
	})
	return w.Bytes()
}

func asn1derBitString(b []byte) asn1der.BitString {
	return asn1der.BitString{Bytes: b, BitLength: len(b) * 8}
}

// Verify recomputes the CSR's self-signature over its
// CertificationRequestInfo using the CSR's own subject public key, per spec
// section 4.6's Csr.verify(). Returns pkierrors.BadSignature on mismatch.
func (c *Csr) Verify() error {
	return signature.Verify(c.SubjectPublicKey, c.SignatureAlgorithm, c.rawInfo, c.Signature)
}

// IntoSubjectInfos extracts the (Name, PublicKey) pair a certificate.Builder
// needs from this CSR, per spec section 4.6's Csr.into_subject_infos().
func (c *Csr) IntoSubjectInfos() (certificate.Name, *keys.PublicKey) {
	return c.Subject, c.SubjectPublicKey
}

// Generate builds a new CSR for name and self-signs it with priv under algo,
// per spec section 4.6's Csr.generate(name, private_key, algo).
func Generate(name certificate.Name, priv *keys.PrivateKey, algo signature.HashType) (*Csr, error) {
	pub := keys.NewPublicKey(&priv.PublicKey)
	spkiDER, err := pub.ToDER()
	if err != nil {
		return nil, err
	}

	w := asn1der.NewWriter()
	w.WriteSequence(func(w *asn1der.Writer) {
		w.WriteInt64(0)
		name.Encode(w)
		w.WriteRaw(spkiDER)
		w.WriteImplicitConstructed(0, func(w *asn1der.Writer) {})
	})
	rawInfo, err := w.Bytes()
	if err != nil {
		return nil, pkierrors.NewCodecError("CertificationRequestInfo", err)
	}

	sig, err := signature.Sign(priv, algo, rawInfo)
	if err != nil {
		return nil, err
	}

	return &Csr{
		Subject:            name,
		SubjectPublicKey:   pub,
		SignatureAlgorithm: algo,
		Signature:          sig,
		rawInfo:            rawInfo,
	}, nil
}

type csrError string

func (e csrError) Error() string { return string(e) }

const errUnsupportedVersion = csrError("unsupported CertificationRequestInfo version, only 0 is supported")
