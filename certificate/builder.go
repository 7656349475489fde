package certificate

import (
	"time"

	"github.com/pickyca/picky-ca/asn1der"
	"github.com/pickyca/picky-ca/identifier"
	"github.com/pickyca/picky-ca/keyid"
	"github.com/pickyca/picky-ca/keys"
	"github.com/pickyca/picky-ca/pkierrors"
	"github.com/pickyca/picky-ca/signature"
)

// CSRLike is the capability Builder needs from a CSR: verify its
// self-signature and extract the (Name, PublicKey) pair to certify. It is
// an interface rather than a concrete dependency on the csr package so that
// csr (which needs certificate.Name) doesn't form an import cycle with
// certificate; csr.Csr satisfies this interface without either package
// needing to know about the other's internals.
type CSRLike interface {
	Verify() error
	IntoSubjectInfos() (Name, *keys.PublicKey)
}

// SubjectInfos selects how a builder's subject Name and public key are
// derived, per spec section 4.5: either from a verified CSR, or supplied
// directly as a Name and PublicKey pair.
type SubjectInfos struct {
	csr     CSRLike
	name    Name
	pub     *keys.PublicKey
	fromCSR bool
	set     bool
}

// FromCSR builds SubjectInfos that extracts subject and key from csr, after
// verifying its self-signature.
func FromCSR(csr CSRLike) SubjectInfos {
	return SubjectInfos{csr: csr, fromCSR: true, set: true}
}

// FromNameAndPublicKey builds SubjectInfos from an explicit name and key.
func FromNameAndPublicKey(name Name, pub *keys.PublicKey) SubjectInfos {
	return SubjectInfos{name: name, pub: pub, set: true}
}

// IssuerInfos selects the issuer identity and signing key a builder uses,
// per spec section 4.5: self-signed (issuer == subject, default name/key
// from the issuer itself) or an authority issuing on behalf of a subject.
type IssuerInfos struct {
	name       Name
	key        *keys.PrivateKey
	aki        []byte
	selfSigned bool
	set        bool
}

// SelfSigned builds IssuerInfos for a self-signed certificate (typically a
// root CA): the certificate's issuer equals its subject, and if the builder
// has no SubjectInfos set, the subject defaults to this same name and key.
func SelfSigned(name Name, key *keys.PrivateKey) IssuerInfos {
	return IssuerInfos{name: name, key: key, selfSigned: true, set: true}
}

// Authority builds IssuerInfos for an authority issuing on behalf of a
// distinct subject: aki is the issuer's own SubjectKeyIdentifier, recorded
// in the issued certificate's AuthorityKeyIdentifier extension.
func Authority(name Name, key *keys.PrivateKey, aki []byte) IssuerInfos {
	return IssuerInfos{name: name, key: key, aki: aki, set: true}
}

// Builder is a fluent, single-shot certificate builder: each With* method
// returns the same *Builder for chaining, and Build consumes the
// accumulated configuration to produce one signed Cert. Calling Build twice
// on the same Builder is an error, matching spec section 4.5's "build()
// consumes the pending configuration."
type Builder struct {
	validity Validity
	issuer   IssuerInfos
	subject  SubjectInfos

	ca               bool
	pathlen          *uint8
	sigHashType      signature.HashType
	keyIDMethod      keyid.Method
	keyUsage         *KeyUsage
	extKeyUsage      *ExtendedKeyUsage
	subjectAltName   identifier.GeneralNames
	issuerAltName    identifier.GeneralNames

	built bool
}

// NewBuilder returns a Builder with the defaults spec section 4.5 names:
// ca=false, pathlen absent, signature_hash_type=RsaSha256,
// key_id_gen_method=SPKFullDER(Sha256), and no KeyUsage/ExtendedKeyUsage/
// SAN/IAN.
func NewBuilder() *Builder {
	return &Builder{
		sigHashType: signature.RsaSha256,
		keyIDMethod: keyid.SPKFullDER(keyid.Sha256),
	}
}

// WithValidity sets the required notBefore/notAfter bound.
func (b *Builder) WithValidity(from, to time.Time) *Builder {
	b.validity = Validity{NotBefore: from, NotAfter: to}
	return b
}

// WithIssuer sets the required issuer infos.
func (b *Builder) WithIssuer(i IssuerInfos) *Builder {
	b.issuer = i
	return b
}

// WithSubject sets the subject infos. If never called and the issuer is
// self-signed, Build defaults the subject to the issuer's own name and the
// public key derived from the issuer's private key.
func (b *Builder) WithSubject(s SubjectInfos) *Builder {
	b.subject = s
	return b
}

// WithCA sets the BasicConstraints ca flag.
func (b *Builder) WithCA(ca bool) *Builder {
	b.ca = ca
	return b
}

// WithPathlen sets the BasicConstraints pathlen constraint.
func (b *Builder) WithPathlen(pathlen uint8) *Builder {
	b.pathlen = &pathlen
	return b
}

// WithSignatureHashType overrides the default RsaSha256 signing algorithm.
func (b *Builder) WithSignatureHashType(h signature.HashType) *Builder {
	b.sigHashType = h
	return b
}

// WithKeyIDMethod overrides the default SPKFullDER(Sha256) key identifier method.
func (b *Builder) WithKeyIDMethod(m keyid.Method) *Builder {
	b.keyIDMethod = m
	return b
}

// WithKeyUsage sets the KeyUsage extension.
func (b *Builder) WithKeyUsage(ku KeyUsage) *Builder {
	b.keyUsage = &ku
	return b
}

// WithExtendedKeyUsage sets the ExtendedKeyUsage extension.
func (b *Builder) WithExtendedKeyUsage(eku ExtendedKeyUsage) *Builder {
	b.extKeyUsage = &eku
	return b
}

// WithSubjectAltName sets the SubjectAltName extension.
func (b *Builder) WithSubjectAltName(san identifier.GeneralNames) *Builder {
	b.subjectAltName = san
	return b
}

// WithIssuerAltName sets the IssuerAltName extension.
func (b *Builder) WithIssuerAltName(ian identifier.GeneralNames) *Builder {
	b.issuerAltName = ian
	return b
}

// Build assembles, signs, and returns the configured certificate, following
// spec section 4.5's build algorithm. It consumes the builder: a second
// call returns MissingBuilderArgument("builder already consumed").
func (b *Builder) Build() (*Cert, error) {
	if b.built {
		return nil, &pkierrors.MissingBuilderArgument{Arg: "builder already consumed"}
	}
	if b.validity.NotBefore.IsZero() && b.validity.NotAfter.IsZero() {
		return nil, &pkierrors.MissingBuilderArgument{Arg: "validity"}
	}
	if !b.issuer.set {
		return nil, &pkierrors.MissingBuilderArgument{Arg: "issuer_infos"}
	}

	subject := b.subject
	if !subject.set {
		if !b.issuer.selfSigned {
			return nil, &pkierrors.MissingBuilderArgument{Arg: "subject_infos"}
		}
		// Self-signed with no explicit subject: subject defaults to the
		// issuer's own name and key, per spec section 4.5.
		subject = FromNameAndPublicKey(b.issuer.name, keys.NewPublicKey(&b.issuer.key.PublicKey))
	}

	var subjectName Name
	var subjectPub *keys.PublicKey
	if subject.fromCSR {
		if err := subject.csr.Verify(); err != nil {
			return nil, pkierrors.InvalidCsrSignature
		}
		subjectName, subjectPub = subject.csr.IntoSubjectInfos()
	} else {
		subjectName, subjectPub = subject.name, subject.pub
	}

	ski, err := ComputeKeyIdentifier(b.keyIDMethod, subjectPub)
	if err != nil {
		return nil, err
	}

	var bc *BasicConstraints
	if b.ca || b.pathlen != nil {
		bc = &BasicConstraints{CA: b.ca, Pathlen: b.pathlen}
	} else {
		bc = &BasicConstraints{CA: false}
	}

	var aki *AuthorityKeyIdentifier
	if b.issuer.selfSigned {
		aki = &AuthorityKeyIdentifier{KeyIdentifier: ski}
	} else {
		aki = &AuthorityKeyIdentifier{KeyIdentifier: b.issuer.aki}
	}

	serial, err := generateSerialNumber()
	if err != nil {
		return nil, err
	}

	issuerName := b.issuer.name
	if b.issuer.selfSigned {
		issuerName = subjectName
	}

	tbs := TBSCertificate{
		SerialNumber:           serial,
		SignatureAlgorithm:     b.sigHashType,
		Issuer:                 issuerName,
		Validity:               b.validity,
		Subject:                subjectName,
		SubjectPublicKey:       subjectPub,
		BasicConstraints:       bc,
		KeyUsage:               b.keyUsage,
		ExtendedKeyUsage:       b.extKeyUsage,
		SubjectAltName:         b.subjectAltName,
		IssuerAltName:          b.issuerAltName,
		SubjectKeyIdentifier:   ski,
		AuthorityKeyIdentifier: aki,
	}

	w := asn1der.NewWriter()
	if err := tbs.encode(w); err != nil {
		return nil, err
	}
	rawTBS, err := w.Bytes()
	if err != nil {
		return nil, pkierrors.NewCodecError("TBSCertificate", err)
	}

	sig, err := signature.Sign(b.issuer.key, b.sigHashType, rawTBS)
	if err != nil {
		return nil, err
	}

	outer := asn1der.NewWriter()
	sigOID, err := b.sigHashType.OID()
	if err != nil {
		return nil, err
	}
	outer.WriteSequence(func(w *asn1der.Writer) {
		w.WriteRaw(rawTBS)
		w.WriteSequence(func(w *asn1der.Writer) {
			w.WriteObjectIdentifier(sigOID)
			w.WriteRaw([]byte{0x05, 0x00})
		})
		w.WriteBitString(asn1der.BitString{Bytes: sig, BitLength: len(sig) * 8})
	})
	raw, err := outer.Bytes()
	if err != nil {
		return nil, pkierrors.NewCodecError("Certificate", err)
	}

	b.built = true
	return &Cert{
		TBS:                tbs,
		SignatureAlgorithm: b.sigHashType,
		Signature:          sig,
		raw:                raw,
		rawTBS:             rawTBS,
	}, nil
}
