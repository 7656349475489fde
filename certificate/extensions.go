package certificate

import (
	"math/big"
	"net"

	"github.com/pickyca/picky-ca/asn1der"
	"github.com/pickyca/picky-ca/identifier"
	"github.com/pickyca/picky-ca/pkierrors"
)

var (
	oidBasicConstraints        = asn1der.ObjectIdentifier{2, 5, 29, 19}
	oidKeyUsage                = asn1der.ObjectIdentifier{2, 5, 29, 15}
	oidExtKeyUsage             = asn1der.ObjectIdentifier{2, 5, 29, 37}
	oidSubjectAltName          = asn1der.ObjectIdentifier{2, 5, 29, 17}
	oidIssuerAltName           = asn1der.ObjectIdentifier{2, 5, 29, 18}
	oidSubjectKeyIdentifier    = asn1der.ObjectIdentifier{2, 5, 29, 14}
	oidAuthorityKeyIdentifier  = asn1der.ObjectIdentifier{2, 5, 29, 35}
)

// KeyUsage is the bit set X.509 KeyUsage defines, in the order RFC 5280
// section 4.2.1.3 lists them.
type KeyUsage struct {
	DigitalSignature bool
	NonRepudiation   bool
	KeyEncipherment  bool
	DataEncipherment bool
	KeyAgreement     bool
	KeyCertSign      bool
	CRLSign          bool
	EncipherOnly     bool
	DecipherOnly     bool
}

// CAKeyUsage is the conventional KeyUsage for a CA certificate: only
// keyCertSign and cRLSign set.
func CAKeyUsage() KeyUsage {
	return KeyUsage{KeyCertSign: true, CRLSign: true}
}

func (ku KeyUsage) bits() []bool {
	return []bool{
		ku.DigitalSignature, ku.NonRepudiation, ku.KeyEncipherment,
		ku.DataEncipherment, ku.KeyAgreement, ku.KeyCertSign,
		ku.CRLSign, ku.EncipherOnly, ku.DecipherOnly,
	}
}

func (ku KeyUsage) empty() bool {
	for _, b := range ku.bits() {
		if b {
			return false
		}
	}
	return true
}

func keyUsageFromBits(bits []bool) KeyUsage {
	get := func(i int) bool {
		if i < len(bits) {
			return bits[i]
		}
		return false
	}
	return KeyUsage{
		DigitalSignature: get(0), NonRepudiation: get(1), KeyEncipherment: get(2),
		DataEncipherment: get(3), KeyAgreement: get(4), KeyCertSign: get(5),
		CRLSign: get(6), EncipherOnly: get(7), DecipherOnly: get(8),
	}
}

// ExtendedKeyUsage is the set of EKU OIDs a certificate may carry. Common
// purposes are named as constants; arbitrary OIDs are supported via Extra.
type ExtendedKeyUsage struct {
	ServerAuth      bool
	ClientAuth      bool
	CodeSigning     bool
	EmailProtection bool
	TimeStamping    bool
	OCSPSigning     bool
	Extra           []asn1der.ObjectIdentifier
}

var (
	oidEKUServerAuth      = asn1der.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 1}
	oidEKUClientAuth      = asn1der.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 2}
	oidEKUCodeSigning     = asn1der.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 3}
	oidEKUEmailProtection = asn1der.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 4}
	oidEKUTimeStamping    = asn1der.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 8}
	oidEKUOCSPSigning     = asn1der.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 9}
)

func (e ExtendedKeyUsage) oids() []asn1der.ObjectIdentifier {
	var out []asn1der.ObjectIdentifier
	if e.ServerAuth {
		out = append(out, oidEKUServerAuth)
	}
	if e.ClientAuth {
		out = append(out, oidEKUClientAuth)
	}
	if e.CodeSigning {
		out = append(out, oidEKUCodeSigning)
	}
	if e.EmailProtection {
		out = append(out, oidEKUEmailProtection)
	}
	if e.TimeStamping {
		out = append(out, oidEKUTimeStamping)
	}
	if e.OCSPSigning {
		out = append(out, oidEKUOCSPSigning)
	}
	out = append(out, e.Extra...)
	return out
}

func (e ExtendedKeyUsage) empty() bool { return len(e.oids()) == 0 }

func ekuFromOIDs(oids []asn1der.ObjectIdentifier) ExtendedKeyUsage {
	var eku ExtendedKeyUsage
	for _, oid := range oids {
		switch {
		case oid.Equal(oidEKUServerAuth):
			eku.ServerAuth = true
		case oid.Equal(oidEKUClientAuth):
			eku.ClientAuth = true
		case oid.Equal(oidEKUCodeSigning):
			eku.CodeSigning = true
		case oid.Equal(oidEKUEmailProtection):
			eku.EmailProtection = true
		case oid.Equal(oidEKUTimeStamping):
			eku.TimeStamping = true
		case oid.Equal(oidEKUOCSPSigning):
			eku.OCSPSigning = true
		default:
			eku.Extra = append(eku.Extra, oid)
		}
	}
	return eku
}

// BasicConstraints carries the CA flag and optional pathlen constraint.
type BasicConstraints struct {
	CA      bool
	Pathlen *uint8
}

// AuthorityKeyIdentifier identifies the key used to sign a certificate, by
// the issuer's subject key identifier, and optionally by issuer name and
// serial number (rarely populated by this service, but supported for
// parsing certificates issued by other authorities).
type AuthorityKeyIdentifier struct {
	KeyIdentifier []byte
	Issuer        *Name
	SerialNumber  *big.Int
}

// extension is the generic Extension ::= SEQUENCE { id, critical DEFAULT
// FALSE, value OCTET STRING } shape, used internally while assembling or
// walking a TBSCertificate's extension list.
type extension struct {
	id       asn1der.ObjectIdentifier
	critical bool
	value    []byte
}

func (e extension) encode(w *asn1der.Writer) {
	w.WriteSequence(func(w *asn1der.Writer) {
		w.WriteObjectIdentifier(e.id)
		if e.critical {
			w.WriteBoolean(true)
		}
		w.WriteOctetString(e.value)
	})
}

func decodeExtension(r *asn1der.Reader) (extension, error) {
	var e extension
	err := r.ReadSequence(func(r *asn1der.Reader) error {
		oid, err := r.ReadObjectIdentifier()
		if err != nil {
			return err
		}
		e.id = oid
		if r.PeekTag(asn1der.TagBoolean) {
			crit, err := r.ReadBoolean()
			if err != nil {
				return err
			}
			e.critical = crit
		}
		value, err := r.ReadOctetString()
		if err != nil {
			return err
		}
		e.value = value
		return nil
	})
	return e, err
}

func encodeBasicConstraints(bc BasicConstraints) []byte {
	w := asn1der.NewWriter()
	w.WriteSequence(func(w *asn1der.Writer) {
		if bc.CA {
			w.WriteBoolean(true)
		}
		if bc.Pathlen != nil {
			w.WriteInt64(int64(*bc.Pathlen))
		}
	})
	der, _ := w.Bytes()
	return der
}

func decodeBasicConstraints(value []byte) (BasicConstraints, error) {
	var bc BasicConstraints
	r := asn1der.NewReader(value)
	err := r.ReadSequence(func(r *asn1der.Reader) error {
		if r.PeekTag(asn1der.TagBoolean) {
			ca, err := r.ReadBoolean()
			if err != nil {
				return err
			}
			bc.CA = ca
		}
		if !r.Empty() {
			v, err := r.ReadInt64()
			if err != nil {
				return err
			}
			pl := uint8(v)
			bc.Pathlen = &pl
		}
		return nil
	})
	if err != nil {
		return BasicConstraints{}, pkierrors.NewCodecError("BasicConstraints", err)
	}
	return bc, nil
}

func encodeKeyUsage(ku KeyUsage) []byte {
	bits := ku.bits()
	last := -1
	for i, b := range bits {
		if b {
			last = i
		}
	}
	bitLen := last + 1
	nBytes := (bitLen + 7) / 8
	buf := make([]byte, nBytes)
	for i, b := range bits {
		if i >= bitLen {
			break
		}
		if b {
			buf[i/8] |= 1 << (7 - uint(i%8))
		}
	}
	w := asn1der.NewWriter()
	w.WriteBitString(asn1der.BitString{Bytes: buf, BitLength: bitLen})
	der, _ := w.Bytes()
	return der
}

func decodeKeyUsage(value []byte) (KeyUsage, error) {
	r := asn1der.NewReader(value)
	bs, err := r.ReadBitString()
	if err != nil {
		return KeyUsage{}, pkierrors.NewCodecError("KeyUsage", err)
	}
	bits := make([]bool, bs.BitLength)
	for i := range bits {
		bits[i] = bs.At(i) != 0
	}
	return keyUsageFromBits(bits), nil
}

func encodeExtKeyUsage(eku ExtendedKeyUsage) []byte {
	w := asn1der.NewWriter()
	w.WriteSequence(func(w *asn1der.Writer) {
		for _, oid := range eku.oids() {
			w.WriteObjectIdentifier(oid)
		}
	})
	der, _ := w.Bytes()
	return der
}

func decodeExtKeyUsage(value []byte) (ExtendedKeyUsage, error) {
	r := asn1der.NewReader(value)
	var oids []asn1der.ObjectIdentifier
	err := r.ReadSequence(func(r *asn1der.Reader) error {
		for !r.Empty() {
			oid, err := r.ReadObjectIdentifier()
			if err != nil {
				return err
			}
			oids = append(oids, oid)
		}
		return nil
	})
	if err != nil {
		return ExtendedKeyUsage{}, pkierrors.NewCodecError("ExtendedKeyUsage", err)
	}
	return ekuFromOIDs(oids), nil
}

// tagDNSName and tagIPAddress are the GeneralName CHOICE tag numbers this
// service populates: dNSName [2] IA5String, iPAddress [7] OCTET STRING.
const (
	tagDNSName   = 2
	tagIPAddress = 7
)

func encodeGeneralNames(names identifier.GeneralNames) []byte {
	w := asn1der.NewWriter()
	w.WriteSequence(func(w *asn1der.Writer) {
		for _, n := range names {
			switch n.Type {
			case identifier.TypeDNS:
				w.WriteImplicitBytes(tagDNSName, []byte(n.Value))
			case identifier.TypeIP:
				ip := net.ParseIP(n.Value)
				if ip4 := ip.To4(); ip4 != nil {
					w.WriteImplicitBytes(tagIPAddress, ip4)
				} else {
					w.WriteImplicitBytes(tagIPAddress, ip.To16())
				}
			}
		}
	})
	der, _ := w.Bytes()
	return der
}

func decodeGeneralNames(value []byte) (identifier.GeneralNames, error) {
	r := asn1der.NewReader(value)
	var names identifier.GeneralNames
	err := r.ReadSequence(func(r *asn1der.Reader) error {
		for !r.Empty() {
			dns, ok, err := r.ReadImplicitBytes(tagDNSName)
			if err != nil {
				return err
			}
			if ok {
				names = append(names, identifier.NewDNS(string(dns)))
				continue
			}
			ipb, ok, err := r.ReadImplicitBytes(tagIPAddress)
			if err != nil {
				return err
			}
			if ok {
				names = append(names, identifier.NewIP(net.IP(ipb)))
				continue
			}
			// Any other GeneralName CHOICE this service doesn't populate
			// itself but may encounter while parsing a foreign
			// certificate: skip it without failing the parse.
			if _, _, err := r.ReadAnyElement(); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, pkierrors.NewCodecError("GeneralNames", err)
	}
	return names, nil
}

func encodeSKI(ski []byte) []byte {
	w := asn1der.NewWriter()
	w.WriteOctetString(ski)
	der, _ := w.Bytes()
	return der
}

func decodeSKI(value []byte) ([]byte, error) {
	r := asn1der.NewReader(value)
	ski, err := r.ReadOctetString()
	if err != nil {
		return nil, pkierrors.NewCodecError("SubjectKeyIdentifier", err)
	}
	return ski, nil
}

const (
	akiTagKeyIdentifier = 0
	akiTagIssuer        = 1
	akiTagSerialNumber  = 2
)

func encodeAKI(aki AuthorityKeyIdentifier) []byte {
	w := asn1der.NewWriter()
	w.WriteSequence(func(w *asn1der.Writer) {
		if len(aki.KeyIdentifier) > 0 {
			w.WriteImplicitBytes(akiTagKeyIdentifier, aki.KeyIdentifier)
		}
		if aki.Issuer != nil {
			w.WriteImplicitConstructed(akiTagIssuer, func(w *asn1der.Writer) {
				aki.Issuer.encode(w)
			})
		}
		if aki.SerialNumber != nil {
			w.WriteInteger(aki.SerialNumber)
		}
	})
	der, _ := w.Bytes()
	return der
}

func decodeAKI(value []byte) (AuthorityKeyIdentifier, error) {
	var aki AuthorityKeyIdentifier
	r := asn1der.NewReader(value)
	err := r.ReadSequence(func(r *asn1der.Reader) error {
		kid, ok, err := r.ReadImplicitBytes(akiTagKeyIdentifier)
		if err != nil {
			return err
		}
		if ok {
			aki.KeyIdentifier = kid
		}
		_, ok, err = r.ReadImplicitConstructed(akiTagIssuer, func(inner *asn1der.Reader) error {
			// Issuer GeneralNames are not interpreted by this service; the
			// budget is simply consumed so the remaining fields parse.
			for !inner.Empty() {
				if _, _, err := inner.ReadAnyElement(); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		if !r.Empty() && r.PeekTag(asn1der.TagInteger) {
			sn, err := r.ReadInteger()
			if err != nil {
				return err
			}
			aki.SerialNumber = sn
		}
		return nil
	})
	if err != nil {
		return AuthorityKeyIdentifier{}, pkierrors.NewCodecError("AuthorityKeyIdentifier", err)
	}
	return aki, nil
}
