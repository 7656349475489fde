package certificate

import (
	"github.com/pickyca/picky-ca/asn1der"
	"github.com/pickyca/picky-ca/pkierrors"
)

// commonNameOID is id-at-commonName, 2.5.4.3.
var commonNameOID = asn1der.ObjectIdentifier{2, 5, 4, 3}

// Name is an X.509 Name: an ordered sequence of RelativeDistinguishedNames.
// Every subject and issuer this service builds carries exactly one RDN with
// a single CommonName attribute, matching spec section 3's Name definition;
// Name stores only that CommonName value rather than a general RDN set.
type Name struct {
	CommonName string
}

// String renders the Name's display form, "CN=<value>".
func (n Name) String() string {
	return "CN=" + n.CommonName
}

// Equal reports whether two Names carry the same CommonName.
func (n Name) Equal(o Name) bool {
	return n.CommonName == o.CommonName
}

// Encode writes the Name as:
//
//	Name ::= SEQUENCE OF RelativeDistinguishedName
//	RelativeDistinguishedName ::= SET OF AttributeTypeAndValue
//	AttributeTypeAndValue ::= SEQUENCE { type OBJECT IDENTIFIER, value UTF8String }
func (n Name) Encode(w *asn1der.Writer) {
	n.encode(w)
}

func (n Name) encode(w *asn1der.Writer) {
	w.WriteSequence(func(w *asn1der.Writer) {
		w.WriteSet(func(w *asn1der.Writer) {
			w.WriteSequence(func(w *asn1der.Writer) {
				w.WriteObjectIdentifier(commonNameOID)
				w.WriteUTF8String(n.CommonName)
			})
		})
	})
}

// DecodeName reads a Name and keeps its CommonName value. Every RDN must hold
// exactly one attribute; attributes of other types are read and skipped. A
// Name with no RDN, or with no CommonName attribute, is rejected.
func DecodeName(r *asn1der.Reader) (Name, error) {
	return decodeName(r)
}

func decodeName(r *asn1der.Reader) (Name, error) {
	var name Name
	err := r.ReadSequence(func(r *asn1der.Reader) error {
		if r.Empty() {
			return pkierrors.NewCodecError("Name", errEmptyName)
		}
		found := false
		for !r.Empty() {
			err := r.ReadSet(func(r *asn1der.Reader) error {
				return r.ReadSequence(func(r *asn1der.Reader) error {
					oid, err := r.ReadObjectIdentifier()
					if err != nil {
						return err
					}
					value, err := r.ReadAnyString()
					if err != nil {
						return err
					}
					if oid.Equal(commonNameOID) {
						name.CommonName = value
						found = true
					}
					return nil
				})
			})
			if err != nil {
				return err
			}
		}
		if !found {
			return pkierrors.NewCodecError("Name", errNoCommonName)
		}
		return nil
	})
	if err != nil {
		return Name{}, pkierrors.NewCodecError("Name", err)
	}
	return name, nil
}

type nameError string

func (e nameError) Error() string { return string(e) }

const (
	errEmptyName    = nameError("Name has no RelativeDistinguishedNames")
	errNoCommonName = nameError("Name has no CommonName attribute")
)
