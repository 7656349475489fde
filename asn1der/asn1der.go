// Package asn1der is a small DER (Distinguished Encoding Rules) codec for
// the handful of ASN.1 constructs the CA engine needs: SEQUENCE, SET,
// INTEGER, OCTET STRING, BIT STRING, OBJECT IDENTIFIER, the three string
// types used by X.509 Names, UTCTime/GeneralizedTime, booleans, and
// explicit/implicit context tags.
//
// It is built directly on golang.org/x/crypto/cryptobyte, the same
// bounds-checked TLV primitive the teacher codebase reaches for whenever it
// needs to walk DER by hand instead of through encoding/asn1's reflection
// (see boulder's ca.go, tbsCertIsDeterministic). cryptobyte already refuses
// non-minimal lengths and non-minimal integer encodings, so building on top
// of it -- rather than re-deriving TLV framing from scratch -- gets the DER
// canonicality rules spec section 4.1 asks for without reinventing them.
package asn1der

import (
	"fmt"
	"math/big"
	"time"

	"golang.org/x/crypto/cryptobyte"
	cryptobyte_asn1 "golang.org/x/crypto/cryptobyte/asn1"

	stdasn1 "encoding/asn1"
)

// Well-known universal tags, exported for callers that need to branch on the
// next element's tag before deciding how to read it (e.g. the CSR/PKIX
// public key algorithm-specific parsing).
const (
	TagBoolean         = cryptobyte_asn1.BOOLEAN
	TagInteger         = cryptobyte_asn1.INTEGER
	TagBitString       = cryptobyte_asn1.BIT_STRING
	TagOctetString     = cryptobyte_asn1.OCTET_STRING
	TagNull            = cryptobyte_asn1.NULL
	TagOID             = cryptobyte_asn1.OBJECT_IDENTIFIER
	TagUTF8String      = cryptobyte_asn1.Tag(0x0c)
	TagPrintableString = cryptobyte_asn1.Tag(0x13)
	TagIA5String       = cryptobyte_asn1.Tag(0x16)
	TagUTCTime         = cryptobyte_asn1.UTCTime
	TagGeneralizedTime = cryptobyte_asn1.GeneralizedTime
	TagSequence        = cryptobyte_asn1.SEQUENCE
	TagSet             = cryptobyte_asn1.SET
)

// ObjectIdentifier is re-exported so callers don't need a second import for
// what is, structurally, just a slice of ints with a String method.
type ObjectIdentifier = stdasn1.ObjectIdentifier

// BitString mirrors encoding/asn1's representation: raw bytes plus a count
// of valid bits, so the "unused bits" trailing byte round-trips exactly.
type BitString = stdasn1.BitString

// FormatError is returned for any malformed or non-canonical DER input.
type FormatError struct {
	Context string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("malformed DER: %s", e.Context)
}

func errf(format string, args ...interface{}) error {
	return &FormatError{Context: fmt.Sprintf(format, args...)}
}

// Reader reads DER-encoded values from a byte budget. The zero Reader over
// a nil string is empty.
type Reader struct {
	s cryptobyte.String
}

// NewReader wraps der for reading.
func NewReader(der []byte) *Reader {
	return &Reader{s: cryptobyte.String(der)}
}

// Empty reports whether every byte in the reader's budget has been consumed.
func (r *Reader) Empty() bool { return len(r.s) == 0 }

// Rest returns the unconsumed bytes.
func (r *Reader) Rest() []byte { return []byte(r.s) }

// RequireEmpty returns a FormatError carrying the given context if bytes
// remain unconsumed. Call this after decoding a top-level structure so
// trailing bytes are rejected per spec section 4.1.
func (r *Reader) RequireEmpty(context string) error {
	if !r.Empty() {
		return errf("%s: %d trailing bytes", context, len(r.s))
	}
	return nil
}

// ReadSequence reads a SEQUENCE and hands a length-bounded Reader for its
// contents to fn. fn must consume exactly the inner budget; any bytes it
// leaves unconsumed are reported as trailing bytes by ReadSequence, matching
// spec section 4.1's "sub-sequences present a length-bounded view" rule.
func (r *Reader) ReadSequence(fn func(inner *Reader) error) error {
	return r.readConstructed(TagSequence, "SEQUENCE", fn)
}

// ReadSet reads a SET and hands a length-bounded Reader for its contents to fn.
func (r *Reader) ReadSet(fn func(inner *Reader) error) error {
	return r.readConstructed(TagSet, "SET", fn)
}

func (r *Reader) readConstructed(tag cryptobyte_asn1.Tag, name string, fn func(inner *Reader) error) error {
	var body cryptobyte.String
	if !r.s.ReadASN1(&body, tag) {
		return errf("expected %s", name)
	}
	inner := &Reader{s: body}
	if err := fn(inner); err != nil {
		return err
	}
	return inner.RequireEmpty(name)
}

// PeekTag reports whether the next element carries the given tag, without
// consuming it.
func (r *Reader) PeekTag(tag cryptobyte_asn1.Tag) bool {
	return r.s.PeekASN1Tag(tag)
}

// ReadAnyElement reads the next TLV verbatim (tag, length, and contents),
// used when a caller needs to re-serialize a value it doesn't otherwise
// understand (e.g. an unrecognized extension's value).
func (r *Reader) ReadAnyElement() ([]byte, cryptobyte_asn1.Tag, error) {
	var out cryptobyte.String
	var tag cryptobyte_asn1.Tag
	if !r.s.ReadAnyASN1Element(&out, &tag) {
		return nil, 0, errf("expected any element")
	}
	return []byte(out), tag, nil
}

// ReadBoolean reads a DER BOOLEAN (0x00 or 0xff byte only).
func (r *Reader) ReadBoolean() (bool, error) {
	var v bool
	if !r.s.ReadASN1Boolean(&v) {
		return false, errf("expected BOOLEAN")
	}
	return v, nil
}

// ReadInteger reads an arbitrary-precision DER INTEGER.
func (r *Reader) ReadInteger() (*big.Int, error) {
	v := new(big.Int)
	if !r.s.ReadASN1Integer(v) {
		return nil, errf("expected INTEGER")
	}
	return v, nil
}

// ReadInt64 reads a DER INTEGER known to fit in an int64 (e.g. a version
// number or a small enumerated pathlen-like field).
func (r *Reader) ReadInt64() (int64, error) {
	var v int64
	if !r.s.ReadASN1Integer(&v) {
		return 0, errf("expected small INTEGER")
	}
	return v, nil
}

// ReadOctetString reads a DER OCTET STRING.
func (r *Reader) ReadOctetString() ([]byte, error) {
	var out []byte
	if !r.s.ReadASN1Bytes(&out, TagOctetString) {
		return nil, errf("expected OCTET STRING")
	}
	return out, nil
}

// ReadBitString reads a DER BIT STRING, including its unused-bits byte.
func (r *Reader) ReadBitString() (BitString, error) {
	var out BitString
	if !r.s.ReadASN1BitString(&out) {
		return BitString{}, errf("expected BIT STRING")
	}
	return out, nil
}

// ReadObjectIdentifier reads a DER OBJECT IDENTIFIER.
func (r *Reader) ReadObjectIdentifier() (ObjectIdentifier, error) {
	var out ObjectIdentifier
	if !r.s.ReadASN1ObjectIdentifier(&out) {
		return nil, errf("expected OBJECT IDENTIFIER")
	}
	return out, nil
}

// ReadPrintableString reads a DER PrintableString.
func (r *Reader) ReadPrintableString() (string, error) {
	var out []byte
	if !r.s.ReadASN1Bytes(&out, TagPrintableString) {
		return "", errf("expected PrintableString")
	}
	return string(out), nil
}

// ReadUTF8String reads a DER UTF8String.
func (r *Reader) ReadUTF8String() (string, error) {
	var out []byte
	if !r.s.ReadASN1Bytes(&out, TagUTF8String) {
		return "", errf("expected UTF8String")
	}
	return string(out), nil
}

// ReadIA5String reads a DER IA5String.
func (r *Reader) ReadIA5String() (string, error) {
	var out []byte
	if !r.s.ReadASN1Bytes(&out, TagIA5String) {
		return "", errf("expected IA5String")
	}
	return string(out), nil
}

// ReadAnyString reads whichever of PrintableString/UTF8String/IA5String is
// next, returning the decoded value. X.509 Name attributes are permitted to
// use any DirectoryString choice; callers that only care about the text
// (e.g. the CommonName-only Name model spec section 3 describes) use this.
func (r *Reader) ReadAnyString() (string, error) {
	switch {
	case r.s.PeekASN1Tag(TagPrintableString):
		return r.ReadPrintableString()
	case r.s.PeekASN1Tag(TagUTF8String):
		return r.ReadUTF8String()
	case r.s.PeekASN1Tag(TagIA5String):
		return r.ReadIA5String()
	default:
		return "", errf("expected a DirectoryString (PrintableString/UTF8String/IA5String)")
	}
}

// ReadUTCTime reads a DER UTCTime.
func (r *Reader) ReadUTCTime() (time.Time, error) {
	var out time.Time
	if !r.s.ReadASN1UTCTime(&out) {
		return time.Time{}, errf("expected UTCTime")
	}
	return out, nil
}

// ReadGeneralizedTime reads a DER GeneralizedTime.
func (r *Reader) ReadGeneralizedTime() (time.Time, error) {
	var out time.Time
	if !r.s.ReadASN1GeneralizedTime(&out) {
		return time.Time{}, errf("expected GeneralizedTime")
	}
	return out, nil
}

// ReadTime reads whichever of UTCTime/GeneralizedTime is next, matching
// X.509's Time CHOICE.
func (r *Reader) ReadTime() (time.Time, error) {
	switch {
	case r.s.PeekASN1Tag(TagUTCTime):
		return r.ReadUTCTime()
	case r.s.PeekASN1Tag(TagGeneralizedTime):
		return r.ReadGeneralizedTime()
	default:
		return time.Time{}, errf("expected a Time (UTCTime/GeneralizedTime)")
	}
}

// ReadExplicit reads an explicit context-specific tag (e.g. [0] EXPLICIT
// Version ::= INTEGER) and hands the unwrapped contents to fn as a
// length-bounded Reader. Returns ok=false without error if the tag is not
// present, for OPTIONAL/DEFAULT elision (spec section 4.1).
func (r *Reader) ReadExplicit(tagNumber int, fn func(inner *Reader) error) (bool, error) {
	tag := cryptobyte_asn1.Tag(tagNumber).Constructed().ContextSpecific()
	if !r.s.PeekASN1Tag(tag) {
		return false, nil
	}
	var body cryptobyte.String
	if !r.s.ReadASN1(&body, tag) {
		return false, errf("malformed explicit [%d]", tagNumber)
	}
	inner := &Reader{s: body}
	if err := fn(inner); err != nil {
		return false, err
	}
	return true, inner.RequireEmpty(fmt.Sprintf("explicit [%d]", tagNumber))
}

// ReadImplicitBytes reads an implicit, primitive context-specific tag as raw
// bytes (used for things like AuthorityKeyIdentifier's [0] keyIdentifier,
// which is IMPLICIT OCTET STRING).
func (r *Reader) ReadImplicitBytes(tagNumber int) ([]byte, bool, error) {
	tag := cryptobyte_asn1.Tag(tagNumber).ContextSpecific()
	if !r.s.PeekASN1Tag(tag) {
		return nil, false, nil
	}
	var out []byte
	if !r.s.ReadASN1Bytes(&out, tag) {
		return nil, false, errf("malformed implicit [%d]", tagNumber)
	}
	return out, true, nil
}

// ReadImplicitConstructed reads an implicit, constructed context-specific
// tag (e.g. GeneralName's otherName/directoryName choices inside a SAN) and
// hands its contents to fn.
func (r *Reader) ReadImplicitConstructed(tagNumber int, fn func(inner *Reader) error) (bool, error) {
	tag := cryptobyte_asn1.Tag(tagNumber).Constructed().ContextSpecific()
	if !r.s.PeekASN1Tag(tag) {
		return false, nil
	}
	var body cryptobyte.String
	if !r.s.ReadASN1(&body, tag) {
		return false, errf("malformed implicit constructed [%d]", tagNumber)
	}
	inner := &Reader{s: body}
	if err := fn(inner); err != nil {
		return false, err
	}
	return true, inner.RequireEmpty(fmt.Sprintf("implicit constructed [%d]", tagNumber))
}

// Writer builds DER-encoded values.
type Writer struct {
	b *cryptobyte.Builder
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer {
	return &Writer{b: cryptobyte.NewBuilder(nil)}
}

// Bytes returns the accumulated DER bytes, or an error if any Write call
// failed (e.g. an out-of-range OID arc).
func (w *Writer) Bytes() ([]byte, error) {
	return w.b.Bytes()
}

// WriteSequence appends a SEQUENCE wrapping whatever fn writes.
func (w *Writer) WriteSequence(fn func(inner *Writer)) {
	w.b.AddASN1(TagSequence, func(b *cryptobyte.Builder) {
		fn(&Writer{b: b})
	})
}

// WriteSet appends a SET wrapping whatever fn writes. Per DER, SET OF
// elements must be sorted by encoding; callers that build a SET with more
// than one member are responsible for pre-sorting (see certificate's Name
// encoding, whose single RDN SET never holds more than one member).
func (w *Writer) WriteSet(fn func(inner *Writer)) {
	w.b.AddASN1(TagSet, func(b *cryptobyte.Builder) {
		fn(&Writer{b: b})
	})
}

// WriteBoolean appends a DER BOOLEAN.
func (w *Writer) WriteBoolean(v bool) { w.b.AddASN1Boolean(v) }

// WriteInteger appends an arbitrary-precision DER INTEGER.
func (w *Writer) WriteInteger(v *big.Int) { w.b.AddASN1BigInt(v) }

// WriteInt64 appends a DER INTEGER from an int64.
func (w *Writer) WriteInt64(v int64) { w.b.AddASN1Int64(v) }

// WriteOctetString appends a DER OCTET STRING.
func (w *Writer) WriteOctetString(v []byte) { w.b.AddASN1OctetString(v) }

// WriteBitString appends a DER BIT STRING, computing the unused-bits byte
// from bs.BitLength.
func (w *Writer) WriteBitString(bs BitString) {
	w.b.AddASN1(TagBitString, func(b *cryptobyte.Builder) {
		unused := byte(len(bs.Bytes)*8 - bs.BitLength)
		b.AddUint8(unused)
		b.AddBytes(bs.Bytes)
	})
}

// WriteObjectIdentifier appends a DER OBJECT IDENTIFIER.
func (w *Writer) WriteObjectIdentifier(oid ObjectIdentifier) {
	w.b.AddASN1ObjectIdentifier(oid)
}

// WritePrintableString appends a DER PrintableString.
func (w *Writer) WritePrintableString(s string) {
	w.b.AddASN1(TagPrintableString, func(b *cryptobyte.Builder) { b.AddBytes([]byte(s)) })
}

// WriteUTF8String appends a DER UTF8String.
func (w *Writer) WriteUTF8String(s string) {
	w.b.AddASN1(TagUTF8String, func(b *cryptobyte.Builder) { b.AddBytes([]byte(s)) })
}

// WriteIA5String appends a DER IA5String.
func (w *Writer) WriteIA5String(s string) {
	w.b.AddASN1(TagIA5String, func(b *cryptobyte.Builder) { b.AddBytes([]byte(s)) })
}

// WriteUTCTime appends a DER UTCTime.
func (w *Writer) WriteUTCTime(t time.Time) { w.b.AddASN1UTCTime(t) }

// WriteGeneralizedTime appends a DER GeneralizedTime.
func (w *Writer) WriteGeneralizedTime(t time.Time) { w.b.AddASN1GeneralizedTime(t) }

// WriteTime appends a UTCTime for years in [1950,2049] and a
// GeneralizedTime otherwise, matching RFC 5280 section 4.1.2.5's profile,
// which spec section 4.1's UTCTime/GeneralizedTime pairing is drawn from.
func (w *Writer) WriteTime(t time.Time) {
	y := t.UTC().Year()
	if y >= 1950 && y < 2050 {
		w.WriteUTCTime(t)
	} else {
		w.WriteGeneralizedTime(t)
	}
}

// WriteExplicit appends an explicit context-specific tag wrapping whatever
// fn writes (e.g. [0] EXPLICIT Version).
func (w *Writer) WriteExplicit(tagNumber int, fn func(inner *Writer)) {
	tag := cryptobyte_asn1.Tag(tagNumber).Constructed().ContextSpecific()
	w.b.AddASN1(tag, func(b *cryptobyte.Builder) {
		fn(&Writer{b: b})
	})
}

// WriteImplicitBytes appends an implicit, primitive context-specific tag
// carrying raw bytes.
func (w *Writer) WriteImplicitBytes(tagNumber int, v []byte) {
	tag := cryptobyte_asn1.Tag(tagNumber).ContextSpecific()
	w.b.AddASN1(tag, func(b *cryptobyte.Builder) { b.AddBytes(v) })
}

// WriteImplicitConstructed appends an implicit, constructed context-specific
// tag wrapping whatever fn writes.
func (w *Writer) WriteImplicitConstructed(tagNumber int, fn func(inner *Writer)) {
	tag := cryptobyte_asn1.Tag(tagNumber).Constructed().ContextSpecific()
	w.b.AddASN1(tag, func(b *cryptobyte.Builder) {
		fn(&Writer{b: b})
	})
}

// WriteRaw appends already-encoded TLV bytes verbatim, used to round-trip
// unrecognized extension values.
func (w *Writer) WriteRaw(der []byte) {
	w.b.AddBytes(der)
}
