package asn1der

import (
	"math/big"
	"testing"
	"time"

	"github.com/pickyca/picky-ca/internal/testutil"
)

func TestIntegerRoundTrip(t *testing.T) {
	w := NewWriter()
	w.WriteInteger(big.NewInt(12345))
	der, err := w.Bytes()
	testutil.AssertNotError(t, err, "Bytes failed")

	r := NewReader(der)
	v, err := r.ReadInteger()
	testutil.AssertNotError(t, err, "ReadInteger failed")
	testutil.AssertEquals(t, v.Int64(), int64(12345))
	testutil.AssertNotError(t, r.RequireEmpty("test"), "expected no trailing bytes")
}

func TestOctetStringRoundTrip(t *testing.T) {
	w := NewWriter()
	w.WriteOctetString([]byte{0xde, 0xad, 0xbe, 0xef})
	der, err := w.Bytes()
	testutil.AssertNotError(t, err, "Bytes failed")

	r := NewReader(der)
	got, err := r.ReadOctetString()
	testutil.AssertNotError(t, err, "ReadOctetString failed")
	testutil.AssertEquals(t, string(got), string([]byte{0xde, 0xad, 0xbe, 0xef}))
}

func TestSequenceRoundTrip(t *testing.T) {
	w := NewWriter()
	w.WriteSequence(func(inner *Writer) {
		inner.WriteInt64(1)
		inner.WriteUTF8String("hello")
	})
	der, err := w.Bytes()
	testutil.AssertNotError(t, err, "Bytes failed")

	r := NewReader(der)
	err = r.ReadSequence(func(inner *Reader) error {
		n, err := inner.ReadInt64()
		testutil.AssertNotError(t, err, "ReadInt64 failed")
		testutil.AssertEquals(t, n, int64(1))
		s, err := inner.ReadUTF8String()
		testutil.AssertNotError(t, err, "ReadUTF8String failed")
		testutil.AssertEquals(t, s, "hello")
		return nil
	})
	testutil.AssertNotError(t, err, "ReadSequence failed")
}

func TestObjectIdentifierRoundTrip(t *testing.T) {
	oid := ObjectIdentifier{1, 2, 840, 113549, 1, 1, 11}
	w := NewWriter()
	w.WriteObjectIdentifier(oid)
	der, err := w.Bytes()
	testutil.AssertNotError(t, err, "Bytes failed")

	r := NewReader(der)
	got, err := r.ReadObjectIdentifier()
	testutil.AssertNotError(t, err, "ReadObjectIdentifier failed")
	if !got.Equal(oid) {
		t.Fatalf("expected %v, got %v", oid, got)
	}
}

func TestExplicitTagOptionalElision(t *testing.T) {
	der := []byte{0x02, 0x01, 0x05} // a bare INTEGER, no [0] wrapper present
	r := NewReader(der)
	present, err := r.ReadExplicit(0, func(inner *Reader) error {
		t.Fatal("fn should not run when the explicit tag is absent")
		return nil
	})
	testutil.AssertNotError(t, err, "ReadExplicit failed")
	if present {
		t.Fatal("expected ReadExplicit to report absence")
	}
}

func TestTimeRoundTripChoosesUTCTimeForModernYear(t *testing.T) {
	w := NewWriter()
	when := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	w.WriteTime(when)
	der, err := w.Bytes()
	testutil.AssertNotError(t, err, "Bytes failed")
	if der[0] != byte(TagUTCTime) {
		t.Fatalf("expected UTCTime tag for year 2026, got tag %x", der[0])
	}

	r := NewReader(der)
	got, err := r.ReadTime()
	testutil.AssertNotError(t, err, "ReadTime failed")
	if !got.Equal(when) {
		t.Fatalf("expected %v, got %v", when, got)
	}
}

func TestRequireEmptyRejectsTrailingBytes(t *testing.T) {
	w := NewWriter()
	w.WriteInt64(1)
	der, err := w.Bytes()
	testutil.AssertNotError(t, err, "Bytes failed")

	der = append(der, 0xff)
	r := NewReader(der)
	_, err = r.ReadInt64()
	testutil.AssertNotError(t, err, "ReadInt64 failed")
	testutil.AssertError(t, r.RequireEmpty("test"), "expected trailing byte to be rejected")
}
