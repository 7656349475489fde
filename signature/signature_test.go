package signature

import (
	"errors"
	"testing"

	"github.com/pickyca/picky-ca/internal/testutil"
	"github.com/pickyca/picky-ca/keys"
	"github.com/pickyca/picky-ca/pkierrors"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	key, err := keys.GenerateKey(2048)
	testutil.AssertNotError(t, err, "GenerateKey failed")
	pub := keys.NewPublicKey(&key.PrivateKey.PublicKey)

	for _, h := range []HashType{RsaSha1, RsaSha224, RsaSha256, RsaSha384, RsaSha512} {
		data := []byte("the quick brown fox jumps over the lazy dog, " + h.String())
		sig, err := Sign(key, h, data)
		testutil.AssertNotError(t, err, "Sign failed for "+h.String())

		err = Verify(pub, h, data, sig)
		testutil.AssertNotError(t, err, "Verify failed for "+h.String())
	}
}

func TestVerifyRejectsTamperedData(t *testing.T) {
	key, err := keys.GenerateKey(2048)
	testutil.AssertNotError(t, err, "GenerateKey failed")
	pub := keys.NewPublicKey(&key.PrivateKey.PublicKey)

	sig, err := Sign(key, RsaSha256, []byte("original"))
	testutil.AssertNotError(t, err, "Sign failed")

	err = Verify(pub, RsaSha256, []byte("tampered"), sig)
	if !errors.Is(err, pkierrors.BadSignature) {
		t.Fatalf("expected pkierrors.BadSignature, got %v", err)
	}
}

func TestOIDRoundTrip(t *testing.T) {
	for _, h := range []HashType{RsaSha1, RsaSha224, RsaSha256, RsaSha384, RsaSha512} {
		oid, err := h.OID()
		testutil.AssertNotError(t, err, "OID failed for "+h.String())

		back, err := FromOID(oid)
		testutil.AssertNotError(t, err, "FromOID failed for "+h.String())
		testutil.AssertEquals(t, back, h)
	}
}

func TestUnknownHashTypeRejected(t *testing.T) {
	unknown := HashType(999)
	_, err := unknown.OID()
	var unsupported *pkierrors.UnsupportedAlgorithm
	if !errors.As(err, &unsupported) {
		t.Fatalf("expected pkierrors.UnsupportedAlgorithm, got %v", err)
	}
}
