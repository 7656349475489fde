package keys

import (
	"testing"

	"github.com/pickyca/picky-ca/internal/testutil"
)

func TestPrivateKeyDERRoundTrip(t *testing.T) {
	key, err := GenerateKey(2048)
	testutil.AssertNotError(t, err, "GenerateKey failed")

	der, err := key.ToDER()
	testutil.AssertNotError(t, err, "ToDER failed")

	back, err := PrivateKeyFromDER(der)
	testutil.AssertNotError(t, err, "PrivateKeyFromDER failed")

	if back.N.Cmp(key.N) != 0 {
		t.Fatal("modulus did not round-trip")
	}
	testutil.AssertEquals(t, back.E, key.E)
}

func TestPrivateKeyPEMRoundTrip(t *testing.T) {
	key, err := GenerateKey(2048)
	testutil.AssertNotError(t, err, "GenerateKey failed")

	pemBytes, err := key.ToPEM()
	testutil.AssertNotError(t, err, "ToPEM failed")

	back, err := PrivateKeyFromPEM(pemBytes)
	testutil.AssertNotError(t, err, "PrivateKeyFromPEM failed")
	if back.N.Cmp(key.N) != 0 {
		t.Fatal("modulus did not round-trip through PEM")
	}
}

func TestPublicKeyDERRoundTrip(t *testing.T) {
	key, err := GenerateKey(2048)
	testutil.AssertNotError(t, err, "GenerateKey failed")
	pub := NewPublicKey(&key.PrivateKey.PublicKey)

	der, err := pub.ToDER()
	testutil.AssertNotError(t, err, "ToDER failed")

	back, err := PublicKeyFromDER(der)
	testutil.AssertNotError(t, err, "PublicKeyFromDER failed")
	if back.N.Cmp(pub.N) != 0 {
		t.Fatal("modulus did not round-trip")
	}
	testutil.AssertEquals(t, back.E, pub.E)
}

func TestPublicKeyFromDERRejectsNonRSA(t *testing.T) {
	// A minimal SubjectPublicKeyInfo carrying an unrelated OID
	// (1.2.3.4, an arbitrary non-RSA algorithm identifier).
	garbage := []byte{
		0x30, 0x0c, // SEQUENCE
		0x30, 0x07, // SEQUENCE (AlgorithmIdentifier)
		0x06, 0x03, 0x2a, 0x03, 0x04, // OID 1.2.3.4
		0x05, 0x00, // NULL
		0x03, 0x01, 0x00, // BIT STRING, empty
	}
	_, err := PublicKeyFromDER(garbage)
	testutil.AssertError(t, err, "expected PublicKeyFromDER to reject a non-RSA algorithm")
}

func TestSPKIRaw(t *testing.T) {
	key, err := GenerateKey(2048)
	testutil.AssertNotError(t, err, "GenerateKey failed")
	pub := NewPublicKey(&key.PrivateKey.PublicKey)

	spki, bitStringValue, err := pub.SPKIRaw()
	testutil.AssertNotError(t, err, "SPKIRaw failed")
	if len(spki) == 0 || len(bitStringValue) == 0 {
		t.Fatal("expected non-empty SPKI DER and bit-string payload")
	}
}
