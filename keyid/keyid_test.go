package keyid

import (
	"testing"

	"github.com/pickyca/picky-ca/internal/testutil"
	"github.com/pickyca/picky-ca/keys"
)

func TestSPKValueHashedLeftmost160Length(t *testing.T) {
	key, err := keys.GenerateKey(2048)
	testutil.AssertNotError(t, err, "GenerateKey failed")
	pub := keys.NewPublicKey(&key.PrivateKey.PublicKey)

	for _, algo := range []HashAlgo{Sha1, Sha224, Sha256, Sha384, Sha512} {
		id, err := Generate(SPKValueHashedLeftmost160(algo), pub)
		testutil.AssertNotError(t, err, "Generate failed")
		testutil.AssertEquals(t, len(id), 20)
	}
}

func TestSPKFullDERIsDeterministic(t *testing.T) {
	key, err := keys.GenerateKey(2048)
	testutil.AssertNotError(t, err, "GenerateKey failed")
	pub := keys.NewPublicKey(&key.PrivateKey.PublicKey)

	a, err := Generate(SPKFullDER(Sha256), pub)
	testutil.AssertNotError(t, err, "Generate failed")
	b, err := Generate(SPKFullDER(Sha256), pub)
	testutil.AssertNotError(t, err, "Generate failed")
	testutil.AssertEquals(t, string(a), string(b))
	testutil.AssertEquals(t, len(a), 32)
}

func TestDifferentKeysProduceDifferentIdentifiers(t *testing.T) {
	key1, err := keys.GenerateKey(2048)
	testutil.AssertNotError(t, err, "GenerateKey failed")
	key2, err := keys.GenerateKey(2048)
	testutil.AssertNotError(t, err, "GenerateKey failed")

	id1, err := Generate(SPKFullDER(Sha256), keys.NewPublicKey(&key1.PrivateKey.PublicKey))
	testutil.AssertNotError(t, err, "Generate failed")
	id2, err := Generate(SPKFullDER(Sha256), keys.NewPublicKey(&key2.PrivateKey.PublicKey))
	testutil.AssertNotError(t, err, "Generate failed")

	if string(id1) == string(id2) {
		t.Fatal("expected different keys to produce different identifiers")
	}
}
