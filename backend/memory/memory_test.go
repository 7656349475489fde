package memory

import (
	"context"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/pickyca/picky-ca/backend"
	"github.com/pickyca/picky-ca/internal/testutil"
	"github.com/pickyca/picky-ca/pkierrors"
)

func TestStoreFindGetCert(t *testing.T) {
	ctx := context.Background()
	b := New()

	certDER := []byte("fake-certificate-bytes")
	keyDER := []byte("fake-key-bytes")
	ski := []byte{0x01, 0x02, 0x03, 0x04}

	hash, err := b.Store(ctx, "CN=test", certDER, keyDER, ski)
	testutil.AssertNotError(t, err, "Store failed")
	testutil.AssertEquals(t, hash, backend.Multihash(certDER))

	records, err := b.Find(ctx, "CN=test")
	testutil.AssertNotError(t, err, "Find failed")
	if len(records) != 1 || records[0].Hash != hash {
		t.Fatalf("unexpected records: %+v", records)
	}

	got, err := b.GetCert(ctx, hash)
	testutil.AssertNotError(t, err, "GetCert failed")
	testutil.AssertEquals(t, string(got), string(certDER))

	gotKey, err := b.GetKey(ctx, hash)
	testutil.AssertNotError(t, err, "GetKey failed")
	testutil.AssertEquals(t, string(gotKey), string(keyDER))
}

func TestFindMostRecentFirst(t *testing.T) {
	ctx := context.Background()
	b := New()

	hash1, err := b.Store(ctx, "CN=multi", []byte("first"), nil, []byte{0x01})
	testutil.AssertNotError(t, err, "Store failed")
	hash2, err := b.Store(ctx, "CN=multi", []byte("second"), nil, []byte{0x02})
	testutil.AssertNotError(t, err, "Store failed")

	records, err := b.Find(ctx, "CN=multi")
	testutil.AssertNotError(t, err, "Find failed")
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	testutil.AssertEquals(t, records[0].Hash, hash2)
	testutil.AssertEquals(t, records[1].Hash, hash1)
}

func TestGetCertNotFound(t *testing.T) {
	ctx := context.Background()
	b := New()
	_, err := b.GetCert(ctx, "does-not-exist")
	if !errors.Is(err, pkierrors.NotFound) {
		t.Fatalf("expected pkierrors.NotFound, got %v", err)
	}
}

func TestKeyIdentifierLookup(t *testing.T) {
	ctx := context.Background()
	b := New()

	ski := []byte{0xaa, 0xbb, 0xcc}
	skiHex := hex.EncodeToString(ski)
	hash, err := b.Store(ctx, "CN=ski-test", []byte("der"), nil, ski)
	testutil.AssertNotError(t, err, "Store failed")

	gotHash, err := b.GetHashFromKeyIdentifier(ctx, skiHex)
	testutil.AssertNotError(t, err, "GetHashFromKeyIdentifier failed")
	testutil.AssertEquals(t, gotHash, hash)

	gotSKI, err := b.GetKeyIdentifierFromHash(ctx, hash)
	testutil.AssertNotError(t, err, "GetKeyIdentifierFromHash failed")
	testutil.AssertEquals(t, gotSKI, skiHex)
}

func TestHealth(t *testing.T) {
	b := New()
	testutil.AssertNotError(t, b.Health(context.Background()), "Health failed")
}
