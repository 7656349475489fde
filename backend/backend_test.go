package backend

import (
	"testing"

	"github.com/pickyca/picky-ca/internal/testutil"
)

func TestMultihashLength(t *testing.T) {
	hash := Multihash([]byte("hello world"))
	testutil.AssertEquals(t, len(hash), 68)
	testutil.AssertEquals(t, hash[:4], "1220")
}

func TestNormalizeHashAcceptsFullMultihash(t *testing.T) {
	full := Multihash([]byte("some certificate DER"))
	normalized, ok := NormalizeHash(full)
	if !ok {
		t.Fatal("expected a full multihash to normalize")
	}
	testutil.AssertEquals(t, normalized, full)
}

func TestNormalizeHashAcceptsBareSHA256(t *testing.T) {
	full := Multihash([]byte("some certificate DER"))
	bare := full[4:] // strip the 2-byte (4 hex char) multihash prefix
	normalized, ok := NormalizeHash(bare)
	if !ok {
		t.Fatal("expected a bare SHA-256 hex digest to normalize")
	}
	testutil.AssertEquals(t, normalized, full)
}

func TestNormalizeHashRejectsGarbage(t *testing.T) {
	for _, bad := range []string{"", "not-hex", "deadbeef", string(make([]byte, 68))} {
		if _, ok := NormalizeHash(bad); ok {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}
