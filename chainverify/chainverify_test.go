package chainverify

import (
	"errors"
	"testing"
	"time"

	"github.com/jmhodges/clock"

	"github.com/pickyca/picky-ca/certificate"
	"github.com/pickyca/picky-ca/internal/testutil"
	"github.com/pickyca/picky-ca/keys"
	"github.com/pickyca/picky-ca/pkierrors"
)

// buildChain returns a root CA, an intermediate issued by it, and a leaf
// issued by the intermediate, all valid from 'now' for 'validity'.
func buildChain(t *testing.T, now time.Time, validity time.Duration, pathlen *uint8) (root, intermediate, leaf *certificate.Cert) {
	t.Helper()

	rootKey, err := keys.GenerateKey(2048)
	testutil.AssertNotError(t, err, "GenerateKey (root) failed")
	rootBuilder := certificate.NewBuilder().
		WithValidity(now, now.Add(validity)).
		WithIssuer(certificate.SelfSigned(certificate.Name{CommonName: "Root"}, rootKey)).
		WithCA(true)
	if pathlen != nil {
		rootBuilder = rootBuilder.WithPathlen(*pathlen)
	}
	root, err = rootBuilder.Build()
	testutil.AssertNotError(t, err, "Build (root) failed")

	intermediateKey, err := keys.GenerateKey(2048)
	testutil.AssertNotError(t, err, "GenerateKey (intermediate) failed")
	intermediate, err = certificate.NewBuilder().
		WithValidity(now, now.Add(validity)).
		WithIssuer(certificate.Authority(root.Subject(), rootKey, root.SKI())).
		WithSubject(certificate.FromNameAndPublicKey(certificate.Name{CommonName: "Intermediate"}, keys.NewPublicKey(&intermediateKey.PrivateKey.PublicKey))).
		WithCA(true).
		Build()
	testutil.AssertNotError(t, err, "Build (intermediate) failed")

	leafKey, err := keys.GenerateKey(2048)
	testutil.AssertNotError(t, err, "GenerateKey (leaf) failed")
	leaf, err = certificate.NewBuilder().
		WithValidity(now, now.Add(validity)).
		WithIssuer(certificate.Authority(intermediate.Subject(), intermediateKey, intermediate.SKI())).
		WithSubject(certificate.FromNameAndPublicKey(certificate.Name{CommonName: "Leaf"}, keys.NewPublicKey(&leafKey.PrivateKey.PublicKey))).
		WithCA(false).
		Build()
	testutil.AssertNotError(t, err, "Build (leaf) failed")

	return root, intermediate, leaf
}

func chainWalker(root, intermediate *certificate.Cert) func(*certificate.Cert, int) (*certificate.Cert, bool) {
	return func(current *certificate.Cert, position int) (*certificate.Cert, bool) {
		switch position {
		case 0:
			return intermediate, true
		case 1:
			return root, true
		default:
			return nil, false
		}
	}
}

func TestVerifyChainValid(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	root, intermediate, leaf := buildChain(t, now, 365*24*time.Hour, nil)

	clk := clock.NewFake()
	clk.Set(now.Add(time.Hour))

	err := VerifyChain(leaf, clk, chainWalker(root, intermediate))
	testutil.AssertNotError(t, err, "expected a valid chain to verify")
}

func TestVerifyChainExpiredLeaf(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	root, intermediate, leaf := buildChain(t, now, 24*time.Hour, nil)

	clk := clock.NewFake()
	clk.Set(now.Add(48 * time.Hour))

	err := VerifyChain(leaf, clk, chainWalker(root, intermediate))
	var invalid *pkierrors.InvalidCertificate
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidCertificate, got %v", err)
	}
	var expired *pkierrors.CertificateExpired
	if !errors.As(invalid.Cause, &expired) {
		t.Fatalf("expected CertificateExpired cause, got %v", invalid.Cause)
	}
}

func TestVerifyChainNoRoot(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	_, _, leaf := buildChain(t, now, 365*24*time.Hour, nil)

	clk := clock.NewFake()
	clk.Set(now.Add(time.Hour))

	err := VerifyChain(leaf, clk, func(*certificate.Cert, int) (*certificate.Cert, bool) {
		return nil, false
	})
	if !errors.Is(err, pkierrors.CAChainNoRoot) {
		t.Fatalf("expected CAChainNoRoot, got %v", err)
	}
}

func TestVerifyChainBadSignature(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	root, intermediate, leaf := buildChain(t, now, 365*24*time.Hour, nil)

	// A forged intermediate: same subject and public key as the real one,
	// claiming the root's SKI as its AKI, but signed with an unrelated key.
	// AKI/SKI linkage to the root holds; the signature does not.
	maliciousKey, err := keys.GenerateKey(2048)
	testutil.AssertNotError(t, err, "GenerateKey (malicious issuer) failed")
	maliciousIntermediate, err := certificate.NewBuilder().
		WithValidity(now, now.Add(365*24*time.Hour)).
		WithIssuer(certificate.Authority(root.Subject(), maliciousKey, root.SKI())).
		WithSubject(certificate.FromNameAndPublicKey(intermediate.Subject(), intermediate.PublicKey())).
		WithCA(true).
		Build()
	testutil.AssertNotError(t, err, "Build (malicious intermediate) failed")

	clk := clock.NewFake()
	clk.Set(now.Add(time.Hour))

	err = VerifyChain(leaf, clk, func(current *certificate.Cert, position int) (*certificate.Cert, bool) {
		switch position {
		case 0:
			return maliciousIntermediate, true
		case 1:
			return root, true
		default:
			return nil, false
		}
	})
	var invalid *pkierrors.InvalidCertificate
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidCertificate wrapping a bad signature, got %v", err)
	}
	if !errors.Is(invalid.Cause, pkierrors.BadSignature) {
		t.Fatalf("expected BadSignature cause, got %v", invalid.Cause)
	}
}

func TestVerifyChainPathlenViolation(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	pathlen := uint8(0)
	root, intermediate, leaf := buildChain(t, now, 365*24*time.Hour, &pathlen)

	clk := clock.NewFake()
	clk.Set(now.Add(time.Hour))

	err := VerifyChain(leaf, clk, chainWalker(root, intermediate))
	var tooDeep *pkierrors.CAChainTooDeep
	if !errors.As(err, &tooDeep) {
		t.Fatalf("expected CAChainTooDeep, got %v", err)
	}
}
