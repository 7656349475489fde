package issuance

import (
	"context"
	"testing"
	"time"

	"github.com/jmhodges/clock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pickyca/picky-ca/backend/memory"
	"github.com/pickyca/picky-ca/blog"
	"github.com/pickyca/picky-ca/certificate"
	"github.com/pickyca/picky-ca/csr"
	"github.com/pickyca/picky-ca/internal/testutil"
	"github.com/pickyca/picky-ca/keys"
	"github.com/pickyca/picky-ca/signature"
)

const testRealm = "Test CA"

func newTestController(t *testing.T) *Controller {
	t.Helper()
	be := memory.New()
	clk := clock.NewFake()
	clk.Set(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	log := blog.UseMock()
	metrics := NewMetrics(prometheus.NewRegistry())
	return NewController(be, clk, log, metrics)
}

func bootstrapConfig() BootstrapConfig {
	return BootstrapConfig{
		Realm:                testRealm,
		SignatureHashType:    signature.RsaSha256,
		RootValidity:         20 * 365 * 24 * time.Hour,
		IntermediateValidity: 10 * 365 * 24 * time.Hour,
	}
}

func TestBootstrapGeneratesRootAndIntermediate(t *testing.T) {
	ctrl := newTestController(t)
	err := ctrl.Bootstrap(context.Background(), bootstrapConfig())
	testutil.AssertNotError(t, err, "Bootstrap failed")

	root, _, err := ctrl.loadCA(context.Background(), RootName(testRealm))
	testutil.AssertNotError(t, err, "loadCA (root) failed")
	testutil.AssertEquals(t, root.Type(), certificate.TypeRoot)

	authority, _, err := ctrl.loadCA(context.Background(), AuthorityName(testRealm))
	testutil.AssertNotError(t, err, "loadCA (authority) failed")
	testutil.AssertEquals(t, authority.Type(), certificate.TypeIntermediate)
	testutil.AssertEquals(t, string(authority.AKI()), string(root.SKI()))
}

func TestBootstrapIsIdempotent(t *testing.T) {
	ctrl := newTestController(t)
	cfg := bootstrapConfig()
	testutil.AssertNotError(t, ctrl.Bootstrap(context.Background(), cfg), "first Bootstrap failed")

	root1, _, err := ctrl.loadCA(context.Background(), RootName(testRealm))
	testutil.AssertNotError(t, err, "loadCA failed")

	testutil.AssertNotError(t, ctrl.Bootstrap(context.Background(), cfg), "second Bootstrap failed")
	root2, _, err := ctrl.loadCA(context.Background(), RootName(testRealm))
	testutil.AssertNotError(t, err, "loadCA failed")

	testutil.AssertEquals(t, string(root1.DER()), string(root2.DER()))
}

func TestBootstrapRegistersPreProvisionedMaterial(t *testing.T) {
	rootKey, err := keys.GenerateKey(2048)
	testutil.AssertNotError(t, err, "GenerateKey failed")
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	root, err := certificate.NewBuilder().
		WithValidity(now, now.Add(365*24*time.Hour)).
		WithIssuer(certificate.SelfSigned(certificate.Name{CommonName: RootName(testRealm)}, rootKey)).
		WithCA(true).
		Build()
	testutil.AssertNotError(t, err, "Build (root) failed")
	rootKeyPEM, err := rootKey.ToPEM()
	testutil.AssertNotError(t, err, "ToPEM failed")

	ctrl := newTestController(t)
	cfg := bootstrapConfig()
	cfg.RootCertPEM = root.ToPEM()
	cfg.RootKeyPEM = rootKeyPEM

	testutil.AssertNotError(t, ctrl.Bootstrap(context.Background(), cfg), "Bootstrap failed")

	loaded, _, err := ctrl.loadCA(context.Background(), RootName(testRealm))
	testutil.AssertNotError(t, err, "loadCA failed")
	testutil.AssertEquals(t, string(loaded.DER()), string(root.DER()))
}

func TestSignFromCSRProducesLeafSignedByAuthority(t *testing.T) {
	ctrl := newTestController(t)
	testutil.AssertNotError(t, ctrl.Bootstrap(context.Background(), bootstrapConfig()), "Bootstrap failed")

	leafKey, err := keys.GenerateKey(2048)
	testutil.AssertNotError(t, err, "GenerateKey failed")
	request, err := csr.Generate(certificate.Name{CommonName: "leaf.example.com"}, leafKey, signature.RsaSha256)
	testutil.AssertNotError(t, err, "csr.Generate failed")
	der, err := request.ToDER()
	testutil.AssertNotError(t, err, "ToDER failed")

	leaf, err := ctrl.SignFromCSR(context.Background(), AuthorityName(testRealm), der, SignConfig{
		SignatureHashType: signature.RsaSha256,
		LeafValidity:      365 * 24 * time.Hour,
		SaveCertificate:   true,
	})
	testutil.AssertNotError(t, err, "SignFromCSR failed")
	testutil.AssertEquals(t, leaf.Subject().CommonName, "leaf.example.com")
	testutil.AssertEquals(t, leaf.Issuer().CommonName, AuthorityName(testRealm))

	authority, _, err := ctrl.loadCA(context.Background(), AuthorityName(testRealm))
	testutil.AssertNotError(t, err, "loadCA failed")
	testutil.AssertNotError(t, leaf.VerifySignature(authority.PublicKey()), "VerifySignature failed")
}

func TestSignFromCSRRejectsTamperedCSR(t *testing.T) {
	ctrl := newTestController(t)
	testutil.AssertNotError(t, ctrl.Bootstrap(context.Background(), bootstrapConfig()), "Bootstrap failed")

	leafKey, err := keys.GenerateKey(2048)
	testutil.AssertNotError(t, err, "GenerateKey failed")
	request, err := csr.Generate(certificate.Name{CommonName: "leaf.example.com"}, leafKey, signature.RsaSha256)
	testutil.AssertNotError(t, err, "csr.Generate failed")
	der, err := request.ToDER()
	testutil.AssertNotError(t, err, "ToDER failed")
	der[len(der)-1] ^= 0xff

	_, err = ctrl.SignFromCSR(context.Background(), AuthorityName(testRealm), der, SignConfig{
		SignatureHashType: signature.RsaSha256,
		LeafValidity:      365 * 24 * time.Hour,
	})
	testutil.AssertError(t, err, "expected a tampered CSR to be rejected")
}

func TestFindChainReturnsLeafThroughRoot(t *testing.T) {
	ctrl := newTestController(t)
	testutil.AssertNotError(t, ctrl.Bootstrap(context.Background(), bootstrapConfig()), "Bootstrap failed")

	leafKey, err := keys.GenerateKey(2048)
	testutil.AssertNotError(t, err, "GenerateKey failed")
	request, err := csr.Generate(certificate.Name{CommonName: "chain.example.com"}, leafKey, signature.RsaSha256)
	testutil.AssertNotError(t, err, "csr.Generate failed")
	der, err := request.ToDER()
	testutil.AssertNotError(t, err, "ToDER failed")

	leaf, err := ctrl.SignFromCSR(context.Background(), AuthorityName(testRealm), der, SignConfig{
		SignatureHashType: signature.RsaSha256,
		LeafValidity:      365 * 24 * time.Hour,
		SaveCertificate:   true,
	})
	testutil.AssertNotError(t, err, "SignFromCSR failed")

	chain, err := ctrl.FindChain(context.Background(), leaf.Subject().String())
	testutil.AssertNotError(t, err, "FindChain failed")
	if len(chain) != 3 {
		t.Fatalf("expected a 3-certificate chain (leaf, authority, root), got %d", len(chain))
	}
}

func TestHealthDelegatesToBackend(t *testing.T) {
	ctrl := newTestController(t)
	testutil.AssertNotError(t, ctrl.Health(context.Background()), "Health failed")
}

func TestRegisterLeafRejectsWrongIssuer(t *testing.T) {
	ctrl := newTestController(t)
	testutil.AssertNotError(t, ctrl.Bootstrap(context.Background(), bootstrapConfig()), "Bootstrap failed")

	key, err := keys.GenerateKey(2048)
	testutil.AssertNotError(t, err, "GenerateKey failed")
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	foreign, err := certificate.NewBuilder().
		WithValidity(now, now.Add(time.Hour)).
		WithIssuer(certificate.SelfSigned(certificate.Name{CommonName: "Somebody Else"}, key)).
		WithCA(false).
		Build()
	testutil.AssertNotError(t, err, "Build failed")

	_, err = ctrl.RegisterLeaf(context.Background(), AuthorityName(testRealm), foreign.DER())
	testutil.AssertError(t, err, "expected a mismatched issuer to be rejected")
}
