// Package issuance implements the issuance controller spec section 4.8
// describes: bootstrapping the two-tier Root/Intermediate PKI, registering
// pre-provisioned CA material, signing leaf certificates from CSRs, and
// assembling PEM chains. It is grounded on ca/ca.go's
// NewCertificateAuthorityImpl/IssueCertificate pipeline — a narrow
// constructor taking a storage client, a clock, a logger, and metrics, with
// one method per operation the HTTP layer consumes — generalized from
// boulder's gRPC-exposed CertificateAuthorityServer to a directly-called Go
// type, and on the original implementation's
// picky-server/src/http/controllers/server_controller.rs for the bootstrap/
// sign_from_csr/find_chain operation names and ordering.
package issuance

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/jmhodges/clock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pickyca/picky-ca/backend"
	"github.com/pickyca/picky-ca/blog"
	"github.com/pickyca/picky-ca/certificate"
	"github.com/pickyca/picky-ca/csr"
	"github.com/pickyca/picky-ca/keys"
	"github.com/pickyca/picky-ca/pkierrors"
	"github.com/pickyca/picky-ca/signature"
)

// rootKeyBits and intermediateKeyBits are the RSA modulus sizes spec section
// 4.8's bootstrap step names for the Root and Intermediate CA keys
// respectively.
const (
	rootKeyBits         = 4096
	intermediateKeyBits = 2048
)

type issuanceError string

func (e issuanceError) Error() string { return string(e) }

const errWrongIssuer = issuanceError("certificate was not issued by the expected authority")

// Controller is the issuance engine the HTTP layer (wfe) drives: it owns no
// state of its own beyond the backend handle, per spec section 5's
// stateless-between-calls contract.
type Controller struct {
	backend backend.Backend
	clk     clock.Clock
	log     blog.Logger
	metrics *Metrics
	tracer  trace.Tracer
}

// NewController builds a Controller over the given backend.
func NewController(be backend.Backend, clk clock.Clock, log blog.Logger, metrics *Metrics) *Controller {
	return &Controller{
		backend: be,
		clk:     clk,
		log:     log,
		metrics: metrics,
		tracer:  otel.GetTracerProvider().Tracer("github.com/pickyca/picky-ca/issuance"),
	}
}

// RootName and AuthorityName derive the well-known CA names spec section 4.8
// names, "{realm} Root CA" and "{realm} Authority".
func RootName(realm string) string      { return realm + " Root CA" }
func AuthorityName(realm string) string { return realm + " Authority" }

// BootstrapConfig carries the inputs Bootstrap needs: either lifetimes to
// generate fresh CA material, or PEM-encoded pre-provisioned material to
// register instead (spec section 6.2's root_cert/root_key/
// intermediate_cert/intermediate_key options).
type BootstrapConfig struct {
	Realm                string
	SignatureHashType    signature.HashType
	RootValidity         time.Duration
	IntermediateValidity time.Duration
	RootCertPEM          []byte
	RootKeyPEM           []byte
	IntermediateCertPEM  []byte
	IntermediateKeyPEM   []byte
}

// Bootstrap ensures both the Root CA and the Intermediate CA exist in the
// backend, generating or registering whichever is missing, per spec section
// 4.8. It is idempotent: if a CA of the given name is already present, it is
// left untouched and loaded instead of regenerated.
func (c *Controller) Bootstrap(ctx context.Context, cfg BootstrapConfig) error {
	rootName := RootName(cfg.Realm)
	authorityName := AuthorityName(cfg.Realm)

	rootCert, rootKey, err := c.ensureRoot(ctx, rootName, cfg)
	if err != nil {
		return fmt.Errorf("bootstrapping root CA: %w", err)
	}

	_, _, err = c.ensureIntermediate(ctx, authorityName, rootCert, rootKey, cfg)
	if err != nil {
		return fmt.Errorf("bootstrapping intermediate CA: %w", err)
	}

	return nil
}

func (c *Controller) ensureRoot(ctx context.Context, rootName string, cfg BootstrapConfig) (*certificate.Cert, *keys.PrivateKey, error) {
	existing, existingKey, err := c.loadCA(ctx, rootName)
	if err == nil {
		c.log.Infof("root CA %q already present, skipping bootstrap", rootName)
		return existing, existingKey, nil
	}
	if err != pkierrors.NotFound {
		return nil, nil, err
	}

	if cfg.RootCertPEM != nil && cfg.RootKeyPEM != nil {
		return c.registerPreProvisioned(ctx, rootName, cfg.RootCertPEM, cfg.RootKeyPEM)
	}

	key, err := keys.GenerateKey(rootKeyBits)
	if err != nil {
		return nil, nil, err
	}

	now := c.clk.Now()
	cert, err := certificate.NewBuilder().
		WithValidity(now, now.Add(cfg.RootValidity)).
		WithIssuer(certificate.SelfSigned(certificate.Name{CommonName: rootName}, key)).
		WithCA(true).
		WithSignatureHashType(cfg.SignatureHashType).
		Build()
	if err != nil {
		c.metrics.noteSignError(err)
		return nil, nil, err
	}

	if err := c.store(ctx, rootName, cert, key); err != nil {
		return nil, nil, err
	}
	c.metrics.noteIssuance("root", rootName)
	c.log.AuditErrf("bootstrapped root CA %q, SKI=%x", rootName, cert.SKI())
	return cert, key, nil
}

func (c *Controller) ensureIntermediate(ctx context.Context, authorityName string, rootCert *certificate.Cert, rootKey *keys.PrivateKey, cfg BootstrapConfig) (*certificate.Cert, *keys.PrivateKey, error) {
	existing, existingKey, err := c.loadCA(ctx, authorityName)
	if err == nil {
		c.log.Infof("intermediate CA %q already present, skipping bootstrap", authorityName)
		return existing, existingKey, nil
	}
	if err != pkierrors.NotFound {
		return nil, nil, err
	}

	if cfg.IntermediateCertPEM != nil && cfg.IntermediateKeyPEM != nil {
		return c.registerPreProvisioned(ctx, authorityName, cfg.IntermediateCertPEM, cfg.IntermediateKeyPEM)
	}

	key, err := keys.GenerateKey(intermediateKeyBits)
	if err != nil {
		return nil, nil, err
	}

	now := c.clk.Now()
	cert, err := certificate.NewBuilder().
		WithValidity(now, now.Add(cfg.IntermediateValidity)).
		WithIssuer(certificate.Authority(rootCert.Subject(), rootKey, rootCert.SKI())).
		WithSubject(certificate.FromNameAndPublicKey(certificate.Name{CommonName: authorityName}, keys.NewPublicKey(&key.PublicKey))).
		WithCA(true).
		WithSignatureHashType(cfg.SignatureHashType).
		Build()
	if err != nil {
		c.metrics.noteSignError(err)
		return nil, nil, err
	}

	if err := c.store(ctx, authorityName, cert, key); err != nil {
		return nil, nil, err
	}
	c.metrics.noteIssuance("intermediate", authorityName)
	c.log.AuditErrf("bootstrapped intermediate CA %q, SKI=%x, AKI=%x", authorityName, cert.SKI(), cert.AKI())
	return cert, key, nil
}

// Health reports whether the backend is reachable, per spec section 6.1's
// /health/ route.
func (c *Controller) Health(ctx context.Context) error {
	return c.backend.Health(ctx)
}

// GetCert returns the DER bytes stored under hash, for the /cert/{multihash}
// routes.
func (c *Controller) GetCert(ctx context.Context, hash string) ([]byte, error) {
	return c.backend.GetCert(ctx, hash)
}

// RegisterLeaf stores a pre-signed leaf certificate under its own subject's
// display form (Name.String(), "CN=<common name>"), the way post_cert's server_controller.rs handler does: it is
// only accepted if its issuer matches expectedIssuer (the configured
// Authority's name), since this route exists to let a client hand back a
// certificate this CA already signed, not to adopt arbitrary third-party
// certificates.
func (c *Controller) RegisterLeaf(ctx context.Context, expectedIssuer string, certDER []byte) (*certificate.Cert, error) {
	cert, err := certificate.ParseCertificate(certDER)
	if err != nil {
		return nil, err
	}
	if cert.Issuer().CommonName != expectedIssuer {
		return nil, pkierrors.WrapInvalidCertificate(cert.Subject().String(), errWrongIssuer)
	}
	if err := c.store(ctx, cert.Subject().String(), cert, nil); err != nil {
		return nil, err
	}
	return cert, nil
}

// RegisterEnvCert implements spec section 4.8's register_env_cert: parse a
// pre-provisioned PEM certificate and key, derive its SKI and subject, and
// store it under name. This is the path BootstrapConfig's *PEM fields use,
// exposed directly as well so callers (e.g. cmd/picky-server) can register
// material outside of Bootstrap's idempotency check if they choose to.
func (c *Controller) RegisterEnvCert(ctx context.Context, name string, certPEM, keyPEM []byte) (*certificate.Cert, error) {
	cert, _, err := c.registerPreProvisioned(ctx, name, certPEM, keyPEM)
	return cert, err
}

func (c *Controller) registerPreProvisioned(ctx context.Context, name string, certPEM, keyPEM []byte) (*certificate.Cert, *keys.PrivateKey, error) {
	cert, err := certificate.ParseCertificatePEM(certPEM)
	if err != nil {
		return nil, nil, err
	}
	key, err := keys.PrivateKeyFromPEM(keyPEM)
	if err != nil {
		return nil, nil, err
	}
	if err := c.store(ctx, name, cert, key); err != nil {
		return nil, nil, err
	}
	c.log.Infof("registered pre-provisioned CA %q, SKI=%x", name, cert.SKI())
	return cert, key, nil
}

func (c *Controller) store(ctx context.Context, name string, cert *certificate.Cert, key *keys.PrivateKey) error {
	var keyDER []byte
	if key != nil {
		der, err := key.ToDER()
		if err != nil {
			return err
		}
		keyDER = der
	}
	_, err := c.backend.Store(ctx, name, cert.DER(), keyDER, cert.SKI())
	return err
}

// loadCA looks up the most recent record stored under name and parses both
// its certificate and private key.
func (c *Controller) loadCA(ctx context.Context, name string) (*certificate.Cert, *keys.PrivateKey, error) {
	records, err := c.backend.Find(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	hash := records[0].Hash

	certDER, err := c.backend.GetCert(ctx, hash)
	if err != nil {
		return nil, nil, err
	}
	cert, err := certificate.ParseCertificate(certDER)
	if err != nil {
		return nil, nil, err
	}

	keyDER, err := c.backend.GetKey(ctx, hash)
	if err != nil {
		return nil, nil, err
	}
	key, err := keys.PrivateKeyFromDER(keyDER)
	if err != nil {
		return nil, nil, err
	}

	return cert, key, nil
}

// SignConfig carries the per-issuance inputs sign_from_csr needs beyond the
// CA name and CSR bytes.
type SignConfig struct {
	SignatureHashType signature.HashType
	LeafValidity      time.Duration
	SaveCertificate   bool
}

// SignFromCSR implements spec section 4.8's sign_from_csr: find the named
// CA, verify and sign the CSR into a leaf certificate, optionally storing
// it.
func (c *Controller) SignFromCSR(ctx context.Context, caName string, csrDER []byte, cfg SignConfig) (*certificate.Cert, error) {
	ctx, span := c.tracer.Start(ctx, "SignFromCSR", trace.WithAttributes(attribute.String("ca", caName)))
	defer span.End()

	caCert, caKey, err := c.loadCA(ctx, caName)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	parsedCSR, err := csr.FromDER(csrDER)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if err := parsedCSR.Verify(); err != nil {
		c.metrics.noteSignError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, pkierrors.InvalidCsrSignature
	}

	now := c.clk.Now()
	leaf, err := certificate.NewBuilder().
		WithValidity(now, now.Add(cfg.LeafValidity)).
		WithIssuer(certificate.Authority(caCert.Subject(), caKey, caCert.SKI())).
		WithSubject(certificate.FromCSR(parsedCSR)).
		WithCA(false).
		WithSignatureHashType(cfg.SignatureHashType).
		Build()
	if err != nil {
		c.metrics.noteSignError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	c.metrics.noteIssuance("leaf", caName)

	if cfg.SaveCertificate {
		if err := c.store(ctx, leaf.Subject().String(), leaf, nil); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}

	return leaf, nil
}

// FindChain implements spec section 4.8's find_chain: starting from the
// certificate stored under caName, walk AKI→SKI-indexed backend lookups
// until a self-issued root is found, returning every certificate along the
// way PEM-encoded, nearest-first. Per spec section 9's cyclic-chain-walk
// note, a visited-set of key identifiers guards against a malformed backend
// looping forever.
func (c *Controller) FindChain(ctx context.Context, caName string) ([][]byte, error) {
	records, err := c.backend.Find(ctx, caName)
	if err != nil {
		return nil, err
	}
	certDER, err := c.backend.GetCert(ctx, records[0].Hash)
	if err != nil {
		return nil, err
	}
	cert, err := certificate.ParseCertificate(certDER)
	if err != nil {
		return nil, err
	}

	var chain [][]byte
	visited := make(map[string]bool)

	for {
		chain = append(chain, cert.ToPEM())

		ski := hex.EncodeToString(cert.SKI())
		aki := hex.EncodeToString(cert.AKI())
		if visited[ski] || aki == ski {
			break
		}
		visited[ski] = true

		nextHash, err := c.backend.GetHashFromKeyIdentifier(ctx, aki)
		if err != nil {
			break
		}
		nextDER, err := c.backend.GetCert(ctx, nextHash)
		if err != nil {
			break
		}
		next, err := certificate.ParseCertificate(nextDER)
		if err != nil {
			break
		}
		cert = next
	}

	return chain, nil
}
