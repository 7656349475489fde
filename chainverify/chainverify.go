// Package chainverify implements the chain verification algorithm spec
// section 4.7 describes: starting from a leaf certificate, walk parent
// candidates nearest-first, checking validity, CA/pathlen constraints, SKI/AKI
// linkage, and signatures, until a self-issued root is found. It is grounded
// on the original Rust implementation's verify_chain
// (picky/src/models/certificate.rs), whose test module
// (valid_ca_chain/malicious_ca_chain/invalid_basic_constraints_chain) this
// package's tests mirror, and uses jmhodges/clock for injectable time the
// same way ca/ca.go threads a clock.Clock through certificate issuance.
package chainverify

import (
	"github.com/jmhodges/clock"

	"github.com/pickyca/picky-ca/certificate"
	"github.com/pickyca/picky-ca/pkierrors"
)

// VerifyValidity checks that clk.Now() falls within cert's notBefore/notAfter
// bound, per spec section 4.7's validity check.
func VerifyValidity(cert *certificate.Cert, clk clock.Clock) error {
	v := cert.Validity()
	now := clk.Now()
	if now.Before(v.NotBefore) {
		return pkierrors.WrapInvalidCertificate(cert.Subject().String(),
			&pkierrors.CertificateNotYetValid{NotBefore: v.NotBefore, Now: now})
	}
	if now.After(v.NotAfter) {
		return pkierrors.WrapInvalidCertificate(cert.Subject().String(),
			&pkierrors.CertificateExpired{NotAfter: v.NotAfter, Now: now})
	}
	return nil
}

// VerifyChain walks leaf, then each parent returned by next (nearest-first:
// next is called repeatedly with the current certificate and must return
// its issuing candidate, or ok=false if there is none left to try), checking
// every invariant spec section 4.7 lists. It returns nil once a self-issued
// root is reached, or the first error encountered.
//
// next receives the current certificate under examination (the child whose
// issuer is being sought) and the zero-based position of that certificate
// in the chain (0 for the leaf). It must return the candidate parent
// certificate. The loop stops, successfully, the moment a parent whose SKI
// equals its own AKI (a self-issued root) is found.
func VerifyChain(leaf *certificate.Cert, clk clock.Clock, next func(current *certificate.Cert, position int) (*certificate.Cert, bool)) error {
	if err := VerifyValidity(leaf, clk); err != nil {
		return err
	}

	current := leaf
	position := 0
	for {
		parent, ok := next(current, position)
		if !ok {
			return pkierrors.CAChainNoRoot
		}

		bc, hasBC := parent.BasicConstraints()
		if !hasBC || !bc.CA {
			return &pkierrors.IssuerIsNotCA{Issuer: parent.Subject().String()}
		}
		if bc.Pathlen != nil && int(*bc.Pathlen) < position {
			return &pkierrors.CAChainTooDeep{Cert: parent.Subject().String(), Pathlen: *bc.Pathlen}
		}

		if err := VerifyValidity(parent, clk); err != nil {
			return err
		}

		currentAKI := current.AKI()
		parentSKI := parent.SKI()
		if !keyIDsEqual(parentSKI, currentAKI) {
			return &pkierrors.AuthorityKeyIdMismatch{Expected: currentAKI, Actual: parentSKI}
		}

		if err := current.VerifySignature(parent.PublicKey()); err != nil {
			return pkierrors.WrapInvalidCertificate(current.Subject().String(), err)
		}

		if keyIDsEqual(parentSKI, parent.AKI()) {
			return nil
		}

		current = parent
		position++
	}
}

func keyIDsEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
