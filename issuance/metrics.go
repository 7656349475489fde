package issuance

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pickyca/picky-ca/pkierrors"
)

// Metrics holds the counters Controller updates, modeled directly on
// ca/ca.go's caMetrics: a signature counter split by purpose/issuer, a
// signature-error counter split by error type, and a certificates-issued
// counter split by realm-scoped CA name.
type Metrics struct {
	signatureCount *prometheus.CounterVec
	signErrorCount *prometheus.CounterVec
	certificates   *prometheus.CounterVec
}

// NewMetrics registers and returns a Metrics, mirroring ca/ca.go's
// NewCAMetrics constructor shape.
func NewMetrics(stats prometheus.Registerer) *Metrics {
	signatureCount := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "picky_signatures",
			Help: "Number of signatures",
		},
		[]string{"purpose", "issuer"})
	stats.MustRegister(signatureCount)

	signErrorCount := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "picky_signature_errors",
			Help: "A counter of signature errors labelled by error type",
		},
		[]string{"type"})
	stats.MustRegister(signErrorCount)

	certificates := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "picky_certificates",
			Help: "Number of certificates issued",
		},
		[]string{"issuer"})
	stats.MustRegister(certificates)

	return &Metrics{
		signatureCount: signatureCount,
		signErrorCount: signErrorCount,
		certificates:   certificates,
	}
}

func (m *Metrics) noteIssuance(purpose, issuer string) {
	m.signatureCount.WithLabelValues(purpose, issuer).Inc()
	m.certificates.WithLabelValues(issuer).Inc()
}

func (m *Metrics) noteSignError(err error) {
	m.signErrorCount.WithLabelValues(errorType(err)).Inc()
}

// errorType classifies err for the signErrorCount label, the same way
// ca/ca.go's noteSignError distinguishes HSM errors from everything else --
// here distinguishing the error kinds spec section 7 names rather than a
// single PKCS#11 check, since this service has no HSM signing path.
func errorType(err error) string {
	switch {
	case errors.Is(err, pkierrors.InvalidCsrSignature):
		return "invalid_csr_signature"
	case errors.Is(err, pkierrors.NoSecureRandomness):
		return "no_secure_randomness"
	case errors.Is(err, pkierrors.NotFound):
		return "not_found"
	default:
		var storageErr *pkierrors.StorageError
		if errors.As(err, &storageErr) {
			return "storage"
		}
		return "other"
	}
}
