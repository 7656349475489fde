// Package wfe implements the HTTP route handlers spec section 6.1 names,
// grounded on the original implementation's
// picky-server/src/http/controllers/server_controller.rs (the DER-first
// variant only, per spec section 4.11's design note) and dispatched through
// net/http's 1.22+ method+pattern ServeMux, wrapped by web.TopHandler the
// same way boulder wraps its own wfe2.WebFrontEndImpl.
package wfe

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/pickyca/picky-ca/blog"
	"github.com/pickyca/picky-ca/issuance"
	"github.com/pickyca/picky-ca/signature"
	"github.com/pickyca/picky-ca/web"
)

// Config carries the per-request defaults signcert applies when a request
// doesn't override them, mirroring spec section 6.2's key_config/
// save_certificate options and the leaf validity this service issues with.
type Config struct {
	Realm           string
	APIKey          string
	KeyConfig       signature.HashType
	LeafValidity    time.Duration
	SaveCertificate bool
}

// WFE dispatches the routes spec section 6.1 names onto an issuance
// Controller. A single instance is built once at startup and shared across
// requests; it holds no per-request state.
type WFE struct {
	issuer *issuance.Controller
	log    blog.Logger

	realm           string
	apiKey          string
	keyConfig       signature.HashType
	leafValidity    time.Duration
	saveCertificate bool

	mux *http.ServeMux
}

// New builds a WFE serving on behalf of cfg.Realm, guarding /signcert/ and
// /cert/ (POST) with cfg.APIKey if non-empty.
func New(issuer *issuance.Controller, log blog.Logger, cfg Config) *WFE {
	wfe := &WFE{
		issuer:          issuer,
		log:             log,
		realm:           cfg.Realm,
		apiKey:          cfg.APIKey,
		keyConfig:       cfg.KeyConfig,
		leafValidity:    cfg.LeafValidity,
		saveCertificate: cfg.SaveCertificate,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health/", wfe.health)
	mux.HandleFunc("POST /signcert/", wfe.requireAPIKey(wfe.signCert))
	mux.HandleFunc("POST /cert/", wfe.requireAPIKey(wfe.postCert))
	mux.HandleFunc("GET /cert/{multihash}", wfe.cert)
	mux.HandleFunc("GET /cert/{format}/{multihash}", wfe.certLegacy)
	mux.HandleFunc("GET /chain/", wfe.chainDefault)
	mux.HandleFunc("GET /chain/{name}", wfe.chain)
	mux.HandleFunc("POST /name/", wfe.requestName)
	wfe.mux = mux

	return wfe
}

type eventContextKey struct{}

func withEvent(ctx context.Context, e *web.RequestEvent) context.Context {
	return context.WithValue(ctx, eventContextKey{}, e)
}

func eventFromContext(ctx context.Context) *web.RequestEvent {
	e, _ := ctx.Value(eventContextKey{}).(*web.RequestEvent)
	return e
}

// ServeHTTP satisfies the wfeHandler interface web.TopHandler drives,
// stashing logEvent in the request context so individual route handlers
// (which must match net/http.HandlerFunc's signature to use ServeMux's
// pattern matching) can still annotate it.
func (wfe *WFE) ServeHTTP(e *web.RequestEvent, w http.ResponseWriter, r *http.Request) {
	e.Endpoint = r.URL.Path
	ctx := withEvent(r.Context(), e)
	wfe.mux.ServeHTTP(w, r.WithContext(ctx))
}

// requireAPIKey wraps next with the bearer-token check spec section 4.11
// names for /signcert/ and /cert/. If no API key is configured, the check is
// skipped entirely -- an empty apiKey means the operator has chosen not to
// require one, not that every request passes an empty token.
func (wfe *WFE) requireAPIKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if wfe.apiKey == "" {
			next(w, r)
			return
		}
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), []byte(wfe.apiKey)) != 1 {
			wfe.sendError(w, r, http.StatusUnauthorized, "missing or invalid API key")
			return
		}
		next(w, r)
	}
}
