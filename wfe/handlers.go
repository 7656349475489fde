package wfe

import (
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"io"
	"net/http"
	"strings"

	"github.com/pickyca/picky-ca/backend"
	"github.com/pickyca/picky-ca/csr"
	"github.com/pickyca/picky-ca/issuance"
)

const maxRequestBody = 1 << 20 // 1 MiB; CSRs and leaf certificates are small.

// sendError writes a plain-text error response and records it on the
// request's log event, matching spec section 7's "400 on any validation
// failure" rule (health's 503 path is handled separately in wfe.health).
func (wfe *WFE) sendError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	if e := eventFromContext(r.Context()); e != nil {
		e.Error = msg
	}
	wfe.log.Errf("%s %s: %s", r.Method, r.URL.Path, msg)
	http.Error(w, msg, code)
}

func (wfe *WFE) health(w http.ResponseWriter, r *http.Request) {
	if err := wfe.issuer.Health(r.Context()); err != nil {
		wfe.sendError(w, r, http.StatusServiceUnavailable, "backend unavailable")
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Everything should be alright!"))
}

// writeCertResponse frames der per spec section 6.1's Accept-Encoding rule:
// "binary" returns raw DER, "base64" returns base64(DER), anything else (the
// default) returns PEM.
func writeCertResponse(w http.ResponseWriter, r *http.Request, der []byte) {
	switch strings.ToLower(r.Header.Get("Accept-Encoding")) {
	case "binary":
		w.Header().Set("Content-Type", "application/pkix-cert")
		_, _ = w.Write(der)
	case "base64":
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, base64.StdEncoding.EncodeToString(der))
	default:
		w.Header().Set("Content-Type", "application/x-pem-file")
		_, _ = w.Write(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
	}
}

// cert implements GET /cert/{multihash}.
func (wfe *WFE) cert(w http.ResponseWriter, r *http.Request) {
	e := eventFromContext(r.Context())
	multihash := r.PathValue("multihash")
	if e != nil {
		e.Multihash = multihash
	}

	hash, ok := backend.NormalizeHash(multihash)
	if !ok {
		wfe.sendError(w, r, http.StatusBadRequest, "malformed multihash")
		return
	}
	der, err := wfe.issuer.GetCert(r.Context(), hash)
	if err != nil {
		wfe.sendError(w, r, http.StatusBadRequest, "certificate not found")
		return
	}
	writeCertResponse(w, r, der)
}

// certLegacy implements GET /cert/{format}/{multihash}, the legacy route
// whose format segment pins the encoding instead of reading Accept-Encoding.
func (wfe *WFE) certLegacy(w http.ResponseWriter, r *http.Request) {
	e := eventFromContext(r.Context())
	multihash := r.PathValue("multihash")
	if e != nil {
		e.Multihash = multihash
	}

	hash, ok := backend.NormalizeHash(multihash)
	if !ok {
		wfe.sendError(w, r, http.StatusBadRequest, "malformed multihash")
		return
	}
	der, err := wfe.issuer.GetCert(r.Context(), hash)
	if err != nil {
		wfe.sendError(w, r, http.StatusBadRequest, "certificate not found")
		return
	}

	if strings.EqualFold(r.PathValue("format"), "der") {
		w.Header().Set("Content-Type", "application/pkix-cert")
		_, _ = w.Write(der)
		return
	}
	w.Header().Set("Content-Type", "application/x-pem-file")
	_, _ = w.Write(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
}

// csrSubmission is the application/json body shape signcert and name accept.
type csrSubmission struct {
	CA  string `json:"ca"`
	CSR string `json:"csr"`
}

// readCSR extracts a DER-encoded CSR and optional target CA name from the
// request, per spec section 6.1's two request shapes: application/pkcs10
// with a Content-Transfer-Encoding of binary (raw DER body) or base64
// (PEM-wrapped text body), or application/json with a "csr" PEM field and an
// optional "ca" field.
func readCSR(r *http.Request) (der []byte, ca string, err error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		return nil, "", err
	}

	contentType := strings.ToLower(strings.TrimSpace(strings.SplitN(r.Header.Get("Content-Type"), ";", 2)[0]))
	switch contentType {
	case "application/pkcs10":
		switch strings.ToLower(r.Header.Get("Content-Transfer-Encoding")) {
		case "binary":
			return body, "", nil
		case "base64":
			block, _ := pem.Decode(body)
			if block == nil {
				return nil, "", errMalformedRequest
			}
			return block.Bytes, "", nil
		default:
			return nil, "", errMalformedRequest
		}
	case "application/json":
		var payload csrSubmission
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, "", err
		}
		block, _ := pem.Decode([]byte(payload.CSR))
		if block == nil {
			return nil, "", errMalformedRequest
		}
		return block.Bytes, payload.CA, nil
	default:
		return nil, "", errMalformedRequest
	}
}

type wfeError string

func (e wfeError) Error() string { return string(e) }

const errMalformedRequest = wfeError("malformed request body")

// signCert implements POST /signcert/.
func (wfe *WFE) signCert(w http.ResponseWriter, r *http.Request) {
	der, ca, err := readCSR(r)
	if err != nil {
		wfe.sendError(w, r, http.StatusBadRequest, "couldn't read CSR: "+err.Error())
		return
	}
	if ca == "" {
		ca = issuance.AuthorityName(wfe.realm)
	}
	if e := eventFromContext(r.Context()); e != nil {
		e.CAName = ca
	}

	leaf, err := wfe.issuer.SignFromCSR(r.Context(), ca, der, wfe.signConfig())
	if err != nil {
		wfe.sendError(w, r, http.StatusBadRequest, "couldn't sign CSR: "+err.Error())
		return
	}
	writeCertResponse(w, r, leaf.DER())
}

// postCert implements POST /cert/: registering a pre-signed leaf.
func (wfe *WFE) postCert(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		wfe.sendError(w, r, http.StatusBadRequest, "couldn't read body")
		return
	}

	contentType := strings.ToLower(strings.TrimSpace(strings.SplitN(r.Header.Get("Content-Type"), ";", 2)[0]))
	var der []byte
	switch contentType {
	case "application/pkcs10":
		switch strings.ToLower(r.Header.Get("Content-Transfer-Encoding")) {
		case "binary":
			der = body
		case "base64":
			block, _ := pem.Decode(body)
			if block == nil {
				wfe.sendError(w, r, http.StatusBadRequest, "malformed certificate")
				return
			}
			der = block.Bytes
		default:
			wfe.sendError(w, r, http.StatusBadRequest, "unsupported Content-Transfer-Encoding")
			return
		}
	case "application/json":
		var payload struct {
			Certificate string `json:"certificate"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			wfe.sendError(w, r, http.StatusBadRequest, "malformed JSON body")
			return
		}
		block, _ := pem.Decode([]byte(payload.Certificate))
		if block == nil {
			wfe.sendError(w, r, http.StatusBadRequest, "malformed certificate")
			return
		}
		der = block.Bytes
	default:
		wfe.sendError(w, r, http.StatusBadRequest, "unsupported Content-Type")
		return
	}

	authority := issuance.AuthorityName(wfe.realm)
	if _, err := wfe.issuer.RegisterLeaf(r.Context(), authority, der); err != nil {
		wfe.sendError(w, r, http.StatusBadRequest, "couldn't register certificate: "+err.Error())
		return
	}
	w.WriteHeader(http.StatusOK)
}

// chainDefault implements GET /chain/: the chain for the configured
// intermediate.
func (wfe *WFE) chainDefault(w http.ResponseWriter, r *http.Request) {
	wfe.writeChain(w, r, issuance.AuthorityName(wfe.realm))
}

// chain implements GET /chain/{base64url(name)}.
func (wfe *WFE) chain(w http.ResponseWriter, r *http.Request) {
	encoded := r.PathValue("name")
	decoded, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		wfe.sendError(w, r, http.StatusBadRequest, "malformed base64url CA name")
		return
	}
	wfe.writeChain(w, r, string(decoded))
}

func (wfe *WFE) writeChain(w http.ResponseWriter, r *http.Request, caName string) {
	if e := eventFromContext(r.Context()); e != nil {
		e.CAName = caName
	}
	chain, err := wfe.issuer.FindChain(r.Context(), caName)
	if err != nil {
		wfe.sendError(w, r, http.StatusBadRequest, "couldn't assemble chain: "+err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/x-pem-file")
	for _, pemCert := range chain {
		_, _ = w.Write(pemCert)
	}
}

// requestName implements POST /name/: extract a CSR's subject common name.
func (wfe *WFE) requestName(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		wfe.sendError(w, r, http.StatusBadRequest, "couldn't read body")
		return
	}
	var payload csrSubmission
	if err := json.Unmarshal(body, &payload); err != nil {
		wfe.sendError(w, r, http.StatusBadRequest, "malformed JSON body")
		return
	}
	block, _ := pem.Decode([]byte(payload.CSR))
	if block == nil {
		wfe.sendError(w, r, http.StatusBadRequest, "malformed CSR")
		return
	}
	parsed, err := csr.FromDER(block.Bytes)
	if err != nil {
		wfe.sendError(w, r, http.StatusBadRequest, "couldn't parse CSR: "+err.Error())
		return
	}
	name, _ := parsed.IntoSubjectInfos()
	_, _ = io.WriteString(w, name.CommonName)
}

func (wfe *WFE) signConfig() issuance.SignConfig {
	return issuance.SignConfig{
		SignatureHashType: wfe.keyConfig,
		LeafValidity:      wfe.leafValidity,
		SaveCertificate:   wfe.saveCertificate,
	}
}
