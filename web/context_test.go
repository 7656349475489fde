package web

import (
	"bytes"
	"context"
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pickyca/picky-ca/blog"
	"github.com/pickyca/picky-ca/internal/testutil"
)

type myHandler struct{}

func (m myHandler) ServeHTTP(e *RequestEvent, w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(201)
	e.Endpoint = "/endpoint"
	_, _ = w.Write([]byte("hi"))
}

func TestLogCode(t *testing.T) {
	mockLog := blog.UseMock()
	th := NewTopHandler(mockLog, myHandler{})
	req, err := http.NewRequest("GET", "/thisisignored", &bytes.Reader{})
	if err != nil {
		t.Fatal(err)
	}
	th.ServeHTTP(httptest.NewRecorder(), req)
	expected := `INFO: GET /endpoint 201 0 0.0.0.0 JSON={}`
	lines, err := mockLog.GetAllMatching(expected)
	testutil.AssertNotError(t, err, "GetAllMatching failed")
	if len(lines) != 1 {
		t.Errorf("Expected exactly one log line matching %q. Got %v", expected, lines)
	}
}

type codeHandler struct{}

func (ch codeHandler) ServeHTTP(e *RequestEvent, w http.ResponseWriter, r *http.Request) {
	e.Endpoint = "/endpoint"
	_, _ = w.Write([]byte("hi"))
}

func TestStatusCodeLogging(t *testing.T) {
	mockLog := blog.UseMock()
	th := NewTopHandler(mockLog, codeHandler{})
	req, err := http.NewRequest("GET", "/thisisignored", &bytes.Reader{})
	if err != nil {
		t.Fatal(err)
	}
	th.ServeHTTP(httptest.NewRecorder(), req)
	expected := `INFO: GET /endpoint 200 0 0.0.0.0 JSON={}`
	lines, err := mockLog.GetAllMatching(expected)
	testutil.AssertNotError(t, err, "GetAllMatching failed")
	if len(lines) != 1 {
		t.Errorf("Expected exactly one log line matching %q. Got %v", expected, lines)
	}
}

func TestOrigin(t *testing.T) {
	mockLog := blog.UseMock()
	th := NewTopHandler(mockLog, myHandler{})
	req, err := http.NewRequest("GET", "/thisisignored", &bytes.Reader{})
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Add("Origin", "https://example.com")
	th.ServeHTTP(httptest.NewRecorder(), req)
	expected := `INFO: GET /endpoint 201 0 0.0.0.0 JSON={.*"Origin":"https://example.com"}`
	lines, err := mockLog.GetAllMatching(expected)
	testutil.AssertNotError(t, err, "GetAllMatching failed")
	if len(lines) != 1 {
		t.Errorf("Expected exactly one log line matching %q. Got %v", expected, lines)
	}
}

type hostHeaderHandler struct {
	f func(*RequestEvent, http.ResponseWriter, *http.Request)
}

func (hhh hostHeaderHandler) ServeHTTP(e *RequestEvent, w http.ResponseWriter, r *http.Request) {
	hhh.f(e, w, r)
}

func TestHostHeaderRewrite(t *testing.T) {
	mockLog := blog.UseMock()
	hhh := hostHeaderHandler{f: func(_ *RequestEvent, _ http.ResponseWriter, r *http.Request) {
		t.Helper()
		testutil.AssertEquals(t, r.Host, "localhost")
	}}
	th := NewTopHandler(mockLog, &hhh)

	req, err := http.NewRequest("GET", "/", &bytes.Reader{})
	testutil.AssertNotError(t, err, "http.NewRequest failed")
	req.Host = "localhost:80"
	th.ServeHTTP(httptest.NewRecorder(), req)

	req, err = http.NewRequest("GET", "/", &bytes.Reader{})
	testutil.AssertNotError(t, err, "http.NewRequest failed")
	req.Host = "localhost:443"
	req.TLS = &tls.ConnectionState{}
	th.ServeHTTP(httptest.NewRecorder(), req)

	req, err = http.NewRequest("GET", "/", &bytes.Reader{})
	testutil.AssertNotError(t, err, "http.NewRequest failed")
	req.Host = "localhost:443"
	req.TLS = nil
	th.ServeHTTP(httptest.NewRecorder(), req)

	hhh.f = func(_ *RequestEvent, _ http.ResponseWriter, r *http.Request) {
		t.Helper()
		testutil.AssertEquals(t, r.Host, "localhost:123")
	}
	req, err = http.NewRequest("GET", "/", &bytes.Reader{})
	testutil.AssertNotError(t, err, "http.NewRequest failed")
	req.Host = "localhost:123"
	th.ServeHTTP(httptest.NewRecorder(), req)
}

type cancelHandler struct {
	res chan string
}

func (ch cancelHandler) ServeHTTP(e *RequestEvent, w http.ResponseWriter, r *http.Request) {
	select {
	case <-r.Context().Done():
		ch.res <- r.Context().Err().Error()
	case <-time.After(300 * time.Millisecond):
		ch.res <- "300 ms passed"
	}
}

// TestCancelNotPropagated confirms that a client disconnect (request context
// cancellation) never reaches the handler: ServeHTTP always rewrites the
// request's context to one that ignores the original cancellation signal.
func TestCancelNotPropagated(t *testing.T) {
	mockLog := blog.UseMock()
	res := make(chan string)
	th := NewTopHandler(mockLog, cancelHandler{res})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		req, err := http.NewRequestWithContext(ctx, "GET", "/thisisignored", &bytes.Reader{})
		if err != nil {
			t.Error(err)
		}
		th.ServeHTTP(httptest.NewRecorder(), req)
	}()
	cancel()
	result := <-res
	if result != "300 ms passed" {
		t.Errorf("expected cancellation to be ignored, got %q", result)
	}
}

func TestGetClientAddr(t *testing.T) {
	req, err := http.NewRequest("GET", "/", nil)
	testutil.AssertNotError(t, err, "http.NewRequest failed")
	req.RemoteAddr = "10.0.0.1:1234"
	testutil.AssertEquals(t, GetClientAddr(req), "10.0.0.1:1234")

	req.Header.Set("X-Forwarded-For", "203.0.113.5")
	testutil.AssertEquals(t, GetClientAddr(req), "203.0.113.5,10.0.0.1:1234")
}
