package gateweb

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tamwuff/scan2blob/internal/gate"
	"github.com/tamwuff/scan2blob/internal/pwhash"
)

func newTestListener(t *testing.T) (*Listener, string) {
	t.Helper()

	hash, err := pwhash.Hash("s3cret")
	if err != nil {
		t.Fatalf("pwhash.Hash: %v", err)
	}

	g := gate.New(gate.Config{
		DefaultOpen:            false,
		TimedAssertionLifetime: 3600 * time.Second,
		NameHintLifetime:       600 * time.Second,
	})

	l := &Listener{cfg: Config{
		Users:    map[string]string{"alice": hash},
		Gate:     g,
		GateName: "front-desk",
	}}
	return l, basicAuthHeader("alice", "s3cret")
}

func basicAuthHeader(user, pass string) string {
	req := &http.Request{Header: http.Header{}}
	req.SetBasicAuth(user, pass)
	return req.Header.Get("Authorization")
}

func TestUnauthenticatedRequestRejected(t *testing.T) {
	l, _ := newTestListener(t)

	req := httptest.NewRequest("GET", "/", nil)
	rr := httptest.NewRecorder()
	l.handle(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestGetReturnsJSONForAPIClient(t *testing.T) {
	l, auth := newTestListener(t)

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", auth)
	req.Header.Set("Accept", "application/json")
	rr := httptest.NewRecorder()
	l.handle(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body: %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	if !strings.Contains(rr.Body.String(), `"open": false`) {
		t.Errorf("unexpected body: %s", rr.Body.String())
	}
}

func TestGetReturnsHTMLForBrowser(t *testing.T) {
	l, auth := newTestListener(t)

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", auth)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	rr := httptest.NewRecorder()
	l.handle(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/html" {
		t.Errorf("Content-Type = %q", ct)
	}
	if !strings.Contains(rr.Body.String(), "front-desk") {
		t.Errorf("unexpected body: %s", rr.Body.String())
	}
}

func TestPostFormOpensGate(t *testing.T) {
	l, auth := newTestListener(t)

	req := httptest.NewRequest("POST", "/", strings.NewReader("open=Unlocked&name_hint=receipts"))
	req.Header.Set("Authorization", auth)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	l.handle(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body: %s", rr.Code, rr.Body.String())
	}
	st := l.cfg.Gate.CurrentState()
	if !st.Open || !st.HasHint || st.Hint != "receipts" {
		t.Errorf("unexpected gate state after POST: %+v", st)
	}
}

func TestPostJSONClosesGate(t *testing.T) {
	l, auth := newTestListener(t)
	l.cfg.Gate.AssertOpenTimed()

	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"open":false}`))
	req.Header.Set("Authorization", auth)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	l.handle(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body: %s", rr.Code, rr.Body.String())
	}
	st := l.cfg.Gate.CurrentState()
	if st.Open {
		t.Errorf("expected gate closed after POST, got %+v", st)
	}
}

func TestInvalidFormValueReportsBadRequest(t *testing.T) {
	l, auth := newTestListener(t)

	req := httptest.NewRequest("POST", "/", strings.NewReader("open=Sideways"))
	req.Header.Set("Authorization", auth)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	l.handle(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d, body: %s", rr.Code, http.StatusBadRequest, rr.Body.String())
	}
}
