package httpserver

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/neonpush/elevenlabs-realtime-agent/internal/config"
	"github.com/neonpush/elevenlabs-realtime-agent/internal/convai"
	"github.com/neonpush/elevenlabs-realtime-agent/internal/lead"
)

const testAuthToken = "test-auth-token"

type fakeCaller struct {
	lastTo  string
	lastURL string
	err     error
}

func (f *fakeCaller) StartCall(to, voiceURL string) (string, error) {
	f.lastTo = to
	f.lastURL = voiceURL
	if f.err != nil {
		return "", f.err
	}
	return "CA-test", nil
}

func testPool() *convai.Pool {
	return convai.NewPool(func(ctx context.Context) (convai.Conn, error) {
		return nil, errors.New("no dialing in http tests")
	}, 0)
}

func newTestServer(caller CallStarter) *Server {
	cfg := config.Config{TwilioAuthToken: testAuthToken, VAD: config.VADCurrent}
	return New(cfg, testPool(), lead.NewMemoryStore(), caller)
}

func signForm(fullURL string, form url.Values) string {
	data := fullURL
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		data += k + form.Get(k)
	}
	mac := hmac.New(sha1.New, []byte(testAuthToken))
	mac.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestServer_Healthz(t *testing.T) {
	srv := newTestServer(nil)
	r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestServer_Metrics(t *testing.T) {
	srv := newTestServer(nil)
	r := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "agent_pool_hot_connections") {
		t.Fatalf("expected pool gauges in metrics output")
	}
}

func TestVoice_ReturnsStreamTwiML(t *testing.T) {
	srv := newTestServer(nil)

	form := url.Values{}
	form.Set("From", "+447700900123")
	form.Set("CallSid", "CA1")

	r := httptest.NewRequest(http.MethodPost, "/twilio/voice", strings.NewReader(form.Encode()))
	r.Host = "agent.example.com"
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r.Header.Set("X-Twilio-Signature", signForm("https://agent.example.com/twilio/voice", form))
	w := httptest.NewRecorder()

	srv.Router.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	body := w.Body.String()
	if !strings.Contains(body, "wss://agent.example.com/media") {
		t.Fatalf("TwiML missing media stream URL: %s", body)
	}
	if !strings.Contains(body, "<Connect>") || !strings.Contains(body, "<Stream") {
		t.Fatalf("TwiML missing Connect/Stream: %s", body)
	}
	if !strings.Contains(body, "+447700900123") {
		t.Fatalf("TwiML missing caller parameter: %s", body)
	}
}

func TestVoice_RejectsUnsignedRequest(t *testing.T) {
	srv := newTestServer(nil)
	r := httptest.NewRequest(http.MethodPost, "/twilio/voice", strings.NewReader("From=%2B447700900123"))
	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, r)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestLeads_CreateAndGet(t *testing.T) {
	srv := newTestServer(nil)

	payload := `{"phone":"+447700900123","name":"Sam","budget":1500}`
	r := httptest.NewRequest(http.MethodPost, "/leads", strings.NewReader(payload))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, r)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var created lead.Lead
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("unmarshal created lead: %v", err)
	}
	if created.ID == "" {
		t.Fatalf("expected generated lead id")
	}

	r2 := httptest.NewRequest(http.MethodGet, "/leads/"+url.PathEscape("+447700900123"), nil)
	w2 := httptest.NewRecorder()
	srv.Router.ServeHTTP(w2, r2)
	if w2.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w2.Code)
	}
	var got lead.Lead
	_ = json.Unmarshal(w2.Body.Bytes(), &got)
	if got.Name != "Sam" || got.Budget != 1500 {
		t.Fatalf("unexpected lead: %+v", got)
	}
}

func TestLeads_MissingPhone(t *testing.T) {
	srv := newTestServer(nil)
	r := httptest.NewRequest(http.MethodPost, "/leads", strings.NewReader(`{"name":"Sam"}`))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, r)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestLeads_NotFound(t *testing.T) {
	srv := newTestServer(nil)
	r := httptest.NewRequest(http.MethodGet, "/leads/+440000000000", nil)
	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, r)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestCalls_StartsOutboundCall(t *testing.T) {
	caller := &fakeCaller{}
	srv := newTestServer(caller)

	r := httptest.NewRequest(http.MethodPost, "/calls", strings.NewReader(`{"to":"+447700900456"}`))
	r.Host = "agent.example.com"
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, r)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if caller.lastTo != "+447700900456" {
		t.Fatalf("unexpected to number: %s", caller.lastTo)
	}
	if caller.lastURL != "https://agent.example.com/twilio/voice" {
		t.Fatalf("unexpected voice URL: %s", caller.lastURL)
	}
	if !strings.Contains(w.Body.String(), "CA-test") {
		t.Fatalf("expected call sid in response: %s", w.Body.String())
	}
}

func TestCalls_UnconfiguredCaller(t *testing.T) {
	srv := newTestServer(nil)
	r := httptest.NewRequest(http.MethodPost, "/calls", strings.NewReader(`{"to":"+447700900456"}`))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, r)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestCalls_MissingToNumber(t *testing.T) {
	srv := newTestServer(&fakeCaller{})
	r := httptest.NewRequest(http.MethodPost, "/calls", strings.NewReader(`{}`))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, r)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestPublicHost_PrefersConfiguredHost(t *testing.T) {
	cfg := config.Config{TwilioAuthToken: testAuthToken, PublicHost: "bridge.example.com/"}
	srv := New(cfg, testPool(), lead.NewMemoryStore(), nil)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Host = "internal:8080"
	c := echo.New().NewContext(r, httptest.NewRecorder())
	if got := srv.publicHost(c); got != "bridge.example.com" {
		t.Fatalf("expected configured host, got %q", got)
	}
}

func TestPublicHost_ForwardedHeaderBeatsRequestHost(t *testing.T) {
	srv := newTestServer(nil)
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Host = "internal:8080"
	r.Header.Set("X-Forwarded-Host", "edge.example.com")
	c := echo.New().NewContext(r, httptest.NewRecorder())
	if got := srv.publicHost(c); got != "edge.example.com" {
		t.Fatalf("expected forwarded host, got %q", got)
	}
}
