package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tadpolelabs/chirp/internal/engine"
	"github.com/tadpolelabs/chirp/internal/health"
	"github.com/tadpolelabs/chirp/internal/policy"
	"github.com/tadpolelabs/chirp/internal/quota"
	voicemock "github.com/tadpolelabs/chirp/pkg/voice/mock"
)

// newTestServer builds a Server around a real engine with a mock device
// backend and an in-memory quota store.
func newTestServer(t *testing.T) (*Server, *voicemock.Backend) {
	t.Helper()

	device := &voicemock.Backend{}
	pol := policy.New(policy.TierFree, quota.NewMemory())
	e, err := engine.New(engine.Options{
		Device:       device,
		Policy:       pol,
		SpeakTimeout: 250 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	t.Cleanup(e.Close)

	return New(e, nil, health.New()), device
}

func postJSON(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSession_ReturnsGrant(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	rec := postJSON(t, h, "/v1/session", `{"session_id":"morning-shapes"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}

	var resp sessionResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.SessionID != "morning-shapes" {
		t.Errorf("session_id = %q", resp.SessionID)
	}
	if !resp.UseCloudVoice {
		t.Error("first free-tier session should be cloud approved")
	}
	if resp.RemainingCloudActivities != 2 {
		t.Errorf("remaining = %d, want 2", resp.RemainingCloudActivities)
	}
}

func TestSession_MissingIDIsBadRequest(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	rec := postJSON(t, h, "/v1/session", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSession_MalformedJSONIsBadRequest(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	rec := postJSON(t, h, "/v1/session", `{"session_id":`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSpeak_AcceptsAndPlays(t *testing.T) {
	s, device := newTestServer(t)
	h := s.Handler()

	postJSON(t, h, "/v1/session", `{"session_id":"s1"}`)
	rec := postJSON(t, h, "/v1/speak", `{"text":"Let's count the ducks together."}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(device.SpeakCalls()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("device backend never spoke")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := device.SpeakCalls()[0].Text; got != "Let's count the ducks together." {
		t.Errorf("spoken text = %q", got)
	}
}

func TestStop_Returns204(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	rec := postJSON(t, h, "/v1/stop", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
}

func TestState_ReturnsSnapshot(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	postJSON(t, h, "/v1/session", `{"session_id":"s1"}`)

	req := httptest.NewRequest(http.MethodGet, "/v1/state", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var st engine.State
	if err := json.NewDecoder(rec.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.RemainingCloudActivities != 2 {
		t.Errorf("remaining = %d, want 2", st.RemainingCloudActivities)
	}
}

func TestHealthEndpointsMounted(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	for _, path := range []string{"/healthz", "/readyz"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("%s status = %d, want 200", path, rec.Code)
		}
	}
}

func TestMetricsEndpointMounted(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("/metrics status = %d, want 200", rec.Code)
	}
}
