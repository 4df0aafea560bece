package budget

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHasBudget(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    bool
		wantErr bool
	}{
		{
			"available",
			func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(budgetResponse{HasBudget: true})
			},
			true, false,
		},
		{
			"exhausted",
			func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(budgetResponse{HasBudget: false})
			},
			false, false,
		},
		{
			"server error fails open",
			func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			true, true,
		},
		{
			"garbage body fails open",
			func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, "not json")
			},
			true, true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			c := NewHTTPChecker(srv.URL)
			got, err := c.HasBudget(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr = %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("HasBudget = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHasBudget_UnreachableFailsOpen(t *testing.T) {
	c := NewHTTPChecker("http://127.0.0.1:1", WithHTTPClient(&http.Client{Timeout: 100 * time.Millisecond}))
	got, err := c.HasBudget(context.Background())
	if err == nil {
		t.Fatal("expected a transport error")
	}
	if !got {
		t.Error("transport failure must fail open")
	}
}

func TestTrackUsage(t *testing.T) {
	var received usageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewHTTPChecker(srv.URL)
	if err := c.TrackUsage(context.Background(), 2500*time.Millisecond); err != nil {
		t.Fatalf("TrackUsage: %v", err)
	}
	if received.DurationMs != 2500 {
		t.Errorf("duration_ms = %d, want 2500", received.DurationMs)
	}
}

func TestNoop(t *testing.T) {
	var c Checker = Noop{}
	ok, err := c.HasBudget(context.Background())
	if !ok || err != nil {
		t.Errorf("Noop.HasBudget = %v, %v", ok, err)
	}
	if err := c.TrackUsage(context.Background(), time.Second); err != nil {
		t.Errorf("Noop.TrackUsage: %v", err)
	}
}
