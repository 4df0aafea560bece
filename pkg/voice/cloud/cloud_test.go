package cloud

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/tadpolelabs/chirp/pkg/voice"
)

func TestNew_Validation(t *testing.T) {
	if _, err := New("", "key"); err == nil {
		t.Error("expected error for empty endpoint")
	}
	if _, err := New("wss://voice.example.com/v1/speak", ""); err == nil {
		t.Error("expected error for empty apiKey")
	}
	if _, err := New("wss://voice.example.com/v1/speak", "key"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestBuildSpeakMessage(t *testing.T) {
	data, err := buildSpeakMessage("Look, a butterfly!", "sk-test", &voiceSettings{
		Language: "en-US",
		Rate:     1.0,
		Pitch:    1.2,
	})
	if err != nil {
		t.Fatalf("buildSpeakMessage: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["type"] != "speak" {
		t.Errorf("type = %v, want speak", got["type"])
	}
	if got["text"] != "Look, a butterfly!" {
		t.Errorf("text = %v", got["text"])
	}
	if got["api_key"] != "sk-test" {
		t.Errorf("api_key = %v", got["api_key"])
	}
	vs, ok := got["voice_settings"].(map[string]any)
	if !ok {
		t.Fatalf("voice_settings = %v", got["voice_settings"])
	}
	if vs["language"] != "en-US" || vs["pitch"] != 1.2 {
		t.Errorf("voice_settings = %v", vs)
	}
}

// wsTestServer runs handle inside an httptest server that upgrades to a
// WebSocket. Returns the ws:// URL.
func wsTestServer(t *testing.T, handle func(ctx context.Context, conn *websocket.Conn)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer conn.CloseNow()
		handle(r.Context(), conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestSpeak_DoneEventCompletes(t *testing.T) {
	var envelope speakEnvelope
	url := wsTestServer(t, func(ctx context.Context, conn *websocket.Conn) {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			t.Errorf("server read: %v", err)
			return
		}
		if err := json.Unmarshal(msg, &envelope); err != nil {
			t.Errorf("server unmarshal: %v", err)
		}
		ev, _ := json.Marshal(statusEvent{Type: "done"})
		conn.Write(ctx, websocket.MessageText, ev)
	})

	b, err := New(url, "sk-test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.Speak(ctx, "hello there", voice.Params{Language: "en-US"}); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if envelope.Type != "speak" || envelope.Text != "hello there" || envelope.APIKey != "sk-test" {
		t.Errorf("envelope = %+v", envelope)
	}
}

func TestSpeak_ErrorEventIsReturned(t *testing.T) {
	url := wsTestServer(t, func(ctx context.Context, conn *websocket.Conn) {
		conn.Read(ctx)
		ev, _ := json.Marshal(statusEvent{Type: "error", Message: "quota exceeded"})
		conn.Write(ctx, websocket.MessageText, ev)
	})

	b, err := New(url, "sk-test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = b.Speak(ctx, "hello", voice.Params{})
	if err == nil || !strings.Contains(err.Error(), "quota exceeded") {
		t.Fatalf("err = %v, want service error", err)
	}
}

func TestSpeak_DroppedConnectionIsAnError(t *testing.T) {
	url := wsTestServer(t, func(ctx context.Context, conn *websocket.Conn) {
		conn.Read(ctx)
		conn.CloseNow()
	})

	b, err := New(url, "sk-test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.Speak(ctx, "hello", voice.Params{}); err == nil {
		t.Fatal("expected error for dropped connection")
	}
}

func TestSpeak_UnknownFramesAreSkipped(t *testing.T) {
	url := wsTestServer(t, func(ctx context.Context, conn *websocket.Conn) {
		conn.Read(ctx)
		conn.Write(ctx, websocket.MessageText, []byte(`{"type":"progress","pct":40}`))
		conn.Write(ctx, websocket.MessageText, []byte(`not json`))
		ev, _ := json.Marshal(statusEvent{Type: "done"})
		conn.Write(ctx, websocket.MessageText, ev)
	})

	b, err := New(url, "sk-test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.Speak(ctx, "hello", voice.Params{}); err != nil {
		t.Fatalf("Speak: %v", err)
	}
}

func TestStop_SendsStopFrame(t *testing.T) {
	stopSeen := make(chan struct{})
	url := wsTestServer(t, func(ctx context.Context, conn *websocket.Conn) {
		for {
			_, msg, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var ev statusEvent
			if json.Unmarshal(msg, &ev) == nil && ev.Type == "stop" {
				close(stopSeen)
				out, _ := json.Marshal(statusEvent{Type: "stopped"})
				conn.Write(ctx, websocket.MessageText, out)
				return
			}
		}
	})

	b, err := New(url, "sk-test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	speakDone := make(chan error, 1)
	go func() { speakDone <- b.Speak(ctx, "a very long story", voice.Params{}) }()

	// Wait for the session to be active before stopping.
	deadline := time.Now().Add(2 * time.Second)
	for {
		b.mu.Lock()
		active := b.conn != nil
		b.mu.Unlock()
		if active {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("session never became active")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := b.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	select {
	case <-stopSeen:
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw the stop frame")
	}
	if err := <-speakDone; err != nil {
		t.Fatalf("Speak after stop: %v", err)
	}
}

func TestStop_NoActiveSessionIsNoop(t *testing.T) {
	b, err := New("wss://voice.example.com/v1/speak", "sk-test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := b.Stop(context.Background()); err != nil {
		t.Fatalf("Stop with no session: %v", err)
	}
}
