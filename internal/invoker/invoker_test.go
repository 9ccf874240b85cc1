package invoker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestInvokePostsSecretsAsSiblingOfInputs(t *testing.T) {
	var gotPath string
	var gotBody map[string]json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(raw, &gotBody); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"transcript": "hello"}`))
	}))
	defer srv.Close()

	inv := NewHTTPInvoker(time.Second, nil)
	out, err := inv.Invoke(context.Background(), srv.URL, "transcribe", Payload{
		Inputs:  map[string]any{"video": "/tmp/input_video.mp4"},
		Secrets: map[string]string{"API_KEY": "hunter2"},
	})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if gotPath != "/invoke/transcribe" {
		t.Fatalf("path = %s, want /invoke/transcribe", gotPath)
	}
	if _, ok := gotBody["inputs"]; !ok {
		t.Fatalf("request missing inputs: %v", gotBody)
	}
	var secrets map[string]string
	if err := json.Unmarshal(gotBody["_secrets"], &secrets); err != nil {
		t.Fatalf("request missing _secrets sibling: %v", gotBody)
	}
	if secrets["API_KEY"] != "hunter2" {
		t.Fatalf("secrets = %v", secrets)
	}
	if out["transcript"] != "hello" {
		t.Fatalf("output = %v", out)
	}
}

func TestInvokeMapsNon2xxToUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "worker crashed", http.StatusInternalServerError)
	}))
	defer srv.Close()

	inv := NewHTTPInvoker(time.Second, nil)
	_, err := inv.Invoke(context.Background(), srv.URL, "run", Payload{Inputs: map[string]any{}})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestInvokeDoesNotRetryAfterRequestWasSent(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	inv := NewHTTPInvoker(time.Second, nil)
	_, err := inv.Invoke(context.Background(), srv.URL, "run", Payload{Inputs: map[string]any{}})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (no replay of delivered requests)", calls)
	}
}

func TestInvokeRetriesConnectFailures(t *testing.T) {
	// A server that is started and immediately closed leaves a port
	// that refuses connections.
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	inv := NewHTTPInvoker(time.Second, nil)
	_, err := inv.Invoke(context.Background(), url, "run", Payload{Inputs: map[string]any{}})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestInvokeRejectsNonJSONResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("<html>not json</html>"))
	}))
	defer srv.Close()

	inv := NewHTTPInvoker(time.Second, nil)
	_, err := inv.Invoke(context.Background(), srv.URL, "run", Payload{Inputs: map[string]any{}})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}
