package presence

import (
	"crypto/rand"
	"encoding/base64"
	httptest2 "github.com/getlantern/httptest"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestStore_HandleSocket(t *testing.T) {
	t.Run("should error on a missing room", func(t *testing.T) {
		store, cleanup := setupTestStore(t, Options{})
		defer cleanup()

		testW := httptest.NewRecorder()
		testR := httptest.NewRequest("GET", "/ws", nil)

		var httpErr error
		store.HandleSocket(func(w http.ResponseWriter, r *http.Request, err error) {
			httpErr = err
			http.Error(w, "error", http.StatusBadRequest)
		})(testW, testR)

		resp := testW.Result()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("expected status code to be %d, got %d", http.StatusBadRequest, resp.StatusCode)
		}
		if httpErr == nil {
			t.Fatal("httpErr is nil")
		}
	})
	t.Run("should error on a failed upgrade", func(t *testing.T) {
		store, cleanup := setupTestStore(t, Options{})
		defer cleanup()

		// A plain GET without the websocket handshake headers.
		testW := httptest.NewRecorder()
		testR := httptest.NewRequest("GET", "/ws?room=demo", nil)

		var httpErr error
		store.HandleSocket(func(w http.ResponseWriter, r *http.Request, err error) {
			httpErr = err
		})(testW, testR)

		if httpErr == nil {
			t.Fatal("expected an upgrade error")
		}
	})
	t.Run("should register a subscription for the room", func(t *testing.T) {
		store, cleanup := setupTestStore(t, Options{})
		defer cleanup()

		testW := httptest2.NewRecorder(nil)
		testR := httptest.NewRequest("GET", "/ws?room=demo&client=pc-1", nil)
		testR.Header.Set("Upgrade", "websocket")
		testR.Header.Set("Connection", "Upgrade")
		testR.Header.Set("Sec-WebSocket-Version", "13")

		key, err := generateChallengeKey()
		if err != nil {
			t.Fatal(err)
		}
		testR.Header.Set("Sec-WebSocket-Key", key)

		var httpErr error
		store.HandleSocket(func(w http.ResponseWriter, r *http.Request, err error) {
			httpErr = err
			t.Log(err)
			http.Error(w, "error", http.StatusInternalServerError)
		})(testW, testR)

		if httpErr != nil {
			t.Fatalf("expected http errors to be nil, got %s", httpErr.Error())
		}

		// Give the session goroutines a moment to start.
		<-time.After(time.Millisecond * 10)

		if !store.RoomExists("demo") {
			t.Fatal("expected the socket handler to create the room")
		}
	})
}

func generateChallengeKey() (string, error) {
	p := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, p); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(p), nil
}
