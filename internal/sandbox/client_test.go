package sandbox

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/akmatori/autoheal/internal/database"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{}

// fakeSandbox upgrades the connection, checks the request and replays script
func fakeSandbox(t *testing.T, script func(conn *websocket.Conn, req Message, r *http.Request)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		var req Message
		if err := conn.ReadJSON(&req); err != nil {
			t.Errorf("failed to read request: %v", err)
			return
		}
		script(conn, req, r)
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestClient_VerifySuccess(t *testing.T) {
	srv := fakeSandbox(t, func(conn *websocket.Conn, req Message, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sbx-token" {
			conn.WriteJSON(Message{Type: MessageTypeError, Error: "unauthorized"})
			return
		}
		if req.Type != MessageTypeVerifyRequest || len(req.Files) != 1 || req.Env["GOFLAGS"] != "-mod=mod" ||
			req.BaseBranch != "main" || req.Branch != "release/2.4" {
			conn.WriteJSON(Message{Type: MessageTypeError, Error: "bad request"})
			return
		}
		conn.WriteJSON(Message{Type: MessageTypeLog, Line: "go test ./..."})
		conn.WriteJSON(Message{Type: MessageTypeLog, Line: "ok"})
		conn.WriteJSON(Message{Type: MessageTypeResult, Success: true})
		conn.ReadMessage()
	})
	defer srv.Close()

	var streamed []string
	res, err := NewClient(wsURL(srv)).Verify(context.Background(), Request{
		IncidentID: "inc-1",
		BaseBranch: "main",
		Branch:     "release/2.4",
		Files:      []database.FileUpdate{{Path: "main.go", Content: "package main"}},
		Env:        map[string]string{"GOFLAGS": "-mod=mod"},
		Token:      "sbx-token",
	}, func(line string) { streamed = append(streamed, line) })
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if !res.Success {
		t.Error("expected success")
	}
	if len(res.Logs) != 2 || len(streamed) != 2 || streamed[1] != "ok" {
		t.Errorf("unexpected logs %v streamed %v", res.Logs, streamed)
	}
}

func TestClient_VerifyFailureKeepsLogs(t *testing.T) {
	srv := fakeSandbox(t, func(conn *websocket.Conn, req Message, r *http.Request) {
		conn.WriteJSON(Message{Type: MessageTypeLog, Line: "--- FAIL: TestPool"})
		conn.WriteJSON(Message{Type: MessageTypeResult, Success: false})
		conn.ReadMessage()
	})
	defer srv.Close()

	res, err := NewClient(wsURL(srv)).Verify(context.Background(), Request{IncidentID: "inc-1"}, nil)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if res.Success || len(res.Logs) != 1 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestClient_VerifySandboxError(t *testing.T) {
	srv := fakeSandbox(t, func(conn *websocket.Conn, req Message, r *http.Request) {
		conn.WriteJSON(Message{Type: MessageTypeError, Error: "no capacity"})
	})
	defer srv.Close()

	_, err := NewClient(wsURL(srv)).Verify(context.Background(), Request{}, nil)
	if err == nil || !strings.Contains(err.Error(), "no capacity") {
		t.Errorf("expected sandbox error, got %v", err)
	}
}

func TestClient_VerifyConnectionLost(t *testing.T) {
	srv := fakeSandbox(t, func(conn *websocket.Conn, req Message, r *http.Request) {
		conn.WriteJSON(Message{Type: MessageTypeLog, Line: "building"})
	})
	defer srv.Close()

	_, err := NewClient(wsURL(srv)).Verify(context.Background(), Request{}, nil)
	if !errors.Is(err, ErrConnectionLost) {
		t.Errorf("expected ErrConnectionLost, got %v", err)
	}
}

func TestClient_VerifyTimeout(t *testing.T) {
	srv := fakeSandbox(t, func(conn *websocket.Conn, req Message, r *http.Request) {
		time.Sleep(2 * time.Second)
	})
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := NewClient(wsURL(srv)).Verify(ctx, Request{}, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestClient_DialFailure(t *testing.T) {
	_, err := NewClient("ws://127.0.0.1:1/verify").Verify(context.Background(), Request{}, nil)
	if err == nil {
		t.Error("expected dial error")
	}
}
