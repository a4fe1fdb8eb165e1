// Package sandbox is the client for the isolated build-and-test runner that
// verifies candidate patches. Log lines stream back over a websocket.
package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/akmatori/autoheal/internal/database"
	"github.com/gorilla/websocket"
)

// MessageType represents the type of sandbox websocket message
type MessageType string

const (
	// Messages to the sandbox
	MessageTypeVerifyRequest MessageType = "verify_request"

	// Messages from the sandbox
	MessageTypeLog    MessageType = "log"
	MessageTypeResult MessageType = "result"
	MessageTypeError  MessageType = "error"
)

// DefaultMaxLogLines bounds the logs kept per verification
const DefaultMaxLogLines = 2000

// Message represents a sandbox websocket message
type Message struct {
	Type       MessageType           `json:"type"`
	IncidentID string                `json:"incident_id,omitempty"`
	Repository string                `json:"repository,omitempty"`
	BaseBranch string                `json:"base_branch,omitempty"`
	Branch     string                `json:"branch,omitempty"`
	Files      []database.FileUpdate `json:"files,omitempty"`
	Env        map[string]string     `json:"env,omitempty"`
	Line       string                `json:"line,omitempty"`
	Success    bool                  `json:"success,omitempty"`
	Error      string                `json:"error,omitempty"`
}

// Request describes one verification run
type Request struct {
	IncidentID string
	Repository string
	BaseBranch string
	// Branch is the incident's source branch; empty means BaseBranch
	Branch string
	Files  []database.FileUpdate
	Env    map[string]string
	// Token authenticates against the sandbox; empty means anonymous
	Token string
}

// Result is the outcome of a verification run
type Result struct {
	Success bool
	Logs    []string
}

// ErrConnectionLost is returned when the sandbox closes before reporting a result
var ErrConnectionLost = errors.New("sandbox connection closed before result")

// Client runs verifications against a remote sandbox
type Client struct {
	url         string
	dialer      *websocket.Dialer
	maxLogLines int
}

// NewClient creates a new sandbox client
func NewClient(url string) *Client {
	return &Client{
		url: url,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		maxLogLines: DefaultMaxLogLines,
	}
}

// Verify applies the files in a fresh sandbox, runs the project's checks and
// streams each log line to onLog as it arrives.
func (c *Client) Verify(ctx context.Context, req Request, onLog func(string)) (*Result, error) {
	header := http.Header{}
	if req.Token != "" {
		header.Set("Authorization", "Bearer "+req.Token)
	}

	conn, _, err := c.dialer.DialContext(ctx, c.url, header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to sandbox: %w", err)
	}

	var closeOnce sync.Once
	closeConn := func() { closeOnce.Do(func() { conn.Close() }) }
	defer closeConn()

	// Unblock ReadMessage when the caller gives up
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			closeConn()
		case <-stop:
		}
	}()

	request := Message{
		Type:       MessageTypeVerifyRequest,
		IncidentID: req.IncidentID,
		Repository: req.Repository,
		BaseBranch: req.BaseBranch,
		Branch:     req.Branch,
		Files:      req.Files,
		Env:        req.Env,
	}
	if err := conn.WriteJSON(request); err != nil {
		return nil, fmt.Errorf("failed to send verify request: %w", err)
	}

	result := &Result{}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("Sandbox: read error for incident %s: %v", req.IncidentID, err)
			}
			return nil, ErrConnectionLost
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("Sandbox: failed to parse message: %v", err)
			continue
		}

		switch msg.Type {
		case MessageTypeLog:
			result.Logs = append(result.Logs, msg.Line)
			if len(result.Logs) > c.maxLogLines {
				result.Logs = result.Logs[len(result.Logs)-c.maxLogLines:]
			}
			if onLog != nil {
				onLog(msg.Line)
			}
		case MessageTypeResult:
			result.Success = msg.Success
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return result, nil
		case MessageTypeError:
			return nil, fmt.Errorf("sandbox error: %s", msg.Error)
		default:
			log.Printf("Sandbox: ignoring message type %q", msg.Type)
		}
	}
}
