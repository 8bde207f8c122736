package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// WSEvent mirrors handler.WSEvent for client-side deserialization.
type WSEvent struct {
	Type      string         `json:"type"`
	SessionID string         `json:"session_id"`
	Data      map[string]any `json:"data"`
}

// HumanSeat mirrors service.HumanSeat.
type HumanSeat struct {
	PlayerID    string `json:"player_id"`
	DisplayName string `json:"display_name"`
	RankLevel   int    `json:"rank_level"`
}

// SyntheticSeat mirrors service.SyntheticSeat.
type SyntheticSeat struct {
	DisplayName string `json:"display_name"`
	SkillTier   string `json:"skill_tier,omitempty"`
	RankLevel   int    `json:"rank_level"`
}

// CreateMatchInput is the body of POST /api/v1/matches.
type CreateMatchInput struct {
	Prompt    string          `json:"prompt"`
	Ranked    bool            `json:"ranked"`
	Humans    []HumanSeat     `json:"humans"`
	Synthetic []SyntheticSeat `json:"synthetic"`
}

// CreatedMatch is the response of POST /api/v1/matches.
type CreatedMatch struct {
	MatchID   string `json:"match_id"`
	SessionID string `json:"session_id"`
	Phase     int    `json:"phase"`
	Duration  int    `json:"phase_duration"`
	Ranked    bool   `json:"ranked"`
}

// SubmitOutcome is the subset of the submission response the harness reports on.
type SubmitOutcome struct {
	Phase    int     `json:"phase"`
	Score    float64 `json:"score"`
	Rank     int     `json:"rank"`
	Fallback bool    `json:"fallback"`
	Invalid  bool    `json:"invalid"`
	Rankings []struct {
		PlayerID string  `json:"player_id"`
		Score    float64 `json:"score"`
		Rank     int     `json:"rank"`
	} `json:"rankings"`
}

// SessionView is the subset of the session record the harness polls.
type SessionView struct {
	ID             string `json:"id"`
	MatchID        string `json:"match_id"`
	Phase          int    `json:"phase"`
	CompletedPhase int    `json:"completed_phase"`
	State          string `json:"state"`
}

// Client is an HTTP+WebSocket client for a single harness player.
type Client struct {
	name     string
	baseURL  string
	token    string
	userID   string
	wsConn   *websocket.Conn
	events   chan WSEvent
	httpC    *http.Client
	mu       sync.Mutex
	closedWS bool
}

// NewClient creates a new client targeting the given server URL.
func NewClient(name, baseURL string) *Client {
	return &Client{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		events:  make(chan WSEvent, 64),
		// submissions wait on grading, which may retry
		httpC: &http.Client{Timeout: 2 * time.Minute},
	}
}

// Name returns the player name.
func (c *Client) Name() string { return c.name }

// UserID returns the player's id after login.
func (c *Client) UserID() string { return c.userID }

// Login authenticates via the dev login endpoint.
func (c *Client) Login(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/dev?name="+url.QueryEscape(c.name), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpC.Do(req)
	if err != nil {
		return fmt.Errorf("dev login request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("dev login status %d: %s", resp.StatusCode, body)
	}

	var tokens struct {
		AccessToken string `json:"access_token"`
		UserID      string `json:"user_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		return fmt.Errorf("decode tokens: %w", err)
	}
	c.token = tokens.AccessToken
	c.userID = tokens.UserID
	log.Debug().Str("player", c.name).Str("userId", c.userID).Msg("Harness player logged in")
	return nil
}

// CreateMatch forms a match. The caller must be one of in.Humans.
func (c *Client) CreateMatch(ctx context.Context, in CreateMatchInput) (*CreatedMatch, error) {
	var out CreatedMatch
	if err := c.do(ctx, http.MethodPost, "/api/v1/matches", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetSession fetches the session record.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*SessionView, error) {
	var out SessionView
	if err := c.do(ctx, http.MethodGet, "/api/v1/sessions/"+sessionID, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Backfill asks the server to generate synthetic artifacts for phase.
func (c *Client) Backfill(ctx context.Context, sessionID string, phase int) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/sessions/%s/phases/%d/backfill", sessionID, phase), nil, nil)
}

// Submit sends this player's entry for phase and returns the graded outcome.
func (c *Client) Submit(ctx context.Context, sessionID string, phase int, content string) (*SubmitOutcome, error) {
	var out SubmitOutcome
	path := fmt.Sprintf("/api/v1/sessions/%s/phases/%d/submissions", sessionID, phase)
	if err := c.do(ctx, http.MethodPost, path, map[string]string{"content": content}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RequestTransition asks the server to advance phase if everyone is in.
// It returns the server's observation.
func (c *Client) RequestTransition(ctx context.Context, sessionID string, phase int) (string, error) {
	var out struct {
		Observation string `json:"observation"`
	}
	path := fmt.Sprintf("/api/v1/sessions/%s/phases/%d/transition", sessionID, phase)
	if err := c.do(ctx, http.MethodPost, path, nil, &out); err != nil {
		return "", err
	}
	return out.Observation, nil
}

// ConnectWS opens a WebSocket connection and starts listening for events.
func (c *Client) ConnectWS() error {
	wsURL := strings.Replace(c.baseURL, "http", "ws", 1) + "/api/v1/ws?token=" + url.QueryEscape(c.token)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return fmt.Errorf("ws dial: %w", err)
	}
	c.wsConn = conn

	go c.readWSLoop()
	return nil
}

// SubscribeSession sends a subscribe message for the given session.
func (c *Client) SubscribeSession(sessionID string) error {
	msg := map[string]string{"action": "subscribe", "session_id": sessionID}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wsConn.WriteJSON(msg)
}

// Events returns the channel of incoming WebSocket events.
func (c *Client) Events() <-chan WSEvent { return c.events }

// CloseWS closes the WebSocket connection.
func (c *Client) CloseWS() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.wsConn != nil && !c.closedWS {
		c.closedWS = true
		c.wsConn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.wsConn.Close()
	}
}

func (c *Client) readWSLoop() {
	defer close(c.events)
	for {
		_, msg, err := c.wsConn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closed := c.closedWS
			c.mu.Unlock()
			if !closed {
				log.Debug().Err(err).Str("player", c.name).Msg("WS read error")
			}
			return
		}
		var event WSEvent
		if err := json.Unmarshal(msg, &event); err != nil {
			continue
		}
		select {
		case c.events <- event:
		default:
			log.Debug().Str("player", c.name).Str("type", event.Type).Msg("Event buffer full, dropping")
		}
	}
}

// do sends a JSON request and decodes the response into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var bodyReader io.Reader
	if method == http.MethodPost {
		data := []byte("{}")
		if payload != nil {
			var err error
			if data, err = json.Marshal(payload); err != nil {
				return err
			}
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpC.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: string(body)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// StatusError is returned for 4xx and 5xx responses.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}
