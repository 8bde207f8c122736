package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/freeeve/writing-arena/internal/model"
	"github.com/freeeve/writing-arena/internal/repository"
	"github.com/freeeve/writing-arena/pkg/arena"
)

// Session records are hashes with one field per path, so concurrent writers touching
// different players never clobber each other.
func sessionKey(sessionID string) string         { return "session:" + sessionID }
func humansKey(sessionID string) string          { return "session:" + sessionID + ":humans" }
func sessionChannel(sessionID string) string     { return "session:" + sessionID + ":changed" }
func playerField(playerID, suffix string) string { return "players." + playerID + "." + suffix }

const (
	activeSessionsKey     = "sessions:active"
	sessionChannelPattern = "session:*:changed"
)

// storedSubmission is the JSON held at players.{id}.phases.phase{N}.
type storedSubmission struct {
	Content   string   `json:"content"`
	WordCount int      `json:"wordCount"`
	Score     *float64 `json:"score,omitempty"`
}

// CreateSession writes a new session record and registers it as active.
func (c *Client) CreateSession(ctx context.Context, s *model.Session) error {
	fields := map[string]any{
		"matchId":                      s.MatchID,
		"state":                        string(s.State),
		"updatedAt":                    millis(s.UpdatedAt),
		"config.phase":                 int(s.Phase),
		"config.phaseDuration":         s.PhaseDuration,
		"coordination.readyCount":      0,
		"coordination.allPlayersReady": "0",
		"coordination.completedPhase":  0,
	}
	for p, t := range s.PhaseStart {
		fields["timing."+p.Key()+"StartTime"] = millis(t)
	}
	var humans []any
	for id, p := range s.Players {
		fields[playerField(id, "isAI")] = boolField(p.IsAI)
		if !p.IsAI {
			humans = append(humans, id)
		}
	}

	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, sessionKey(s.ID), fields)
		if len(humans) > 0 {
			pipe.SAdd(ctx, humansKey(s.ID), humans...)
		}
		pipe.SAdd(ctx, activeSessionsKey, s.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	c.notify(ctx, s.ID)
	return nil
}

// GetSession reads the whole session record. Returns nil, nil if it does not exist.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*model.Session, error) {
	h, err := c.rdb.HGetAll(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if len(h) == 0 {
		return nil, nil
	}
	return decodeSession(sessionID, h)
}

func decodeSession(id string, h map[string]string) (*model.Session, error) {
	s := &model.Session{
		ID:         id,
		MatchID:    h["matchId"],
		State:      arena.SessionState(h["state"]),
		PhaseStart: make(map[arena.Phase]time.Time),
		Players:    make(map[string]*model.SessionPlayer),
	}
	phase, _ := strconv.Atoi(h["config.phase"])
	s.Phase = arena.Phase(phase)
	s.PhaseDuration, _ = strconv.Atoi(h["config.phaseDuration"])
	s.ReadyCount, _ = strconv.Atoi(h["coordination.readyCount"])
	s.CompletedPhase, _ = strconv.Atoi(h["coordination.completedPhase"])
	s.AllPlayersReady = h["coordination.allPlayersReady"] == "1"
	s.UpdatedAt, _ = parseMillis(h["updatedAt"])
	if t, ok := parseMillis(h["timing.completedAt"]); ok {
		s.CompletedAt = &t
	}
	for _, p := range arena.AllPhases() {
		if t, ok := parseMillis(h["timing."+p.Key()+"StartTime"]); ok {
			s.PhaseStart[p] = t
		}
	}

	for field, val := range h {
		rest, ok := strings.CutPrefix(field, "players.")
		if !ok {
			continue
		}
		if playerID, ok := strings.CutSuffix(rest, ".isAI"); ok {
			sessionPlayer(s, playerID).IsAI = val == "1"
			continue
		}
		playerID, phasePath, ok := strings.Cut(rest, ".phases.")
		if !ok {
			continue
		}
		phaseKey, attr, _ := strings.Cut(phasePath, ".")
		n, err := strconv.Atoi(strings.TrimPrefix(phaseKey, "phase"))
		if err != nil {
			continue
		}
		p := sessionPlayer(s, playerID)
		sub := p.Phases[arena.Phase(n)]
		switch attr {
		case "":
			var stored storedSubmission
			if err := json.Unmarshal([]byte(val), &stored); err != nil {
				return nil, fmt.Errorf("decode submission %s: %w", field, err)
			}
			sub.Content = stored.Content
			sub.WordCount = stored.WordCount
			sub.Score = stored.Score
		case "submitted":
			sub.Submitted = val == "1"
		case "submittedAt":
			if t, ok := parseMillis(val); ok {
				sub.SubmittedAt = &t
			}
		}
		p.Phases[arena.Phase(n)] = sub
	}
	return s, nil
}

func sessionPlayer(s *model.Session, id string) *model.SessionPlayer {
	p, ok := s.Players[id]
	if !ok {
		p = &model.SessionPlayer{Phases: make(map[arena.Phase]model.PhaseSubmission)}
		s.Players[id] = p
	}
	return p
}

// RecordSubmission writes a player's entry for phase in a single script so the
// readyCount it recomputes always matches the flags it just wrote. It reports false
// when p.IfAbsent is set and the player had already submitted.
func (c *Client) RecordSubmission(ctx context.Context, sessionID, playerID string, phase arena.Phase, p model.SubmissionPayload, at time.Time) (bool, error) {
	payload, err := json.Marshal(storedSubmission{Content: p.Content, WordCount: p.WordCount, Score: p.Score})
	if err != nil {
		return false, fmt.Errorf("marshal submission: %w", err)
	}
	n, err := recordSubmissionScript.Run(ctx, c.rdb,
		[]string{sessionKey(sessionID), humansKey(sessionID)},
		playerID, phase.Key(), string(payload), millis(at), boolField(p.IfAbsent),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("record submission: %w", err)
	}
	switch n {
	case codeMissing:
		return false, fmt.Errorf("record submission for session %s: %w", sessionID, repository.ErrNotFound)
	case codeSkipped:
		return false, nil
	}
	c.notify(ctx, sessionID)
	return true, nil
}

// Transition runs the guarded check-and-write for leaving phase from.
func (c *Client) Transition(ctx context.Context, sessionID string, from arena.Phase, nextDuration time.Duration, at time.Time) (model.TransitionResult, error) {
	_, terminal := arena.Next(from)
	res, err := transitionScript.Run(ctx, c.rdb,
		[]string{sessionKey(sessionID), humansKey(sessionID), activeSessionsKey},
		int(from), millis(at), int(nextDuration/time.Second), boolField(terminal), sessionID,
	).Int64Slice()
	if err != nil {
		return model.TransitionResult{}, fmt.Errorf("transition: %w", err)
	}
	if len(res) != 2 {
		return model.TransitionResult{}, fmt.Errorf("transition: unexpected reply %v", res)
	}

	out := model.TransitionResult{Phase: arena.Phase(res[1])}
	switch res[0] {
	case codeMissing:
		out.Outcome = model.TransitionNotFound
	case codeAlreadyDone:
		out.Outcome = model.TransitionAlreadyDone
	case codeNotReady:
		out.Outcome = model.TransitionNotReady
	case codeTransitioned:
		out.Outcome = model.TransitionPerformed
		out.Completed = terminal
		c.notify(ctx, sessionID)
	default:
		return model.TransitionResult{}, fmt.Errorf("transition: unknown code %d", res[0])
	}
	return out, nil
}

// ActiveSessions lists sessions that have not completed.
func (c *Client) ActiveSessions(ctx context.Context) ([]string, error) {
	ids, err := c.rdb.SMembers(ctx, activeSessionsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("active sessions: %w", err)
	}
	return ids, nil
}

// notify publishes a change notification. Watchers also poll, so a lost publish only
// delays observation.
func (c *Client) notify(ctx context.Context, sessionID string) {
	c.rdb.Publish(ctx, sessionChannel(sessionID), sessionID)
}

var _ repository.SessionStore = (*Client)(nil)
