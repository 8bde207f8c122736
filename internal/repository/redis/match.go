package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/freeeve/writing-arena/internal/model"
	"github.com/freeeve/writing-arena/internal/repository"
	"github.com/freeeve/writing-arena/pkg/arena"
)

func matchKey(matchID string) string { return "match:" + matchID }
func artifactsKey(matchID string, phase arena.Phase) string {
	return "match:" + matchID + ":artifacts:" + phase.Key()
}

// CreateMatch writes the match header and roster.
func (c *Client) CreateMatch(ctx context.Context, m *model.Match) error {
	players, err := json.Marshal(m.Players)
	if err != nil {
		return fmt.Errorf("marshal players: %w", err)
	}
	err = c.rdb.HSet(ctx, matchKey(m.ID),
		"matchId", m.ID,
		"sessionId", m.SessionID,
		"prompt", m.Prompt,
		"ranked", boolField(m.Ranked),
		"players", string(players),
		"createdAt", millis(m.CreatedAt),
	).Err()
	if err != nil {
		return fmt.Errorf("create match: %w", err)
	}
	return nil
}

// GetMatch reads the match record including artifacts, rankings and feedback for every
// phase. Returns nil, nil if the match does not exist.
func (c *Client) GetMatch(ctx context.Context, matchID string) (*model.Match, error) {
	var header *redis.MapStringStringCmd
	artifactCmds := make(map[arena.Phase]*redis.MapStringStringCmd, arena.PhaseCount)
	_, err := c.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		header = pipe.HGetAll(ctx, matchKey(matchID))
		for _, p := range arena.AllPhases() {
			artifactCmds[p] = pipe.HGetAll(ctx, artifactsKey(matchID, p))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get match: %w", err)
	}
	h := header.Val()
	if len(h) == 0 {
		return nil, nil
	}

	m := &model.Match{
		ID:        matchID,
		SessionID: h["sessionId"],
		Prompt:    h["prompt"],
		Ranked:    h["ranked"] == "1",
		Rankings:  make(map[arena.Phase][]model.Ranking),
		Feedback:  make(map[string]map[arena.Phase]model.Feedback),
		Artifacts: make(map[arena.Phase][]model.SyntheticArtifact),
	}
	m.CreatedAt, _ = parseMillis(h["createdAt"])
	if err := json.Unmarshal([]byte(h["players"]), &m.Players); err != nil {
		return nil, fmt.Errorf("decode players: %w", err)
	}

	for field, val := range h {
		if phaseKey, ok := strings.CutPrefix(field, "rankings."); ok {
			p, ok := parsePhaseKey(phaseKey)
			if !ok {
				continue
			}
			var rs []model.Ranking
			if err := json.Unmarshal([]byte(val), &rs); err != nil {
				return nil, fmt.Errorf("decode %s: %w", field, err)
			}
			m.Rankings[p] = rs
			continue
		}
		if rest, ok := strings.CutPrefix(field, "feedback."); ok {
			i := strings.LastIndex(rest, ".")
			if i < 0 {
				continue
			}
			p, ok := parsePhaseKey(rest[i+1:])
			if !ok {
				continue
			}
			var fb model.Feedback
			if err := json.Unmarshal([]byte(val), &fb); err != nil {
				return nil, fmt.Errorf("decode %s: %w", field, err)
			}
			playerID := rest[:i]
			if m.Feedback[playerID] == nil {
				m.Feedback[playerID] = make(map[arena.Phase]model.Feedback)
			}
			m.Feedback[playerID][p] = fb
		}
	}

	for p, cmd := range artifactCmds {
		arts, err := decodeArtifacts(cmd.Val())
		if err != nil {
			return nil, err
		}
		if len(arts) > 0 {
			m.Artifacts[p] = arts
		}
	}
	return m, nil
}

func parsePhaseKey(key string) (arena.Phase, bool) {
	n, err := strconv.Atoi(strings.TrimPrefix(key, "phase"))
	if err != nil || !arena.Phase(n).Valid() {
		return 0, false
	}
	return arena.Phase(n), true
}

// InsertArtifact stores the artifact keyed by player id with HSETNX, so the first
// writer wins and late concurrent generators never add a duplicate.
func (c *Client) InsertArtifact(ctx context.Context, matchID string, phase arena.Phase, a model.SyntheticArtifact) (bool, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return false, fmt.Errorf("marshal artifact: %w", err)
	}
	ok, err := c.rdb.HSetNX(ctx, artifactsKey(matchID, phase), a.PlayerID, data).Result()
	if err != nil {
		return false, fmt.Errorf("insert artifact: %w", err)
	}
	return ok, nil
}

// Artifacts returns the synthetic artifacts for a phase ordered by creation time.
func (c *Client) Artifacts(ctx context.Context, matchID string, phase arena.Phase) ([]model.SyntheticArtifact, error) {
	h, err := c.rdb.HGetAll(ctx, artifactsKey(matchID, phase)).Result()
	if err != nil {
		return nil, fmt.Errorf("get artifacts: %w", err)
	}
	return decodeArtifacts(h)
}

func decodeArtifacts(h map[string]string) ([]model.SyntheticArtifact, error) {
	arts := make([]model.SyntheticArtifact, 0, len(h))
	for playerID, val := range h {
		var a model.SyntheticArtifact
		if err := json.Unmarshal([]byte(val), &a); err != nil {
			return nil, fmt.Errorf("decode artifact for %s: %w", playerID, err)
		}
		arts = append(arts, a)
	}
	sort.Slice(arts, func(i, j int) bool {
		if !arts[i].CreatedAt.Equal(arts[j].CreatedAt) {
			return arts[i].CreatedAt.Before(arts[j].CreatedAt)
		}
		return arts[i].PlayerID < arts[j].PlayerID
	})
	return arts, nil
}

// SaveRankings writes rankings and feedback for a phase with a single HSET, touching
// only those fields. Rewrites with identical content are harmless.
func (c *Client) SaveRankings(ctx context.Context, matchID string, phase arena.Phase, rankings []model.Ranking, feedback map[string]model.Feedback) error {
	data, err := json.Marshal(rankings)
	if err != nil {
		return fmt.Errorf("marshal rankings: %w", err)
	}
	fields := map[string]any{"rankings." + phase.Key(): string(data)}
	for playerID, fb := range feedback {
		fbData, err := json.Marshal(fb)
		if err != nil {
			return fmt.Errorf("marshal feedback: %w", err)
		}
		fields["feedback."+playerID+"."+phase.Key()] = string(fbData)
	}
	if err := c.rdb.HSet(ctx, matchKey(matchID), fields).Err(); err != nil {
		return fmt.Errorf("save rankings: %w", err)
	}
	return nil
}

// SaveFeedback writes a single player's feedback field for a phase.
func (c *Client) SaveFeedback(ctx context.Context, matchID string, phase arena.Phase, playerID string, fb model.Feedback) error {
	data, err := json.Marshal(fb)
	if err != nil {
		return fmt.Errorf("marshal feedback: %w", err)
	}
	if err := c.rdb.HSet(ctx, matchKey(matchID), "feedback."+playerID+"."+phase.Key(), string(data)).Err(); err != nil {
		return fmt.Errorf("save feedback: %w", err)
	}
	return nil
}

// Rankings returns the persisted rankings for a phase, or nil if none yet.
func (c *Client) Rankings(ctx context.Context, matchID string, phase arena.Phase) ([]model.Ranking, error) {
	val, err := c.rdb.HGet(ctx, matchKey(matchID), "rankings."+phase.Key()).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get rankings: %w", err)
	}
	var rs []model.Ranking
	if err := json.Unmarshal([]byte(val), &rs); err != nil {
		return nil, fmt.Errorf("decode rankings: %w", err)
	}
	return rs, nil
}

var _ repository.MatchStore = (*Client)(nil)
