package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/freeeve/writing-arena/internal/model"
	"github.com/freeeve/writing-arena/internal/repository"
	"github.com/freeeve/writing-arena/pkg/arena"
)

// HumanSeat is a real player joining a new match.
type HumanSeat struct {
	PlayerID    string `json:"player_id" validate:"required,max=64"`
	DisplayName string `json:"display_name" validate:"required,max=40"`
	RankLevel   int    `json:"rank_level" validate:"gte=0,lte=100"`
}

// SyntheticSeat is an AI-backfill seat in a new match.
type SyntheticSeat struct {
	DisplayName string `json:"display_name" validate:"required,max=40"`
	SkillTier   string `json:"skill_tier" validate:"omitempty,oneof=novice intermediate advanced"`
	RankLevel   int    `json:"rank_level" validate:"gte=0,lte=100"`
}

// CreateMatchRequest is a validated request to form a match.
type CreateMatchRequest struct {
	Prompt    string          `json:"prompt" validate:"required,min=10,max=2000"`
	Ranked    bool            `json:"ranked"`
	Humans    []HumanSeat     `json:"humans" validate:"required,min=1,max=6,dive"`
	Synthetic []SyntheticSeat `json:"synthetic" validate:"max=6,dive"`
}

// BlockChecker answers whether a user may enter ranked play.
type BlockChecker interface {
	CheckBlocked(ctx context.Context, userID string) (arena.BlockResult, error)
}

// MatchService forms matches and reads match and session records.
type MatchService struct {
	matches    repository.MatchStore
	sessions   repository.SessionStore
	blocks     BlockChecker
	backfiller Backfiller
	durations  [arena.PhaseCount]time.Duration
	now        func() time.Time
}

// NewMatchService creates a MatchService. blocks and backfiller may be nil.
func NewMatchService(matches repository.MatchStore, sessions repository.SessionStore, blocks BlockChecker, backfiller Backfiller, durations [arena.PhaseCount]time.Duration) *MatchService {
	return &MatchService{
		matches:    matches,
		sessions:   sessions,
		blocks:     blocks,
		backfiller: backfiller,
		durations:  durations,
		now:        time.Now,
	}
}

// CreateMatch creates the match and session records together with phase 1 active,
// then starts synthetic backfill for phase 1 in the background.
func (s *MatchService) CreateMatch(ctx context.Context, req CreateMatchRequest) (*model.Match, *model.Session, error) {
	seen := make(map[string]bool)
	for _, h := range req.Humans {
		if seen[h.PlayerID] {
			return nil, nil, fmt.Errorf("%w: duplicate player %s", ErrInvalidRoster, h.PlayerID)
		}
		seen[h.PlayerID] = true
	}

	if req.Ranked && s.blocks != nil {
		for _, h := range req.Humans {
			res, err := s.blocks.CheckBlocked(ctx, h.PlayerID)
			if err != nil {
				return nil, nil, err
			}
			if res.Blocked {
				return nil, nil, fmt.Errorf("%w: %s (%v)", ErrRankedBlocked, h.PlayerID, res.BlockingCriteria)
			}
		}
	}

	now := s.now().UTC()
	m := &model.Match{
		ID:        uuid.NewString(),
		SessionID: uuid.NewString(),
		Prompt:    req.Prompt,
		Ranked:    req.Ranked,
		CreatedAt: now,
	}
	sess := &model.Session{
		ID:            m.SessionID,
		MatchID:       m.ID,
		Phase:         arena.PhaseDraft,
		PhaseDuration: int(s.durations[0] / time.Second),
		PhaseStart:    map[arena.Phase]time.Time{arena.PhaseDraft: now},
		State:         arena.SessionActive,
		UpdatedAt:     now,
		Players:       make(map[string]*model.SessionPlayer),
	}
	for _, h := range req.Humans {
		m.Players = append(m.Players, model.Player{PlayerID: h.PlayerID, DisplayName: h.DisplayName, RankLevel: h.RankLevel})
		sess.Players[h.PlayerID] = &model.SessionPlayer{}
	}
	for _, a := range req.Synthetic {
		tier := a.SkillTier
		if tier == "" {
			tier = arena.DefaultSkillTier
		}
		id := "ai-" + uuid.NewString()
		m.Players = append(m.Players, model.Player{
			PlayerID:    id,
			DisplayName: a.DisplayName,
			IsSynthetic: true,
			RankLevel:   a.RankLevel,
			SkillTier:   tier,
		})
		sess.Players[id] = &model.SessionPlayer{IsAI: true}
	}

	if err := s.matches.CreateMatch(ctx, m); err != nil {
		return nil, nil, err
	}
	if err := s.sessions.CreateSession(ctx, sess); err != nil {
		return nil, nil, err
	}
	log.Info().Str("matchId", m.ID).Str("sessionId", sess.ID).Int("humans", len(req.Humans)).
		Int("synthetic", len(req.Synthetic)).Bool("ranked", req.Ranked).Msg("Match created")

	if len(req.Synthetic) > 0 {
		s.StartBackfill(m.ID, arena.PhaseDraft)
	}
	return m, sess, nil
}

// StartBackfill runs synthetic backfill for a phase in a background goroutine.
func (s *MatchService) StartBackfill(matchID string, phase arena.Phase) {
	if s.backfiller == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if _, err := s.backfiller.Backfill(ctx, matchID, phase); err != nil {
			log.Error().Err(err).Str("matchId", matchID).Int("phase", int(phase)).Msg("Synthetic backfill failed")
		}
	}()
}

// StartBackfillForSession resolves the session's match and starts backfill for phase.
// Used as the transition trigger's advance hook.
func (s *MatchService) StartBackfillForSession(sessionID string, phase arena.Phase) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sess, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil || sess == nil {
		log.Error().Err(err).Str("sessionId", sessionID).Msg("Cannot start backfill, session unreadable")
		return
	}
	s.StartBackfill(sess.MatchID, phase)
}

// GetMatch returns a match or ErrMatchNotFound.
func (s *MatchService) GetMatch(ctx context.Context, matchID string) (*model.Match, error) {
	m, err := s.matches.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, ErrMatchNotFound
	}
	return m, nil
}

// GetSession returns a session or ErrSessionNotFound.
func (s *MatchService) GetSession(ctx context.Context, sessionID string) (*model.Session, error) {
	sess, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}
