package service

import "errors"

var (
	ErrMatchNotFound     = errors.New("match not found")
	ErrSessionNotFound   = errors.New("session not found")
	ErrNotInMatch        = errors.New("you are not a player in this match")
	ErrSyntheticPlayer   = errors.New("synthetic players cannot submit through this path")
	ErrWrongPhase        = errors.New("phase is not the session's current phase")
	ErrMatchCompleted    = errors.New("match is already completed")
	ErrRankedBlocked     = errors.New("player is blocked from ranked play until remediation")
	ErrInvalidRoster     = errors.New("invalid match roster")
	ErrTransitionStalled = errors.New("transition did not complete within the polling budget")
)
