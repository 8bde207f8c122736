package redis

import (
	_ "embed"

	"github.com/redis/go-redis/v9"
)

var (
	//go:embed lua/record_submission.lua
	recordSubmissionSrc string
	//go:embed lua/transition.lua
	transitionSrc string
)

// Scripts are run with EVALSHA and fall back to EVAL when the server has not cached them.
var (
	recordSubmissionScript = redis.NewScript(recordSubmissionSrc)
	transitionScript       = redis.NewScript(transitionSrc)
)

const (
	codeSkipped      = -2
	codeMissing      = -1
	codeAlreadyDone  = 0
	codeTransitioned = 1
	codeNotReady     = 2
)
