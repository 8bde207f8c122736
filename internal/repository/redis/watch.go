package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/freeeve/writing-arena/internal/repository"
)

// WatchSessions pattern-subscribes to session change notifications and emits the ids
// of changed sessions. The channel closes when ctx is done.
func (c *Client) WatchSessions(ctx context.Context) (<-chan string, error) {
	pubsub := c.rdb.PSubscribe(ctx, sessionChannelPattern)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe session changes: %w", err)
	}

	out := make(chan string, 64)
	go func() {
		defer close(out)
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				id, ok := sessionIDFromChannel(msg.Channel)
				if !ok {
					continue
				}
				select {
				case out <- id:
				default:
					log.Debug().Str("sessionId", id).Msg("Session watcher full, dropping notification")
				}
			}
		}
	}()
	return out, nil
}

func sessionIDFromChannel(channel string) (string, bool) {
	rest, ok := strings.CutPrefix(channel, "session:")
	if !ok {
		return "", false
	}
	return strings.CutSuffix(rest, ":changed")
}

var _ repository.SessionWatcher = (*Client)(nil)
