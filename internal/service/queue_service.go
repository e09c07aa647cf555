package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Inbox delivers "job changed" notifications to agents. Agents still re-read
// the job from the registry; an inbox item only says which id to look at.
type Inbox interface {
	Notify(ctx context.Context, agent, jobID string) error
	ClaimBlocking(ctx context.Context, agent string, timeout time.Duration) (string, error)
	Ack(ctx context.Context, agent, jobID string) error
	RequeueStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

// redisInbox is a reliable per-agent queue on Redis lists.
// Notify: LREM + LPUSH onto <prefix>:<agent>:queue (one pending item per job)
// Claim:  BRPOPLPUSH queue -> <prefix>:<agent>:processing, claim time in <prefix>:<agent>:claims
// Ack:    LREM from processing, HDEL claim
type redisInbox struct {
	rdb       *redis.Client
	prefix    string
	agentsKey string
}

func NewRedisInbox(rdb *redis.Client, prefix string) Inbox {
	if prefix == "" {
		prefix = "acp:inbox"
	}
	return &redisInbox{rdb: rdb, prefix: prefix, agentsKey: prefix + ":agents"}
}

type lane struct {
	QueueKey      string
	ProcessingKey string
	ClaimsKey     string
}

func (q *redisInbox) lane(agent string) lane {
	base := q.prefix + ":" + agent
	return lane{QueueKey: base + ":queue", ProcessingKey: base + ":processing", ClaimsKey: base + ":claims"}
}

func (q *redisInbox) Notify(ctx context.Context, agent, jobID string) error {
	ln := q.lane(agent)
	_, err := q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SAdd(ctx, q.agentsKey, agent)
		p.LRem(ctx, ln.QueueKey, 0, jobID)
		p.LPush(ctx, ln.QueueKey, jobID)
		return nil
	})
	return err
}

// ClaimBlocking waits up to timeout for a notification. redis.Nil means the
// wait ran out with nothing to do.
func (q *redisInbox) ClaimBlocking(ctx context.Context, agent string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = time.Second
	}
	ln := q.lane(agent)

	id, err := q.rdb.BRPopLPush(ctx, ln.QueueKey, ln.ProcessingKey, timeout).Result()
	if err != nil {
		return "", err
	}
	// remember when it was claimed so the reaper can tell stale from busy
	if hErr := q.rdb.HSet(ctx, ln.ClaimsKey, id, time.Now().UnixMilli()).Err(); hErr != nil {
		return "", hErr
	}
	return id, nil
}

func (q *redisInbox) Ack(ctx context.Context, agent, jobID string) error {
	ln := q.lane(agent)
	if err := q.rdb.LRem(ctx, ln.ProcessingKey, 1, jobID).Err(); err != nil {
		return err
	}
	_ = q.rdb.HDel(ctx, ln.ClaimsKey, jobID).Err()
	return nil
}

// RequeueStale moves items claimed longer than olderThan ago back to their
// agent's queue (the agent crashed or restarted mid-job). At-least-once.
func (q *redisInbox) RequeueStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	agents, err := q.rdb.SMembers(ctx, q.agentsKey).Result()
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-olderThan).UnixMilli()
	var moved int64
	for _, agent := range agents {
		ln := q.lane(agent)
		claims, err := q.rdb.HGetAll(ctx, ln.ClaimsKey).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return moved, err
		}
		for id, at := range claims {
			ms, _ := strconv.ParseInt(at, 10, 64)
			if ms > cutoff {
				continue
			}
			if _, err := q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
				p.LRem(ctx, ln.ProcessingKey, 1, id)
				p.LRem(ctx, ln.QueueKey, 0, id)
				p.RPush(ctx, ln.QueueKey, id)
				p.HDel(ctx, ln.ClaimsKey, id)
				return nil
			}); err != nil {
				return moved, err
			}
			moved++
		}
	}
	return moved, nil
}
