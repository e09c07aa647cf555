package worker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"acp-broker/internal/retry"
	"acp-broker/internal/service"
)

// Scanner lists the jobs an agent may have to act on. It is how a restarted
// agent rebuilds its work from the registry.
type Scanner func(ctx context.Context) ([]uuid.UUID, error)

// Loop is an agent's single-threaded event loop: wake on an inbox
// notification or a poll tick, then process one job at a time.
type Loop struct {
	inbox        service.Inbox // optional
	agent        string
	processor    *Processor
	scan         Scanner
	pollInterval time.Duration
	clock        retry.Clock
	log          *logrus.Entry

	lastScan time.Time
}

func NewLoop(inbox service.Inbox, agent string, processor *Processor, scan Scanner, pollInterval time.Duration, clock retry.Clock, log *logrus.Entry) *Loop {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	if clock == nil {
		clock = retry.RealClock
	}
	return &Loop{
		inbox:        inbox,
		agent:        agent,
		processor:    processor,
		scan:         scan,
		pollInterval: pollInterval,
		clock:        clock,
		log:          log,
	}
}

func (l *Loop) Run(ctx context.Context) {
	l.log.WithFields(logrus.Fields{"agent": l.agent, "poll_interval": l.pollInterval}).Info("agent loop started")

	// reload whatever was in flight before a restart
	l.rescan(ctx)

	for {
		select {
		case <-ctx.Done():
			l.log.Info("agent loop stopped")
			return
		default:
		}
		l.Tick(ctx)
	}
}

// Tick waits for at most one poll interval and processes what woke it.
func (l *Loop) Tick(ctx context.Context) {
	if l.inbox == nil {
		if err := l.clock.Sleep(ctx, l.pollInterval); err != nil {
			return
		}
		l.rescan(ctx)
		return
	}

	jobID, err := l.inbox.ClaimBlocking(ctx, l.agent, l.pollInterval)
	switch {
	case err == nil:
		if pErr := l.processor.Process(ctx, jobID); pErr != nil {
			l.log.WithField("job_id", jobID).WithError(pErr).Warn("process notification")
		}
		// ack either way: the periodic rescan picks up anything left undone
		if ackErr := l.inbox.Ack(ctx, l.agent, jobID); ackErr != nil {
			l.log.WithField("job_id", jobID).WithError(ackErr).Warn("ack notification")
		}
	case errors.Is(err, redis.Nil) || ctx.Err() != nil:
		// idle wait ran out, or shutting down
	default:
		l.log.WithError(err).Warn("inbox claim failed, polling instead")
		_ = l.clock.Sleep(ctx, l.pollInterval)
	}

	// deadlines (payment timeouts) only advance on a rescan
	if l.clock.Now().Sub(l.lastScan) >= l.pollInterval {
		l.rescan(ctx)
	}
}

func (l *Loop) rescan(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	l.lastScan = l.clock.Now()

	ids, err := l.scan(ctx)
	if err != nil {
		l.log.WithError(err).Warn("scan registry")
		return
	}
	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		if err := l.processor.Process(ctx, id.String()); err != nil {
			l.log.WithField("job_id", id).WithError(err).Warn("process job")
		}
	}
}
