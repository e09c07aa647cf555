package worker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"acp-broker/internal/entity"
	"acp-broker/internal/protocol"
)

type JobSource interface {
	GetJob(ctx context.Context, id uuid.UUID) (*entity.Job, error)
}

// Handler reacts to the current phase of one job.
type Handler interface {
	Handle(ctx context.Context, job *entity.Job) error
}

type HandlerFunc func(ctx context.Context, job *entity.Job) error

func (f HandlerFunc) Handle(ctx context.Context, job *entity.Job) error { return f(ctx, job) }

// maxStaleRetries bounds how often a lost race is re-read and re-handled.
const maxStaleRetries = 3

type Processor struct {
	source  JobSource
	handler Handler
	log     *logrus.Entry
}

func NewProcessor(source JobSource, handler Handler, log *logrus.Entry) *Processor {
	return &Processor{source: source, handler: handler, log: log}
}

// Process loads the job fresh from the registry and hands it to the handler.
// Stale-state failures re-read the job and try again.
func (p *Processor) Process(ctx context.Context, jobID string) error {
	start := time.Now()

	id, err := uuid.Parse(jobID)
	if err != nil {
		p.log.WithField("job_id", jobID).WithError(err).Warn("bad job id")
		return err
	}
	log := p.log.WithField("job_id", id)

	for attempt := 0; ; attempt++ {
		job, err := p.source.GetJob(ctx, id)
		if err != nil {
			if errors.Is(err, protocol.ErrJobNotFound) {
				log.Info("job gone from registry")
				return nil
			}
			log.WithError(err).Error("get job")
			return err
		}

		err = p.handler.Handle(ctx, job)
		switch {
		case err == nil:
			log.WithFields(logrus.Fields{
				"phase": job.Phase, "duration_ms": time.Since(start).Milliseconds(),
			}).Debug("handled")
			return nil
		case errors.Is(err, protocol.ErrStaleState) && attempt < maxStaleRetries:
			log.WithField("phase", job.Phase).Info("stale job state, re-reading")
			continue
		case errors.Is(err, protocol.ErrTerminalJob):
			return nil
		default:
			log.WithFields(logrus.Fields{
				"phase": job.Phase, "duration_ms": time.Since(start).Milliseconds(),
			}).WithError(err).Error("handle job")
			return err
		}
	}
}
