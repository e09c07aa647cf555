// Package seller is the provider side: it accepts or rejects requests,
// waits for payment, runs the analysis and delivers.
package seller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"acp-broker/internal/agent"
	"acp-broker/internal/entity"
	"acp-broker/internal/protocol"
	"acp-broker/internal/retry"
	"acp-broker/internal/service"
	"acp-broker/internal/worker"
)

type Config struct {
	Wallet         string
	Offering       string
	Description    string
	Price          int64
	PaymentTimeout time.Duration
	PollInterval   time.Duration
}

type Analyzer interface {
	Analyze(ctx context.Context, username string) (entity.Deliverable, error)
}

type Listener struct {
	reg      agent.Registry
	analyzer Analyzer
	policy   retry.Policy
	inbox    service.Inbox
	cfg      Config
	log      *logrus.Entry

	Clock retry.Clock
}

func NewListener(reg agent.Registry, analyzer Analyzer, policy retry.Policy, inbox service.Inbox, cfg Config, log *logrus.Entry) *Listener {
	if cfg.PaymentTimeout <= 0 {
		cfg.PaymentTimeout = 10 * time.Minute
	}
	return &Listener{
		reg:      reg,
		analyzer: analyzer,
		policy:   policy,
		inbox:    inbox,
		cfg:      cfg,
		log:      log.WithField("seller", cfg.Wallet),
		Clock:    retry.RealClock,
	}
}

// Register publishes the offering buyers browse for.
func (l *Listener) Register(ctx context.Context) error {
	_, err := l.reg.RegisterOffering(ctx, entity.Offering{
		Seller:      l.cfg.Wallet,
		Name:        l.cfg.Offering,
		Description: l.cfg.Description,
		RequestType: entity.RequestTypeTwitterAnalysis,
		Price:       l.cfg.Price,
	})
	if err != nil {
		return fmt.Errorf("seller: %w", err)
	}
	return nil
}

// Run registers the offering and serves jobs until ctx is done. Active jobs
// are reloaded from the registry first, so a restart resumes where it left.
func (l *Listener) Run(ctx context.Context) error {
	if err := l.Register(ctx); err != nil {
		return err
	}
	proc := worker.NewProcessor(l.reg, l, l.log)
	worker.NewLoop(l.inbox, l.cfg.Wallet, proc, l.Scan, l.cfg.PollInterval, l.Clock, l.log).Run(ctx)
	return nil
}

func (l *Listener) Scan(ctx context.Context) ([]uuid.UUID, error) {
	return agent.ActiveIDs(ctx, l.reg, entity.JobFilter{Seller: l.cfg.Wallet})
}

// Handle moves one job forward from the seller's side. Phases the seller has
// no part in are ignored.
func (l *Listener) Handle(ctx context.Context, job *entity.Job) error {
	if job.Seller != l.cfg.Wallet {
		return nil
	}
	switch job.Phase {
	case entity.PhaseRequested:
		return l.decide(ctx, job)
	case entity.PhaseNegotiating:
		return l.checkPayment(ctx, job)
	case entity.PhasePaid:
		return l.deliver(ctx, job)
	default:
		return nil
	}
}

func (l *Listener) decide(ctx context.Context, job *entity.Job) error {
	log := l.log.WithFields(logrus.Fields{"job_id": job.ID, "phase": job.Phase})
	if job.Offering != l.cfg.Offering {
		log.WithField("offering", job.Offering).Warn("job for an offering we don't serve")
		return nil
	}

	if err := job.Requirements.Validate(); err != nil {
		reason := protocol.Reason(protocol.ReasonInvalidRequirements, err.Error())
		if _, tErr := l.reg.Transition(ctx, job.ID, protocol.Reject(job.Phase, reason)); tErr != nil {
			return fmt.Errorf("seller: reject job %s: %w", job.ID, tErr)
		}
		log.WithField("reason", reason).Info("rejected request")
		return nil
	}

	if _, err := l.reg.Transition(ctx, job.ID, protocol.Accept(job.Phase, l.cfg.Price)); err != nil {
		return fmt.Errorf("seller: accept job %s: %w", job.ID, err)
	}
	log.WithFields(logrus.Fields{"username": job.Requirements.Username, "price": l.cfg.Price}).Info("accepted request")
	return nil
}

// checkPayment cancels a negotiation the buyer never paid for. The deadline
// comes from the stored negotiated_at, so it survives restarts.
func (l *Listener) checkPayment(ctx context.Context, job *entity.Job) error {
	if job.NegotiatedAt == nil {
		return nil
	}
	deadline := job.NegotiatedAt.Add(l.cfg.PaymentTimeout)
	if l.Clock.Now().Before(deadline) {
		return nil
	}

	detail := fmt.Sprintf("payment not received within %s", l.cfg.PaymentTimeout)
	if _, err := l.reg.Transition(ctx, job.ID, protocol.Cancel(job.Phase, "seller", detail)); err != nil {
		return fmt.Errorf("seller: cancel job %s: %w", job.ID, err)
	}
	l.log.WithField("job_id", job.ID).Info("payment timed out, job cancelled")
	return nil
}

func (l *Listener) deliver(ctx context.Context, job *entity.Job) error {
	log := l.log.WithFields(logrus.Fields{"job_id": job.ID, "username": job.Requirements.Username})

	var d entity.Deliverable
	err := l.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		out, err := l.analyzer.Analyze(ctx, job.Requirements.Username)
		if err != nil {
			log.WithField("attempt", attempt).WithError(err).Warn("analysis failed")
			return err
		}
		if out.Empty() {
			return retry.Permanent(errors.New("analysis returned an empty result"))
		}
		d = out
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			// shutting down: leave the job PAID for the next run
			return ctx.Err()
		}
		reason := protocol.Reason(protocol.ReasonDeliveryFailed, err.Error())
		if _, tErr := l.reg.Transition(ctx, job.ID, protocol.Reject(job.Phase, reason)); tErr != nil {
			return fmt.Errorf("seller: reject job %s after %w: %w", job.ID, protocol.ErrDeliveryFailed, tErr)
		}
		log.WithField("reason", reason).Error("delivery failed, job rejected")
		return nil
	}

	if _, err := l.reg.Transition(ctx, job.ID, protocol.Deliver(job.Phase, d)); err != nil {
		return fmt.Errorf("seller: deliver job %s: %w", job.ID, err)
	}
	log.Info("delivered")
	return nil
}
