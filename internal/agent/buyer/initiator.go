// Package buyer is the client side: it picks a seller, requests a job, pays
// into escrow and judges the deliverable.
package buyer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"acp-broker/internal/agent"
	"acp-broker/internal/entity"
	"acp-broker/internal/ledger"
	"acp-broker/internal/protocol"
	"acp-broker/internal/retry"
	"acp-broker/internal/service"
)

var ErrNoOffering = errors.New("no matching offering")

type Config struct {
	Wallet         string
	Keyword        string
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
	JobTTL         time.Duration
}

// Uploader publishes a completed job's result somewhere shareable.
type Uploader interface {
	Upload(ctx context.Context, job *entity.Job) (string, error)
}

// Outcome is the final state of a job the buyer followed.
type Outcome struct {
	Job      *entity.Job
	ShareURL string
}

func (o *Outcome) Completed() bool { return o.Job.Phase == entity.PhaseCompleted }

type Initiator struct {
	reg    agent.Registry
	ledger ledger.Ledger
	inbox  service.Inbox
	cfg    Config
	log    *logrus.Entry

	Clock    retry.Clock
	Uploader Uploader // optional
}

func NewInitiator(reg agent.Registry, l ledger.Ledger, inbox service.Inbox, cfg Config, log *logrus.Entry) *Initiator {
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 2 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &Initiator{
		reg:    reg,
		ledger: l,
		inbox:  inbox,
		cfg:    cfg,
		log:    log.WithField("buyer", cfg.Wallet),
		Clock:  retry.RealClock,
	}
}

// Run requests an analysis of username and follows the job to its end.
func (b *Initiator) Run(ctx context.Context, username string) (*Outcome, error) {
	job, err := b.Request(ctx, username)
	if err != nil {
		return nil, err
	}
	return b.Follow(ctx, job.ID)
}

// Request picks the first offering matching the configured keyword and
// creates a job for it. Requirements are passed through unchecked: the
// seller decides whether they are acceptable.
func (b *Initiator) Request(ctx context.Context, username string) (*entity.Job, error) {
	offers, err := b.reg.BrowseOfferings(ctx, b.cfg.Keyword, 5)
	if err != nil {
		return nil, fmt.Errorf("buyer: browse offerings: %w", err)
	}
	var pick *entity.Offering
	for _, o := range offers {
		if o.RequestType == entity.RequestTypeTwitterAnalysis {
			pick = o
			break
		}
	}
	if pick == nil {
		return nil, fmt.Errorf("buyer: keyword %q: %w", b.cfg.Keyword, ErrNoOffering)
	}

	job, err := b.reg.CreateJob(ctx, service.CreateJobRequest{
		Buyer:    b.cfg.Wallet,
		Seller:   pick.Seller,
		Offering: pick.Name,
		Requirements: entity.Requirements{
			Username:    strings.TrimPrefix(strings.TrimSpace(username), "@"),
			RequestType: entity.RequestTypeTwitterAnalysis,
		},
		TTL: b.cfg.JobTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("buyer: %w", err)
	}
	b.log.WithFields(logrus.Fields{"job_id": job.ID, "seller": pick.Seller, "username": username}).Info("job requested")
	return job, nil
}

// Follow drives the job from the buyer's side until it is terminal.
func (b *Initiator) Follow(ctx context.Context, id uuid.UUID) (*Outcome, error) {
	log := b.log.WithField("job_id", id)
	for {
		job, err := b.reg.GetJob(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("buyer: follow job %s: %w", id, err)
		}
		if job.Phase.Terminal() {
			return b.outcome(ctx, job), nil
		}

		acted, err := b.Step(ctx, job)
		switch {
		case err == nil && acted:
			continue
		case errors.Is(err, protocol.ErrStaleState), errors.Is(err, protocol.ErrTerminalJob):
			log.WithField("phase", job.Phase).Info("job moved underneath, re-reading")
			continue
		case errors.Is(err, protocol.ErrLedger):
			return nil, err
		case err != nil:
			log.WithField("phase", job.Phase).WithError(err).Warn("step failed, will retry")
		}

		if err := b.wait(ctx); err != nil {
			return nil, err
		}
	}
}

// Step reacts once to the job's current phase. acted reports whether a
// transition was recorded.
func (b *Initiator) Step(ctx context.Context, job *entity.Job) (acted bool, err error) {
	if job.Buyer != b.cfg.Wallet {
		return false, nil
	}
	switch job.Phase {
	case entity.PhaseNegotiating:
		return b.pay(ctx, job)
	case entity.PhaseDelivered:
		return true, b.evaluate(ctx, job)
	default:
		return false, nil
	}
}

func (b *Initiator) pay(ctx context.Context, job *entity.Job) (bool, error) {
	log := b.log.WithFields(logrus.Fields{"job_id": job.ID, "price": job.Price})

	receipt, err := b.ledger.Pay(ctx, job.ID, job.Price, job.Seller)
	if err != nil {
		b.cancel(ctx, job, "ledger error: "+err.Error())
		return true, fmt.Errorf("buyer: pay job %s: %w: %v", job.ID, protocol.ErrLedger, err)
	}
	log.WithField("tx", receipt.TxHash).Info("paid into escrow")

	err = retry.Poll(ctx, b.Clock, b.cfg.ConfirmTimeout, b.cfg.PollInterval, func(ctx context.Context) (bool, error) {
		return b.ledger.Confirm(ctx, receipt)
	})
	switch {
	case errors.Is(err, retry.ErrTimeout):
		// the escrow is reclaimed once Follow sees the job terminal
		b.cancel(ctx, job, fmt.Sprintf("payment not confirmed within %s", b.cfg.ConfirmTimeout))
		return true, nil
	case err != nil && ctx.Err() != nil:
		return false, ctx.Err()
	case err != nil:
		b.cancel(ctx, job, "ledger error: "+err.Error())
		// Follow returns on ErrLedger without reaching outcome
		if cur, gErr := b.reg.GetJob(ctx, job.ID); gErr == nil && cur.Phase.Terminal() {
			b.reclaim(ctx, cur)
		}
		return true, fmt.Errorf("buyer: confirm payment for job %s: %w: %v", job.ID, protocol.ErrLedger, err)
	}

	if _, err := b.reg.Transition(ctx, job.ID, protocol.PaymentConfirmed(job.Phase, receipt.TxHash)); err != nil {
		if errors.Is(err, protocol.ErrPaymentUnverified) {
			// registry's view lags ours; Pay is idempotent, so the next step re-sends
			return false, err
		}
		return false, fmt.Errorf("buyer: confirm payment for job %s: %w", job.ID, err)
	}
	log.Info("payment confirmed")
	return true, nil
}

func (b *Initiator) evaluate(ctx context.Context, job *entity.Job) error {
	log := b.log.WithField("job_id", job.ID)

	if err := checkDeliverable(job.Deliverable); err != nil {
		reason := protocol.Reason(protocol.ReasonDeliverableInvalid, err.Error())
		if _, tErr := b.reg.Transition(ctx, job.ID, protocol.Reject(job.Phase, reason)); tErr != nil {
			return fmt.Errorf("buyer: reject job %s: %w", job.ID, tErr)
		}
		log.WithField("reason", reason).Warn("deliverable rejected")
		return nil
	}

	if _, err := b.reg.Transition(ctx, job.ID, protocol.Approve(job.Phase)); err != nil {
		return fmt.Errorf("buyer: approve job %s: %w", job.ID, err)
	}
	log.Info("deliverable approved")
	return nil
}

// checkDeliverable is the buyer's acceptance test: a summary and some metrics.
func checkDeliverable(d *entity.Deliverable) error {
	switch {
	case d == nil:
		return errors.New("no deliverable attached")
	case strings.TrimSpace(d.Summary) == "":
		return errors.New("summary is empty")
	case len(d.Metrics) == 0:
		return errors.New("metrics are missing")
	}
	return nil
}

func (b *Initiator) cancel(ctx context.Context, job *entity.Job, detail string) {
	_, err := b.reg.Transition(ctx, job.ID, protocol.Cancel(job.Phase, "buyer", detail))
	switch {
	case err == nil:
		b.log.WithFields(logrus.Fields{"job_id": job.ID, "detail": detail}).Info("job cancelled")
	case errors.Is(err, protocol.ErrStaleState), errors.Is(err, protocol.ErrTerminalJob):
		// the seller or the registry moved it first
	default:
		b.log.WithField("job_id", job.ID).WithError(err).Error("cancel failed")
	}
}

// reclaim refunds an escrow still held for a terminal job the registry never
// recorded a payment on: the confirm timed out, or the seller or the registry
// ended the job between Pay and PAYMENT_CONFIRMED. Paid jobs are settled by
// the registry instead.
func (b *Initiator) reclaim(ctx context.Context, job *entity.Job) {
	if job.Buyer != b.cfg.Wallet || job.PaymentTx != "" {
		return
	}
	log := b.log.WithField("job_id", job.ID)

	e, err := b.ledger.Escrow(ctx, job.ID)
	switch {
	case errors.Is(err, ledger.ErrEscrowNotFound):
		return
	case err != nil:
		log.WithError(err).Error("look up escrow")
		return
	case e.State != ledger.EscrowHeld:
		return
	}

	if err := b.ledger.Refund(ctx, job.ID); err != nil {
		log.WithError(err).Error("refund unconfirmed payment")
		return
	}
	log.WithField("amount", e.Amount).Info("unconfirmed payment refunded")
}

func (b *Initiator) outcome(ctx context.Context, job *entity.Job) *Outcome {
	out := &Outcome{Job: job}
	b.log.WithFields(logrus.Fields{"job_id": job.ID, "phase": job.Phase, "reason": job.Reason}).Info("job finished")

	b.reclaim(ctx, job)

	if out.Completed() && b.Uploader != nil {
		url, err := b.Uploader.Upload(ctx, job)
		if err != nil {
			b.log.WithField("job_id", job.ID).WithError(err).Warn("share upload failed")
		} else {
			out.ShareURL = url
		}
	}
	return out
}

// wait blocks until an inbox notification or one poll interval.
func (b *Initiator) wait(ctx context.Context) error {
	if b.inbox == nil {
		return b.Clock.Sleep(ctx, b.cfg.PollInterval)
	}
	id, err := b.inbox.ClaimBlocking(ctx, b.cfg.Wallet, b.cfg.PollInterval)
	switch {
	case err == nil:
		return b.inbox.Ack(ctx, b.cfg.Wallet, id)
	case errors.Is(err, redis.Nil):
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		b.log.WithError(err).Warn("inbox claim failed, polling instead")
		return b.Clock.Sleep(ctx, b.cfg.PollInterval)
	}
}
