package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"acp-broker/internal/entity"
	"acp-broker/internal/ledger"
	"acp-broker/internal/protocol"
	"acp-broker/internal/repository"
)

// Порты хранилища (реализации: postgresql, memory)
type JobRepository interface {
	Create(ctx context.Context, job *entity.Job) (uuid.UUID, error)
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error)
	CompareAndSwap(ctx context.Context, next *entity.Job, prevPhase entity.Phase) error
	List(ctx context.Context, f entity.JobFilter) ([]*entity.Job, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*entity.Job, error)
	ListUnsettled(ctx context.Context, limit int) ([]*entity.Job, error)
	ArchiveTerminal(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

type OfferingRepository interface {
	Upsert(ctx context.Context, o *entity.Offering) error
	Search(ctx context.Context, keyword string, limit int) ([]*entity.Offering, error)
}

// Registry is the single writer of job state. Every mutation goes through
// protocol.Apply and a compare-and-set on (id, phase, version).
type Registry struct {
	jobs      JobRepository
	offerings OfferingRepository
	ledger    ledger.Ledger
	inbox     Inbox
	log       *logrus.Entry

	Now        func() time.Time
	DefaultTTL time.Duration
}

func NewRegistry(jobs JobRepository, offerings OfferingRepository, l ledger.Ledger, inbox Inbox, log *logrus.Entry) *Registry {
	return &Registry{
		jobs:       jobs,
		offerings:  offerings,
		ledger:     l,
		inbox:      inbox,
		log:        log,
		Now:        func() time.Time { return time.Now().UTC() },
		DefaultTTL: 24 * time.Hour,
	}
}

type CreateJobRequest struct {
	Buyer        string              `validate:"required"`
	Seller       string              `validate:"required"`
	Offering     string              `validate:"required"`
	Requirements entity.Requirements `validate:"-"` // checked by the seller, not here
	TTL          time.Duration
}

func (s *Registry) CreateJob(ctx context.Context, req CreateJobRequest) (*entity.Job, error) {
	if err := entity.ValidateStruct(req); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	ttl := req.TTL
	if ttl <= 0 {
		ttl = s.DefaultTTL
	}

	now := s.Now()
	job := &entity.Job{
		Buyer:        req.Buyer,
		Seller:       req.Seller,
		Offering:     req.Offering,
		Phase:        entity.PhaseRequested,
		Version:      1,
		Requirements: req.Requirements,
		CreatedAt:    now,
		UpdatedAt:    now,
		ExpiresAt:    now.Add(ttl),
	}
	id, err := s.jobs.Create(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	job.ID = id

	s.log.WithFields(logrus.Fields{
		"job_id": id, "buyer": job.Buyer, "seller": job.Seller, "username": job.Requirements.Username,
	}).Info("job requested")
	s.notify(ctx, job)
	return job, nil
}

func (s *Registry) GetJob(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	j, err := s.jobs.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("job %s: %w", id, protocol.ErrJobNotFound)
		}
		return nil, err
	}
	return j, nil
}

func (s *Registry) ListJobs(ctx context.Context, f entity.JobFilter) ([]*entity.Job, error) {
	return s.jobs.List(ctx, f)
}

// Transition applies ev to the stored job. A concurrent writer that got there
// first makes this fail with protocol.ErrStaleState; re-fetch and decide again.
func (s *Registry) Transition(ctx context.Context, id uuid.UUID, ev protocol.Event) (*entity.Job, error) {
	cur, err := s.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	log := s.log.WithFields(logrus.Fields{"job_id": id, "phase": cur.Phase, "event": ev.Type})

	next, err := protocol.Apply(*cur, ev, s.Now())
	if err != nil {
		if errors.Is(err, protocol.ErrInvalidTransition) {
			log.WithError(err).Error("refused transition")
		} else {
			log.WithError(err).Warn("refused transition")
		}
		return nil, err
	}

	if ev.Type == protocol.EventPaymentConfirmed {
		if err := s.verifyPayment(ctx, cur, ev.PaymentTx); err != nil {
			log.WithError(err).Warn("payment not verified")
			return nil, err
		}
	}

	if err := s.jobs.CompareAndSwap(ctx, &next, cur.Phase); err != nil {
		switch {
		case errors.Is(err, repository.ErrVersionConflict):
			log.Info("lost race, job changed underneath")
			return nil, fmt.Errorf("job %s: %w", id, protocol.ErrStaleState)
		case errors.Is(err, repository.ErrNotFound):
			return nil, fmt.Errorf("job %s: %w", id, protocol.ErrJobNotFound)
		}
		return nil, err
	}

	log.WithFields(logrus.Fields{"to": next.Phase, "version": next.Version, "reason": next.Reason}).Info("job transitioned")

	if next.Settlement == entity.SettlementPending {
		if settled, err := s.Settle(ctx, &next); err != nil {
			// left pending, the settlement reaper retries
			log.WithError(err).Error("settlement failed")
		} else {
			next = *settled
		}
	}
	s.notify(ctx, &next)
	return &next, nil
}

func (s *Registry) verifyPayment(ctx context.Context, job *entity.Job, tx string) error {
	r, err := ledger.Lookup(ctx, s.ledger, job.ID, tx)
	if err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrPaymentUnverified, err)
	}
	if r.Amount != job.Price {
		return fmt.Errorf("%w: paid %d, price %d", protocol.ErrPaymentUnverified, r.Amount, job.Price)
	}
	if r.Payee != job.Seller {
		return fmt.Errorf("%w: payee %s is not the seller", protocol.ErrPaymentUnverified, r.Payee)
	}
	ok, err := s.ledger.Confirm(ctx, r)
	if err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrLedger, err)
	}
	if !ok {
		return fmt.Errorf("%w: not confirmed yet", protocol.ErrPaymentUnverified)
	}
	return nil
}

// Settle moves escrowed funds for a terminal paid job: COMPLETED releases to
// the seller, REJECTED/EXPIRED refund the buyer.
func (s *Registry) Settle(ctx context.Context, job *entity.Job) (*entity.Job, error) {
	if job.Settlement != entity.SettlementPending {
		return job, nil
	}

	var (
		to  entity.Settlement
		err error
	)
	if job.Phase == entity.PhaseCompleted {
		to, err = entity.SettlementReleased, s.ledger.Release(ctx, job.ID)
	} else {
		to, err = entity.SettlementRefunded, s.ledger.Refund(ctx, job.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: settle job %s: %v", protocol.ErrLedger, job.ID, err)
	}

	next := job.Clone()
	next.Settlement = to
	next.Version++
	next.UpdatedAt = s.Now()
	if err := s.jobs.CompareAndSwap(ctx, &next, job.Phase); err != nil {
		return nil, fmt.Errorf("record settlement: %w", err)
	}
	s.log.WithFields(logrus.Fields{"job_id": job.ID, "settlement": to}).Info("escrow settled")
	return &next, nil
}

// ExpireDue sends TIMEOUT to every non-terminal job past its deadline. Jobs a
// party moved concurrently are skipped: the first recorded write wins.
func (s *Registry) ExpireDue(ctx context.Context, limit int) (int, error) {
	due, err := s.jobs.ListExpired(ctx, s.Now(), limit)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, j := range due {
		if _, err := s.Transition(ctx, j.ID, protocol.Timeout(j.Phase)); err != nil {
			if errors.Is(err, protocol.ErrStaleState) || errors.Is(err, protocol.ErrTerminalJob) {
				continue
			}
			return n, err
		}
		n++
	}
	return n, nil
}

func (s *Registry) SettlePending(ctx context.Context, limit int) (int, error) {
	jobs, err := s.jobs.ListUnsettled(ctx, limit)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, j := range jobs {
		if _, err := s.Settle(ctx, j); err != nil {
			s.log.WithError(err).WithField("job_id", j.ID).Warn("settlement retry failed")
			continue
		}
		n++
	}
	return n, nil
}

// Archive removes settled terminal jobs untouched for retention. Their ids
// answer JobNotFound afterwards.
func (s *Registry) Archive(ctx context.Context, retention time.Duration, limit int) (int64, error) {
	return s.jobs.ArchiveTerminal(ctx, s.Now().Add(-retention), limit)
}

func (s *Registry) RegisterOffering(ctx context.Context, o entity.Offering) (*entity.Offering, error) {
	if err := entity.ValidateStruct(o); err != nil {
		return nil, fmt.Errorf("register offering: %w", err)
	}
	o.UpdatedAt = s.Now()
	if err := s.offerings.Upsert(ctx, &o); err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"seller": o.Seller, "offering": o.Name, "price": o.Price}).Info("offering registered")
	return &o, nil
}

func (s *Registry) BrowseOfferings(ctx context.Context, keyword string, limit int) ([]*entity.Offering, error) {
	if limit <= 0 {
		limit = 5
	}
	return s.offerings.Search(ctx, keyword, limit)
}

func (s *Registry) notify(ctx context.Context, job *entity.Job) {
	if s.inbox == nil {
		return
	}
	for _, agent := range []string{job.Buyer, job.Seller} {
		if err := s.inbox.Notify(ctx, agent, job.ID.String()); err != nil {
			// agents fall back to polling the registry
			s.log.WithError(err).WithFields(logrus.Fields{"job_id": job.ID, "agent": agent}).Warn("notify failed")
		}
	}
}
