package seller_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"acp-broker/internal/agent/seller"
	"acp-broker/internal/entity"
	"acp-broker/internal/ledger"
	"acp-broker/internal/logger"
	"acp-broker/internal/protocol"
	"acp-broker/internal/repository/memory"
	"acp-broker/internal/retry"
	"acp-broker/internal/service"
)

// ---- fakes ----

type fakeAnalyzer struct {
	mu    sync.Mutex
	calls int
	out   entity.Deliverable
	err   error
}

func (a *fakeAnalyzer) Analyze(ctx context.Context, username string) (entity.Deliverable, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.err != nil {
		return entity.Deliverable{}, a.err
	}
	return a.out, nil
}

type fixture struct {
	reg      *service.Registry
	ledger   *ledger.Memory
	clock    *retry.FakeClock
	analyzer *fakeAnalyzer
	listener *seller.Listener
}

func newFixture() *fixture {
	store := memory.NewStore()
	f := &fixture{
		ledger: ledger.NewMemory(),
		clock:  retry.NewFakeClock(time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)),
		analyzer: &fakeAnalyzer{out: entity.Deliverable{
			Summary: "defi KOL", Metrics: map[string]any{"followers": 1200},
		}},
	}
	f.reg = service.NewRegistry(store, store, f.ledger, nil, logger.Discard())
	f.reg.Now = f.clock.Now

	policy := retry.Policy{MaxAttempts: 3, InitialBackoff: time.Second, Multiplier: 2, Clock: f.clock}
	f.listener = seller.NewListener(f.reg, f.analyzer, policy, nil, seller.Config{
		Wallet:         "0xseller",
		Offering:       "twitter_analysis",
		Price:          10,
		PaymentTimeout: 10 * time.Minute,
	}, logger.Discard())
	f.listener.Clock = f.clock
	return f
}

func (f *fixture) request(t *testing.T, username string) *entity.Job {
	t.Helper()
	j, err := f.reg.CreateJob(context.Background(), service.CreateJobRequest{
		Buyer:        "0xbuyer",
		Seller:       "0xseller",
		Offering:     "twitter_analysis",
		Requirements: entity.Requirements{Username: username, RequestType: entity.RequestTypeTwitterAnalysis},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return j
}

// handle re-reads the job and lets the seller react, like the agent loop does.
func (f *fixture) handle(t *testing.T, j *entity.Job) *entity.Job {
	t.Helper()
	ctx := context.Background()
	cur, err := f.reg.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if err := f.listener.Handle(ctx, cur); err != nil {
		t.Fatalf("handle %s: %v", cur.Phase, err)
	}
	out, err := f.reg.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	return out
}

func (f *fixture) pay(t *testing.T, j *entity.Job) {
	t.Helper()
	ctx := context.Background()
	r, err := f.ledger.Pay(ctx, j.ID, j.Price, j.Seller)
	if err != nil {
		t.Fatalf("pay: %v", err)
	}
	if _, err := f.reg.Transition(ctx, j.ID, protocol.PaymentConfirmed(entity.PhaseNegotiating, r.TxHash)); err != nil {
		t.Fatalf("payment confirmed: %v", err)
	}
}

// ---- tests ----

func TestListener_AcceptsValidRequest(t *testing.T) {
	f := newFixture()
	j := f.handle(t, f.request(t, "elonmusk"))

	if j.Phase != entity.PhaseNegotiating {
		t.Fatalf("expected negotiating, got %s", j.Phase)
	}
	if j.Price != 10 {
		t.Fatalf("expected price 10, got %d", j.Price)
	}
}

func TestListener_RejectsMissingUsername(t *testing.T) {
	f := newFixture()
	j := f.handle(t, f.request(t, ""))

	if j.Phase != entity.PhaseRejected {
		t.Fatalf("expected rejected, got %s", j.Phase)
	}
	if !strings.HasPrefix(j.Reason, protocol.ReasonInvalidRequirements) {
		t.Fatalf("expected invalid_requirements reason, got %q", j.Reason)
	}
	if j.NegotiatedAt != nil {
		t.Fatalf("expected job never to reach negotiating")
	}
}

func TestListener_IgnoresOtherOffering(t *testing.T) {
	f := newFixture()
	j, err := f.reg.CreateJob(context.Background(), service.CreateJobRequest{
		Buyer: "0xbuyer", Seller: "0xseller", Offering: "something_else",
		Requirements: entity.Requirements{Username: "elonmusk", RequestType: entity.RequestTypeTwitterAnalysis},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if got := f.handle(t, j); got.Phase != entity.PhaseRequested {
		t.Fatalf("expected job left requested, got %s", got.Phase)
	}
}

func TestListener_CancelsAfterPaymentTimeout(t *testing.T) {
	f := newFixture()
	j := f.handle(t, f.request(t, "elonmusk"))

	f.clock.Advance(9 * time.Minute)
	if got := f.handle(t, j); got.Phase != entity.PhaseNegotiating {
		t.Fatalf("expected still negotiating before deadline, got %s", got.Phase)
	}

	f.clock.Advance(2 * time.Minute)
	got := f.handle(t, j)
	if got.Phase != entity.PhaseRejected {
		t.Fatalf("expected rejected after payment timeout, got %s", got.Phase)
	}
	if !strings.HasPrefix(got.Reason, "cancelled by seller") {
		t.Fatalf("expected seller cancel reason, got %q", got.Reason)
	}
	if got.PaidAt != nil {
		t.Fatalf("expected job never paid")
	}
}

func TestListener_DeliversAfterPayment(t *testing.T) {
	f := newFixture()
	j := f.handle(t, f.request(t, "elonmusk"))
	f.pay(t, j)

	got := f.handle(t, j)
	if got.Phase != entity.PhaseDelivered {
		t.Fatalf("expected delivered, got %s", got.Phase)
	}
	if got.Deliverable == nil || got.Deliverable.Summary != "defi KOL" {
		t.Fatalf("expected deliverable attached, got %+v", got.Deliverable)
	}
	if f.analyzer.calls != 1 {
		t.Fatalf("expected 1 analysis call, got %d", f.analyzer.calls)
	}
}

func TestListener_DeliveryFailureRejectsAndRefunds(t *testing.T) {
	f := newFixture()
	f.analyzer.err = errors.New("backend unavailable")

	j := f.handle(t, f.request(t, "elonmusk"))
	f.pay(t, j)
	got := f.handle(t, j)

	if got.Phase != entity.PhaseRejected {
		t.Fatalf("expected rejected, got %s", got.Phase)
	}
	if !strings.HasPrefix(got.Reason, protocol.ReasonDeliveryFailed) {
		t.Fatalf("expected delivery_failed reason, got %q", got.Reason)
	}
	if f.analyzer.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", f.analyzer.calls)
	}
	// backoff 1s, 2s между попытками
	sleeps := f.clock.Sleeps()
	if len(sleeps) != 2 || sleeps[0] != time.Second || sleeps[1] != 2*time.Second {
		t.Fatalf("expected backoff [1s 2s], got %v", sleeps)
	}

	e, err := f.ledger.Escrow(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("escrow: %v", err)
	}
	if e.State != ledger.EscrowRefunded {
		t.Fatalf("expected refund, got %s", e.State)
	}
	if got.Settlement != entity.SettlementRefunded {
		t.Fatalf("expected settlement refunded on job, got %q", got.Settlement)
	}
}

func TestListener_EmptyAnalysisStopsRetrying(t *testing.T) {
	f := newFixture()
	f.analyzer.out = entity.Deliverable{}

	j := f.handle(t, f.request(t, "elonmusk"))
	f.pay(t, j)
	got := f.handle(t, j)

	if got.Phase != entity.PhaseRejected || f.analyzer.calls != 1 {
		t.Fatalf("expected one call then reject, got %s after %d calls", got.Phase, f.analyzer.calls)
	}
	if !strings.Contains(got.Reason, protocol.ReasonDeliveryFailed) {
		t.Fatalf("expected delivery_failed reason, got %q", got.Reason)
	}
}

func TestListener_ScanReloadsActiveJobs(t *testing.T) {
	f := newFixture()
	active := f.request(t, "elonmusk")
	done := f.handle(t, f.request(t, ""))
	if done.Phase != entity.PhaseRejected {
		t.Fatalf("expected rejected, got %s", done.Phase)
	}

	ids, err := f.listener.Scan(context.Background())
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(ids) != 1 || ids[0] != active.ID {
		t.Fatalf("expected only the active job, got %v", ids)
	}
}

func TestListener_RegisterPublishesOffering(t *testing.T) {
	f := newFixture()
	if err := f.listener.Register(context.Background()); err != nil {
		t.Fatalf("register: %v", err)
	}
	offers, err := f.reg.BrowseOfferings(context.Background(), "twitter", 5)
	if err != nil {
		t.Fatalf("browse: %v", err)
	}
	if len(offers) != 1 || offers[0].Seller != "0xseller" || offers[0].Price != 10 {
		t.Fatalf("expected seller offering at price 10, got %+v", offers)
	}
}
