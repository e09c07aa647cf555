package worker_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"acp-broker/internal/entity"
	"acp-broker/internal/logger"
	"acp-broker/internal/protocol"
	"acp-broker/internal/retry"
	"acp-broker/internal/worker"
)

// ---- fakes ----

type inboxStub struct {
	mu     sync.Mutex
	queue  []string
	acked  []string
	claims int
}

func (q *inboxStub) Notify(ctx context.Context, agent, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queue = append(q.queue, jobID)
	return nil
}

func (q *inboxStub) ClaimBlocking(ctx context.Context, agent string, timeout time.Duration) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.claims++
	if len(q.queue) == 0 {
		return "", redis.Nil
	}
	id := q.queue[0]
	q.queue = q.queue[1:]
	return id, nil
}

func (q *inboxStub) Ack(ctx context.Context, agent, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.acked = append(q.acked, jobID)
	return nil
}

func (q *inboxStub) RequeueStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	return 0, nil
}

type sourceStub struct {
	jobs  map[uuid.UUID]*entity.Job
	reads int
}

func (s *sourceStub) GetJob(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	s.reads++
	j, ok := s.jobs[id]
	if !ok {
		return nil, protocol.ErrJobNotFound
	}
	return j, nil
}

type handlerStub struct {
	handled []uuid.UUID
	stale   int // fail with ErrStaleState this many times
}

func (h *handlerStub) Handle(ctx context.Context, job *entity.Job) error {
	h.handled = append(h.handled, job.ID)
	if h.stale > 0 {
		h.stale--
		return protocol.ErrStaleState
	}
	return nil
}

func newJob() *entity.Job {
	return &entity.Job{ID: uuid.New(), Phase: entity.PhaseRequested}
}

// ---- tests ----

func TestProcessor_RereadsOnStaleState(t *testing.T) {
	j := newJob()
	src := &sourceStub{jobs: map[uuid.UUID]*entity.Job{j.ID: j}}
	h := &handlerStub{stale: 2}
	p := worker.NewProcessor(src, h, logger.Discard())

	if err := p.Process(context.Background(), j.ID.String()); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(h.handled) != 3 || src.reads != 3 {
		t.Fatalf("expected 3 reads and 3 handles, got reads=%d handles=%d", src.reads, len(h.handled))
	}
}

func TestProcessor_GivesUpAfterRepeatedStale(t *testing.T) {
	j := newJob()
	src := &sourceStub{jobs: map[uuid.UUID]*entity.Job{j.ID: j}}
	h := &handlerStub{stale: 100}
	p := worker.NewProcessor(src, h, logger.Discard())

	if err := p.Process(context.Background(), j.ID.String()); err == nil {
		t.Fatalf("expected stale error after retries")
	}
	if len(h.handled) != 4 {
		t.Fatalf("expected 4 attempts, got %d", len(h.handled))
	}
}

func TestProcessor_MissingJobIsNotAnError(t *testing.T) {
	src := &sourceStub{jobs: map[uuid.UUID]*entity.Job{}}
	h := &handlerStub{}
	p := worker.NewProcessor(src, h, logger.Discard())

	if err := p.Process(context.Background(), uuid.NewString()); err != nil {
		t.Fatalf("expected nil for archived job, got %v", err)
	}
	if err := p.Process(context.Background(), "not-a-uuid"); err == nil {
		t.Fatalf("expected error for bad id")
	}
	if len(h.handled) != 0 {
		t.Fatalf("expected nothing handled")
	}
}

func TestLoop_TickProcessesNotificationAndAcks(t *testing.T) {
	j := newJob()
	src := &sourceStub{jobs: map[uuid.UUID]*entity.Job{j.ID: j}}
	h := &handlerStub{}
	inbox := &inboxStub{queue: []string{j.ID.String()}}
	clock := retry.NewFakeClock(time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC))

	scans := 0
	scan := func(ctx context.Context) ([]uuid.UUID, error) {
		scans++
		return nil, nil
	}
	l := worker.NewLoop(inbox, "0xseller", worker.NewProcessor(src, h, logger.Discard()), scan, time.Second, clock, logger.Discard())

	l.Tick(context.Background())
	if len(h.handled) != 1 || h.handled[0] != j.ID {
		t.Fatalf("expected notified job handled, got %v", h.handled)
	}
	if len(inbox.acked) != 1 || inbox.acked[0] != j.ID.String() {
		t.Fatalf("expected ack, got %v", inbox.acked)
	}
	// lastScan is zero, so the first tick also rescans
	if scans != 1 {
		t.Fatalf("expected one rescan, got %d", scans)
	}

	// same instant, empty inbox: no rescan until the poll interval passes
	l.Tick(context.Background())
	if scans != 1 {
		t.Fatalf("expected no rescan within poll interval, got %d", scans)
	}
	clock.Advance(time.Second)
	l.Tick(context.Background())
	if scans != 2 {
		t.Fatalf("expected rescan after poll interval, got %d", scans)
	}
}

func TestLoop_PollingWithoutInbox(t *testing.T) {
	a, b := newJob(), newJob()
	src := &sourceStub{jobs: map[uuid.UUID]*entity.Job{a.ID: a, b.ID: b}}
	h := &handlerStub{}
	clock := retry.NewFakeClock(time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC))
	scan := func(ctx context.Context) ([]uuid.UUID, error) {
		return []uuid.UUID{a.ID, b.ID}, nil
	}
	l := worker.NewLoop(nil, "0xseller", worker.NewProcessor(src, h, logger.Discard()), scan, 2*time.Second, clock, logger.Discard())

	l.Tick(context.Background())
	if len(h.handled) != 2 {
		t.Fatalf("expected both scanned jobs handled, got %d", len(h.handled))
	}
	if s := clock.Sleeps(); len(s) != 1 || s[0] != 2*time.Second {
		t.Fatalf("expected one poll sleep of 2s, got %v", s)
	}
}

func TestLoop_RunStopsOnCancel(t *testing.T) {
	src := &sourceStub{jobs: map[uuid.UUID]*entity.Job{}}
	scan := func(ctx context.Context) ([]uuid.UUID, error) { return nil, nil }
	l := worker.NewLoop(nil, "0xseller", worker.NewProcessor(src, &handlerStub{}, logger.Discard()), scan, time.Millisecond, nil, logger.Discard())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("loop did not stop after cancel")
	}
}
