// Package memory is an in-process job store with the same compare-and-set
// semantics as the PostgreSQL repository.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"acp-broker/internal/entity"
	"acp-broker/internal/repository"
)

type Store struct {
	mu        sync.Mutex
	jobs      map[uuid.UUID]entity.Job
	archived  map[uuid.UUID]entity.Job
	offerings map[string]entity.Offering

	// NewID overrides id generation in tests.
	NewID func() uuid.UUID
}

func NewStore() *Store {
	return &Store{
		jobs:      map[uuid.UUID]entity.Job{},
		archived:  map[uuid.UUID]entity.Job{},
		offerings: map[string]entity.Offering{},
	}
}

func (s *Store) Create(ctx context.Context, job *entity.Job) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.New()
	if s.NewID != nil {
		id = s.NewID()
	}
	j := job.Clone()
	j.ID = id
	j.UpdatedAt = j.CreatedAt
	s.jobs[id] = j
	return id, nil
}

func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := j.Clone()
	return &out, nil
}

func (s *Store) CompareAndSwap(ctx context.Context, next *entity.Job, prevPhase entity.Phase) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.jobs[next.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if cur.Phase != prevPhase || cur.Version != next.Version-1 {
		return repository.ErrVersionConflict
	}
	s.jobs[next.ID] = next.Clone()
	return nil
}

func (s *Store) List(ctx context.Context, f entity.JobFilter) ([]*entity.Job, error) {
	return s.collect(f.Limit, f.Matches, func(a, b *entity.Job) bool {
		return a.CreatedAt.Before(b.CreatedAt)
	}), nil
}

func (s *Store) ListExpired(ctx context.Context, now time.Time, limit int) ([]*entity.Job, error) {
	return s.collect(limit, func(j *entity.Job) bool { return j.Expired(now) }, func(a, b *entity.Job) bool {
		return a.ExpiresAt.Before(b.ExpiresAt)
	}), nil
}

func (s *Store) ListUnsettled(ctx context.Context, limit int) ([]*entity.Job, error) {
	return s.collect(limit, func(j *entity.Job) bool { return j.Settlement == entity.SettlementPending }, func(a, b *entity.Job) bool {
		return a.UpdatedAt.Before(b.UpdatedAt)
	}), nil
}

func (s *Store) ArchiveTerminal(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	victims := s.collect(limit, func(j *entity.Job) bool {
		return j.Phase.Terminal() && j.Settlement != entity.SettlementPending && j.UpdatedAt.Before(cutoff)
	}, func(a, b *entity.Job) bool { return a.UpdatedAt.Before(b.UpdatedAt) })

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range victims {
		s.archived[j.ID] = s.jobs[j.ID]
		delete(s.jobs, j.ID)
	}
	return int64(len(victims)), nil
}

// Archived reports whether id was moved out by ArchiveTerminal.
func (s *Store) Archived(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.archived[id]
	return ok
}

func (s *Store) collect(limit int, keep func(*entity.Job) bool, less func(a, b *entity.Job) bool) []*entity.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*entity.Job
	for _, j := range s.jobs {
		c := j.Clone()
		if keep(&c) {
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, k int) bool { return less(out[i], out[k]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *Store) Upsert(ctx context.Context, o *entity.Offering) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offerings[o.Seller+"\x00"+o.Name] = *o
	return nil
}

func (s *Store) Search(ctx context.Context, keyword string, limit int) ([]*entity.Offering, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	completed := map[string]int{}
	for _, j := range s.jobs {
		if j.Phase == entity.PhaseCompleted {
			completed[j.Seller]++
		}
	}

	kw := strings.ToLower(keyword)
	var out []*entity.Offering
	for _, o := range s.offerings {
		if kw != "" &&
			!strings.Contains(strings.ToLower(o.Name), kw) &&
			!strings.Contains(strings.ToLower(o.Description), kw) {
			continue
		}
		c := o
		out = append(out, &c)
	}
	sort.Slice(out, func(i, k int) bool {
		ci, ck := completed[out[i].Seller], completed[out[k].Seller]
		if ci != ck {
			return ci > ck
		}
		return out[i].UpdatedAt.After(out[k].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
