package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"acp-broker/internal/entity"
	"acp-broker/internal/repository"
	"acp-broker/internal/repository/memory"
)

var t0 = time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)

func create(t *testing.T, s *memory.Store, seller string) *entity.Job {
	t.Helper()
	j := &entity.Job{
		Buyer: "0xbuyer", Seller: seller, Offering: "analysis",
		Phase: entity.PhaseRequested, Version: 1,
		CreatedAt: t0, ExpiresAt: t0.Add(time.Hour),
	}
	id, err := s.Create(context.Background(), j)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := s.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	return got
}

func TestStore_CompareAndSwap(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStore()
	j := create(t, s, "0xseller")

	next := *j
	next.Phase = entity.PhaseNegotiating
	next.Version = j.Version + 1
	if err := s.CompareAndSwap(ctx, &next, entity.PhaseRequested); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	// same expected state again loses
	if err := s.CompareAndSwap(ctx, &next, entity.PhaseRequested); !errors.Is(err, repository.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}

	missing := next
	missing.ID[0] ^= 0xff
	if err := s.CompareAndSwap(ctx, &missing, entity.PhaseNegotiating); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_GetReturnsCopy(t *testing.T) {
	s := memory.NewStore()
	j := create(t, s, "0xseller")
	j.Phase = entity.PhaseCompleted

	again, _ := s.GetByID(context.Background(), j.ID)
	if again.Phase != entity.PhaseRequested {
		t.Fatalf("store leaked its internal copy")
	}
}

func TestStore_ListAndExpire(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStore()
	create(t, s, "0xa")
	create(t, s, "0xb")

	got, _ := s.List(ctx, entity.JobFilter{Seller: "0xa"})
	if len(got) != 1 || got[0].Seller != "0xa" {
		t.Fatalf("expected one job for 0xa, got %d", len(got))
	}

	due, _ := s.ListExpired(ctx, t0.Add(30*time.Minute), 10)
	if len(due) != 0 {
		t.Fatalf("expected nothing due yet, got %d", len(due))
	}
	due, _ = s.ListExpired(ctx, t0.Add(time.Hour), 10)
	if len(due) != 2 {
		t.Fatalf("expected 2 due jobs, got %d", len(due))
	}
}

func TestStore_ArchiveTerminal(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStore()
	j := create(t, s, "0xseller")

	done := *j
	done.Phase = entity.PhaseCompleted
	done.Version++
	done.UpdatedAt = t0.Add(time.Minute)
	if err := s.CompareAndSwap(ctx, &done, entity.PhaseRequested); err != nil {
		t.Fatalf("cas: %v", err)
	}

	n, _ := s.ArchiveTerminal(ctx, t0, 10)
	if n != 0 {
		t.Fatalf("expected nothing archived before cutoff, got %d", n)
	}
	n, _ = s.ArchiveTerminal(ctx, t0.Add(time.Hour), 10)
	if n != 1 {
		t.Fatalf("expected 1 archived job, got %d", n)
	}
	if _, err := s.GetByID(ctx, j.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected archived job to be gone, got %v", err)
	}
	if !s.Archived(j.ID) {
		t.Fatalf("expected job in archive")
	}
}

func TestStore_SearchOfferingsRanksByCompletedJobs(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStore()
	_ = s.Upsert(ctx, &entity.Offering{Seller: "0xa", Name: "PawXAI twitter analysis", Price: 1, UpdatedAt: t0.Add(time.Hour)})
	_ = s.Upsert(ctx, &entity.Offering{Seller: "0xb", Name: "pawxai kol report", Price: 1, UpdatedAt: t0})
	_ = s.Upsert(ctx, &entity.Offering{Seller: "0xc", Name: "price feed", Price: 1, UpdatedAt: t0})

	j := create(t, s, "0xb")
	done := *j
	done.Phase = entity.PhaseCompleted
	done.Version++
	_ = s.CompareAndSwap(ctx, &done, entity.PhaseRequested)

	got, _ := s.Search(ctx, "PawXAI", 5)
	if len(got) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(got))
	}
	if got[0].Seller != "0xb" {
		t.Fatalf("expected seller with completed jobs first, got %s", got[0].Seller)
	}
}
