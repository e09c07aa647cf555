// Package agent holds what the buyer and seller agents share: the registry
// port they talk through. Both service.Registry (in process) and
// httptransport.Client (remote) satisfy it.
package agent

import (
	"context"

	"github.com/google/uuid"

	"acp-broker/internal/entity"
	"acp-broker/internal/protocol"
	"acp-broker/internal/service"
)

type Registry interface {
	CreateJob(ctx context.Context, req service.CreateJobRequest) (*entity.Job, error)
	GetJob(ctx context.Context, id uuid.UUID) (*entity.Job, error)
	ListJobs(ctx context.Context, f entity.JobFilter) ([]*entity.Job, error)
	Transition(ctx context.Context, id uuid.UUID, ev protocol.Event) (*entity.Job, error)
	RegisterOffering(ctx context.Context, o entity.Offering) (*entity.Offering, error)
	BrowseOfferings(ctx context.Context, keyword string, limit int) ([]*entity.Offering, error)
}

// ActiveIDs lists the non-terminal jobs matching f.
func ActiveIDs(ctx context.Context, reg Registry, f entity.JobFilter) ([]uuid.UUID, error) {
	f.Active = true
	jobs, err := reg.ListJobs(ctx, f)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(jobs))
	for _, j := range jobs {
		ids = append(ids, j.ID)
	}
	return ids, nil
}
