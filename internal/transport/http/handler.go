package httptransport

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"acp-broker/internal/entity"
	"acp-broker/internal/protocol"
	"acp-broker/internal/service"
)

type Handler struct {
	registry *service.Registry
}

func NewHandler(registry *service.Registry) *Handler {
	return &Handler{registry: registry}
}

type createJobDTO struct {
	Buyer        string          `json:"buyer"`
	Seller       string          `json:"seller"`
	Offering     string          `json:"offering"`
	Requirements json.RawMessage `json:"requirements" swaggertype:"object"`
	TTLSeconds   int             `json:"ttl_seconds,omitempty"`
}

type createJobResp struct {
	ID string `json:"id"`
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, CodeInvalidRequest, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}

// CreateJob godoc
// @Summary Create a job
// @Description Buyer requests a service from a seller. The job starts in REQUESTED; requirements are checked by the seller.
// @Tags jobs
// @Accept json
// @Produce json
// @Param request body createJobDTO true "job request"
// @Success 201 {object} createJobResp
// @Failure 400 {object} apiError
// @Failure 500 {object} apiError
// @Router /jobs [post]
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var dto createJobDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeErr(w, http.StatusBadRequest, CodeInvalidRequest, "invalid json")
		return
	}

	var req entity.Requirements
	if len(dto.Requirements) > 0 && string(dto.Requirements) != "null" {
		if err := json.Unmarshal(dto.Requirements, &req); err != nil {
			writeErr(w, http.StatusBadRequest, CodeInvalidRequest, "invalid requirements")
			return
		}
	}

	job, err := h.registry.CreateJob(r.Context(), service.CreateJobRequest{
		Buyer:        dto.Buyer,
		Seller:       dto.Seller,
		Offering:     dto.Offering,
		Requirements: req,
		TTL:          time.Duration(dto.TTLSeconds) * time.Second,
	})
	if err != nil {
		writeServiceErr(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, createJobResp{ID: job.ID.String()})
}

// ListJobs godoc
// @Summary List jobs
// @Description Filters by party and phase. Agents use active=true to rebuild their work after a restart.
// @Tags jobs
// @Produce json
// @Param buyer query string false "buyer wallet"
// @Param seller query string false "seller wallet"
// @Param phase query string false "comma separated phases"
// @Param active query bool false "only non-terminal jobs"
// @Param limit query int false "max results"
// @Success 200 {array} entity.Job
// @Failure 400 {object} apiError
// @Router /jobs [get]
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := entity.JobFilter{
		Buyer:  q.Get("buyer"),
		Seller: q.Get("seller"),
		Active: q.Get("active") == "true" || q.Get("active") == "1",
	}
	if raw := q.Get("phase"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			p := entity.Phase(strings.TrimSpace(s))
			if !p.Valid() {
				writeErr(w, http.StatusBadRequest, CodeInvalidRequest, "unknown phase "+s)
				return
			}
			f.Phases = append(f.Phases, p)
		}
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeErr(w, http.StatusBadRequest, CodeInvalidRequest, "invalid limit")
			return
		}
		f.Limit = n
	}

	jobs, err := h.registry.ListJobs(r.Context(), f)
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	if jobs == nil {
		jobs = []*entity.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

// GetJob godoc
// @Summary Get job by id
// @Tags jobs
// @Produce json
// @Param id path string true "job id (uuid)"
// @Success 200 {object} entity.Job
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Router /jobs/{id} [get]
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	j, err := h.registry.GetJob(r.Context(), id)
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

// GetDeliverable godoc
// @Summary Get job deliverable
// @Tags jobs
// @Produce json
// @Param id path string true "job id (uuid)"
// @Success 200 {object} entity.Deliverable
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Failure 409 {object} apiError
// @Router /jobs/{id}/deliverable [get]
func (h *Handler) GetDeliverable(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	j, err := h.registry.GetJob(r.Context(), id)
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	if j.Deliverable == nil {
		writeErr(w, http.StatusConflict, CodeNotDelivered, "job not delivered")
		return
	}
	writeJSON(w, http.StatusOK, j.Deliverable)
}

// PostEvent godoc
// @Summary Apply an event to a job
// @Description Moves the job through the state machine. expected_phase guards against acting on a stale read.
// @Tags jobs
// @Accept json
// @Produce json
// @Param id path string true "job id (uuid)"
// @Param request body protocol.Event true "event"
// @Success 200 {object} entity.Job
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Failure 409 {object} apiError
// @Failure 422 {object} apiError
// @Router /jobs/{id}/events [post]
func (h *Handler) PostEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	var ev protocol.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeErr(w, http.StatusBadRequest, CodeInvalidRequest, "invalid json")
		return
	}

	j, err := h.registry.Transition(r.Context(), id, ev)
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

// RegisterOffering godoc
// @Summary Register or update a seller offering
// @Tags offerings
// @Accept json
// @Produce json
// @Param request body entity.Offering true "offering"
// @Success 201 {object} entity.Offering
// @Failure 400 {object} apiError
// @Router /offerings [post]
func (h *Handler) RegisterOffering(w http.ResponseWriter, r *http.Request) {
	var o entity.Offering
	if err := json.NewDecoder(r.Body).Decode(&o); err != nil {
		writeErr(w, http.StatusBadRequest, CodeInvalidRequest, "invalid json")
		return
	}

	saved, err := h.registry.RegisterOffering(r.Context(), o)
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

// BrowseOfferings godoc
// @Summary Search offerings
// @Tags offerings
// @Produce json
// @Param keyword query string false "matches name or description"
// @Param limit query int false "max results (default 5)"
// @Success 200 {array} entity.Offering
// @Failure 400 {object} apiError
// @Router /offerings [get]
func (h *Handler) BrowseOfferings(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeErr(w, http.StatusBadRequest, CodeInvalidRequest, "invalid limit")
			return
		}
		limit = n
	}

	list, err := h.registry.BrowseOfferings(r.Context(), r.URL.Query().Get("keyword"), limit)
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	if list == nil {
		list = []*entity.Offering{}
	}
	writeJSON(w, http.StatusOK, list)
}
