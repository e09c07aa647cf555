package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"acp-broker/internal/entity"
	"acp-broker/internal/protocol"
	"acp-broker/internal/service"
)

var (
	ErrBadRequest  = errors.New("registry rejected request")
	ErrUnavailable = errors.New("registry unavailable")
)

// Client talks to a remote registry over its HTTP API. It has the same
// method set as service.Registry so agents run against either.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) CreateJob(ctx context.Context, req service.CreateJobRequest) (*entity.Job, error) {
	reqs, err := json.Marshal(req.Requirements)
	if err != nil {
		return nil, err
	}
	var resp createJobResp
	err = c.do(ctx, http.MethodPost, "/jobs", createJobDTO{
		Buyer:        req.Buyer,
		Seller:       req.Seller,
		Offering:     req.Offering,
		Requirements: reqs,
		TTLSeconds:   int(req.TTL / time.Second),
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	id, err := uuid.Parse(resp.ID)
	if err != nil {
		return nil, fmt.Errorf("create job: bad id %q: %w", resp.ID, err)
	}
	return c.GetJob(ctx, id)
}

func (c *Client) GetJob(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	var j entity.Job
	if err := c.do(ctx, http.MethodGet, "/jobs/"+id.String(), nil, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

func (c *Client) ListJobs(ctx context.Context, f entity.JobFilter) ([]*entity.Job, error) {
	q := url.Values{}
	if f.Buyer != "" {
		q.Set("buyer", f.Buyer)
	}
	if f.Seller != "" {
		q.Set("seller", f.Seller)
	}
	if f.Active {
		q.Set("active", "true")
	}
	if len(f.Phases) > 0 {
		ps := make([]string, len(f.Phases))
		for i, p := range f.Phases {
			ps[i] = string(p)
		}
		q.Set("phase", strings.Join(ps, ","))
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}

	var out []*entity.Job
	if err := c.do(ctx, http.MethodGet, "/jobs?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Transition(ctx context.Context, id uuid.UUID, ev protocol.Event) (*entity.Job, error) {
	var j entity.Job
	if err := c.do(ctx, http.MethodPost, "/jobs/"+id.String()+"/events", ev, &j); err != nil {
		return nil, fmt.Errorf("job %s: %s: %w", id, ev.Type, err)
	}
	return &j, nil
}

func (c *Client) RegisterOffering(ctx context.Context, o entity.Offering) (*entity.Offering, error) {
	var out entity.Offering
	if err := c.do(ctx, http.MethodPost, "/offerings", o, &out); err != nil {
		return nil, fmt.Errorf("register offering: %w", err)
	}
	return &out, nil
}

func (c *Client) BrowseOfferings(ctx context.Context, keyword string, limit int) ([]*entity.Offering, error) {
	q := url.Values{}
	if keyword != "" {
		q.Set("keyword", keyword)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out []*entity.Offering
	if err := c.do(ctx, http.MethodGet, "/offerings?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}
	if resp.StatusCode >= 300 {
		return decodeErr(resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// decodeErr turns an error response back into the matching protocol error.
func decodeErr(status int, raw []byte) error {
	var e apiError
	_ = json.Unmarshal(raw, &e)
	msg := e.Message
	if msg == "" {
		msg = strings.TrimSpace(string(raw))
	}

	var base error
	switch e.Code {
	case CodeJobNotFound:
		base = protocol.ErrJobNotFound
	case CodeStaleState:
		base = protocol.ErrStaleState
	case CodeTerminalJob:
		base = protocol.ErrTerminalJob
	case CodeInvalidTransition:
		base = protocol.ErrInvalidTransition
	case CodePaymentUnverified:
		base = protocol.ErrPaymentUnverified
	case CodeLedger:
		base = protocol.ErrLedger
	default:
		switch {
		case status == http.StatusNotFound:
			base = protocol.ErrJobNotFound
		case status >= 500:
			base = ErrUnavailable
		default:
			base = ErrBadRequest
		}
	}
	return &RemoteError{Status: status, Message: msg, Err: base}
}

// RemoteError is a non-2xx registry response.
type RemoteError struct {
	Status  int
	Message string
	Err     error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("registry %d: %s", e.Status, e.Message)
}

func (e *RemoteError) Unwrap() error { return e.Err }
