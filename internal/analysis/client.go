// Package analysis calls the HTTP service that produces a Twitter account
// analysis for a username.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"acp-broker/internal/entity"
	"acp-broker/internal/retry"
)

var ErrBackend = errors.New("analysis backend failure")

type Config struct {
	URL     string
	Timeout time.Duration
}

type Client struct {
	url     string
	timeout time.Duration
	http    *http.Client
	cb      *gobreaker.CircuitBreaker
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		url:     cfg.URL,
		timeout: timeout,
		http:    &http.Client{},
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "analysis-backend",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			IsSuccessful: func(err error) bool {
				// a request we could not build says nothing about backend health
				return err == nil || retry.IsPermanent(err)
			},
		}),
	}
}

type analyzeRequest struct {
	Username string `json:"username"`
}

// response accepts both {summary, metrics, raw} and the
// {status, username, data, message} envelope of /analyze-twitter-user.
type response struct {
	Summary string          `json:"summary"`
	Metrics map[string]any  `json:"metrics"`
	Raw     json.RawMessage `json:"raw"`

	Status  string         `json:"status"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data"`
}

// Analyze makes one bounded attempt. Transport errors, timeouts, any non-2xx
// answer and error envelopes are retryable; only a request that cannot be
// built is returned as retry.Permanent.
func (c *Client) Analyze(ctx context.Context, username string) (entity.Deliverable, error) {
	out, err := c.cb.Execute(func() (any, error) {
		return c.analyze(ctx, username)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return entity.Deliverable{}, fmt.Errorf("%w: %v", ErrBackend, err)
		}
		return entity.Deliverable{}, err
	}
	return out.(entity.Deliverable), nil
}

func (c *Client) analyze(ctx context.Context, username string) (entity.Deliverable, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(analyzeRequest{Username: username})
	if err != nil {
		return entity.Deliverable{}, retry.Permanent(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return entity.Deliverable{}, retry.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return entity.Deliverable{}, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return entity.Deliverable{}, fmt.Errorf("%w: read body: %v", ErrBackend, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return entity.Deliverable{}, fmt.Errorf("%w: status %d: %s", ErrBackend, resp.StatusCode, snippet(raw))
	}
	return decode(raw)
}

func decode(raw []byte) (entity.Deliverable, error) {
	var r response
	if err := json.Unmarshal(raw, &r); err != nil {
		// the original bot tolerated plain-text answers
		text := strings.TrimSpace(string(raw))
		if text == "" {
			return entity.Deliverable{}, fmt.Errorf("%w: empty body", ErrBackend)
		}
		quoted, _ := json.Marshal(map[string]string{"raw_text": text})
		return entity.Deliverable{Summary: text, Raw: quoted}, nil
	}
	if r.Status == "error" {
		return entity.Deliverable{}, fmt.Errorf("%w: %s", ErrBackend, r.Message)
	}

	d := entity.Deliverable{Summary: r.Summary, Metrics: r.Metrics, Raw: r.Raw}
	if d.Metrics == nil && r.Data != nil {
		d.Metrics = r.Data
	}
	if d.Summary == "" {
		d.Summary = summaryFrom(r)
	}
	if len(d.Raw) == 0 {
		d.Raw = append(json.RawMessage(nil), raw...)
	}
	return d, nil
}

func summaryFrom(r response) string {
	for _, k := range []string{"summary", "analysis_summary", "description"} {
		if s, ok := r.Data[k].(string); ok && s != "" {
			return s
		}
	}
	return r.Message
}

func snippet(b []byte) string {
	const max = 200
	s := strings.TrimSpace(string(b))
	if len(s) > max {
		return s[:max]
	}
	return s
}
