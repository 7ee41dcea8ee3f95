package loadgen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/workload/internal/domain/model"
	"github.com/okian/workload/pkg/logger"
)

// ErrUnexpectedStatus is returned for responses outside the documented set.
var ErrUnexpectedStatus = errors.New("unexpected status")

type result int

const (
	resultAccepted result = iota
	resultRejected
	resultBackpressure
	resultFailed
)

// Backpressure retry bounds.
const (
	maxAttempts    = 5
	retryBaseDelay = 50 * time.Millisecond
)

// Client talks to the workload HTTP API.
type Client struct {
	base   string
	client *http.Client
}

// NewClient creates a Client with the given request timeout.
func NewClient(base string, timeout time.Duration) *Client {
	return &Client{base: base, client: &http.Client{Timeout: timeout}}
}

// Healthy checks GET /healthz.
func (c *Client) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/healthz", http.NoBody)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	defer drain(resp)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	return nil
}

// Submit posts one event and classifies the response.
func (c *Client) Submit(ctx context.Context, ev model.WorkloadEvent) (result, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return resultFailed, fmt.Errorf("failed to marshal event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/workload", bytes.NewReader(body))
	if err != nil {
		return resultFailed, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return resultFailed, err
	}
	defer drain(resp)

	switch resp.StatusCode {
	case http.StatusAccepted:
		return resultAccepted, nil
	case http.StatusBadRequest:
		return resultRejected, nil
	case http.StatusTooManyRequests:
		return resultBackpressure, nil
	default:
		return resultFailed, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}
}

// Summary fetches the unbounded summary for username.
func (c *Client) Summary(ctx context.Context, username string) (model.TrainerWorkloadSummary, error) {
	var out model.TrainerWorkloadSummary
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/summary/"+url.PathEscape(username), http.NoBody)
	if err != nil {
		return out, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return out, err
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK {
		return out, fmt.Errorf("%w: summary %s: %d", ErrUnexpectedStatus, username, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("decode summary %s: %w", username, err)
	}
	return out, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

type submitStats struct {
	submitted, accepted, rejected, backpressed, failed int
}

// submitAll posts events with a fixed pool of workers. Backpressured events
// are retried with a linear backoff.
func submitAll(ctx context.Context, cfg *Config, c *Client, events []model.WorkloadEvent) submitStats {
	log := logger.Get().Named("loadgen")
	var submitted, accepted, rejected, backpressed, failed atomic.Int64

	workers := max(cfg.Workers, 1)
	work := make(chan model.WorkloadEvent, workers*2)
	var wg sync.WaitGroup

	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ev := range work {
				submitted.Add(1)
				res, err := submitWithRetry(ctx, c, ev)
				switch res {
				case resultAccepted:
					accepted.Add(1)
				case resultRejected:
					rejected.Add(1)
				case resultBackpressure:
					backpressed.Add(1)
				default:
					failed.Add(1)
					if cfg.Verbose {
						log.Warn(ctx, "submit failed", logger.String("username", ev.Username), logger.Error(err))
					}
				}
			}
		}()
	}

	go func() {
		defer close(work)
		for _, ev := range events {
			select {
			case <-ctx.Done():
				return
			case work <- ev:
			}
		}
	}()
	wg.Wait()

	return submitStats{
		submitted:   int(submitted.Load()),
		accepted:    int(accepted.Load()),
		rejected:    int(rejected.Load()),
		backpressed: int(backpressed.Load()),
		failed:      int(failed.Load()),
	}
}

func submitWithRetry(ctx context.Context, c *Client, ev model.WorkloadEvent) (result, error) {
	var (
		res result
		err error
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res, err = c.Submit(ctx, ev)
		if res != resultBackpressure {
			return res, err
		}
		select {
		case <-ctx.Done():
			return resultFailed, ctx.Err()
		case <-time.After(time.Duration(attempt) * retryBaseDelay):
		}
	}
	return res, err
}
