package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/okian/workload/internal/domain/model"
	"github.com/okian/workload/pkg/metrics"
)

const defaultFetchTimeout = 3 * time.Second

// ErrUnexpectedStatus is returned for non-200, non-404 responses.
var ErrUnexpectedStatus = errors.New("unexpected profile service status")

// HTTPFetcher fetches profiles from GET {base}/trainers/{username}.
type HTTPFetcher struct {
	base   string
	client *http.Client
}

// HTTPOption configures an HTTPFetcher.
type HTTPOption func(*HTTPFetcher)

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) HTTPOption {
	return func(f *HTTPFetcher) {
		if d > 0 {
			f.client.Timeout = d
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(f *HTTPFetcher) {
		if c != nil {
			f.client = c
		}
	}
}

// NewHTTPFetcher creates a fetcher rooted at base.
func NewHTTPFetcher(base string, opts ...HTTPOption) *HTTPFetcher {
	f := &HTTPFetcher{
		base:   strings.TrimRight(base, "/"),
		client: &http.Client{Timeout: defaultFetchTimeout},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FetchByUsername returns the remote profile. A 404 maps to
// model.ErrTrainerNotFound.
func (f *HTTPFetcher) FetchByUsername(ctx context.Context, username string) (model.TrainerProfile, error) {
	u := strings.TrimSpace(username)
	if u == "" {
		return model.TrainerProfile{}, model.ErrInvalidUsername
	}

	start := time.Now()
	p, outcome, err := f.fetch(ctx, u)
	metrics.RecordRemoteFetch(outcome, float64(time.Since(start).Milliseconds()))
	return p, err
}

func (f *HTTPFetcher) fetch(ctx context.Context, username string) (model.TrainerProfile, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.base+"/trainers/"+url.PathEscape(username), nil)
	if err != nil {
		return model.TrainerProfile{}, "error", fmt.Errorf("build profile request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return model.TrainerProfile{}, "error", fmt.Errorf("fetch profile %q: %w", username, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return model.TrainerProfile{}, "not_found", fmt.Errorf("%w: %s", model.ErrTrainerNotFound, username)
	default:
		_, _ = io.Copy(io.Discard, resp.Body)
		return model.TrainerProfile{}, "error", fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	var p model.TrainerProfile
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return model.TrainerProfile{}, "error", fmt.Errorf("%w: decode profile: %w", model.ErrSerialization, err)
	}
	if p.Username == "" {
		p.Username = username
	}
	return p, "found", nil
}
