// Package behavior implements the HTTP client for the pattern-recognition
// subsystem: behavioral profiles, privacy consent, history spans, reviews,
// and study sessions. It satisfies extractor.BehaviorSource and serves as
// the learner roster for the batch detection job.
package behavior

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/learnloop/insight/internal/domain/learner"
	"github.com/learnloop/insight/internal/domain/objective"
	"github.com/learnloop/insight/internal/domain/shared"
	"github.com/learnloop/insight/pkg/circuitbreaker"
	"github.com/learnloop/insight/pkg/logger"
	"github.com/learnloop/insight/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for the behavior client.
type ClientConfig struct {
	// BaseURL is the pattern-recognition API base URL.
	BaseURL string

	// APIKey authenticates service-to-service reads.
	APIKey string

	// Timeout is the HTTP request timeout.
	Timeout time.Duration
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(baseURL string) ClientConfig {
	return ClientConfig{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client reads the pattern-recognition API. Implements
// extractor.BehaviorSource and scheduler.LearnerDirectory.
type Client struct {
	config  ClientConfig
	http    *http.Client
	retrier *retry.Retrier
	breaker *circuitbreaker.CircuitBreaker
	log     *logger.Logger
}

// NewClient creates a behavior client.
func NewClient(config ClientConfig, log *logger.Logger) *Client {
	if log == nil {
		log = logger.Default()
	}
	log = log.With(logger.Component("behavior-client"))

	return &Client{
		config:  config,
		http:    &http.Client{Timeout: config.Timeout},
		retrier: retry.UpstreamRetrier(),
		breaker: circuitbreaker.UpstreamBreaker("behavior", func(name string, from, to circuitbreaker.State) {
			log.Warn("breaker state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		}),
		log: log,
	}
}

// Profile returns the behavioral-pattern profile. A learner the upstream
// has not yet profiled comes back zero-valued, never as an error.
func (c *Client) Profile(ctx context.Context, learnerID shared.LearnerID) (*learner.Profile, error) {
	var dto profileDTO
	err := c.getJSON(ctx, "/api/v1/learners/"+url.PathEscape(string(learnerID))+"/profile", nil, &dto)
	if err != nil {
		if errors.Is(err, errNotFound) {
			return &learner.Profile{LearnerID: learnerID}, nil
		}
		return nil, err
	}
	return dto.toDomain(learnerID), nil
}

// Privacy returns the behavioral-analysis consent flag. A learner with no
// recorded settings defaults to analysis enabled.
func (c *Client) Privacy(ctx context.Context, learnerID shared.LearnerID) (*learner.PrivacySettings, error) {
	var dto privacyDTO
	err := c.getJSON(ctx, "/api/v1/learners/"+url.PathEscape(string(learnerID))+"/privacy", nil, &dto)
	if err != nil {
		if errors.Is(err, errNotFound) {
			return &learner.PrivacySettings{LearnerID: learnerID, AnalysisEnabled: true}, nil
		}
		return nil, err
	}
	return dto.toDomain(learnerID), nil
}

// HistorySpan summarizes how much history exists for the learner. An
// unknown learner has an empty span, which fails the data floors.
func (c *Client) HistorySpan(ctx context.Context, learnerID shared.LearnerID) (learner.HistorySpan, error) {
	var dto historySpanDTO
	err := c.getJSON(ctx, "/api/v1/learners/"+url.PathEscape(string(learnerID))+"/history-span", nil, &dto)
	if err != nil {
		if errors.Is(err, errNotFound) {
			return learner.HistorySpan{LearnerID: learnerID}, nil
		}
		return learner.HistorySpan{}, err
	}
	return dto.toDomain(learnerID), nil
}

// Reviews returns review observations since the given time.
func (c *Client) Reviews(ctx context.Context, learnerID shared.LearnerID, since time.Time) ([]objective.Review, error) {
	query := url.Values{"since": []string{since.UTC().Format(time.RFC3339)}}

	var dtos []reviewDTO
	err := c.getJSON(ctx, "/api/v1/learners/"+url.PathEscape(string(learnerID))+"/reviews", query, &dtos)
	if err != nil {
		return nil, err
	}

	out := make([]objective.Review, 0, len(dtos))
	for _, dto := range dtos {
		out = append(out, dto.toDomain())
	}
	return out, nil
}

// Sessions returns study-session records since the given time.
func (c *Client) Sessions(ctx context.Context, learnerID shared.LearnerID, since time.Time) ([]objective.SessionStat, error) {
	query := url.Values{"since": []string{since.UTC().Format(time.RFC3339)}}

	var dtos []sessionDTO
	err := c.getJSON(ctx, "/api/v1/learners/"+url.PathEscape(string(learnerID))+"/sessions", query, &dtos)
	if err != nil {
		return nil, err
	}

	out := make([]objective.SessionStat, 0, len(dtos))
	for _, dto := range dtos {
		out = append(out, dto.toDomain())
	}
	return out, nil
}

// ActiveLearners returns the roster for the nightly batch run.
func (c *Client) ActiveLearners(ctx context.Context) ([]shared.LearnerID, error) {
	var dto activeLearnersDTO
	if err := c.getJSON(ctx, "/api/v1/learners/active", nil, &dto); err != nil {
		return nil, err
	}

	out := make([]shared.LearnerID, 0, len(dto.LearnerIDs))
	for _, id := range dto.LearnerIDs {
		out = append(out, shared.LearnerID(id))
	}
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// TRANSPORT
// ══════════════════════════════════════════════════════════════════════════════

// errNotFound marks a 404 so callers can substitute documented defaults.
var errNotFound = errors.New("behavior: resource not found")

// getJSON performs a GET through the breaker and retrier, decoding the
// response body into dest. Server errors retry; client errors do not.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, dest interface{}) error {
	fullURL := c.config.BaseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.retrier.Do(ctx, func(ctx context.Context) error {
			return c.doGet(ctx, fullURL, dest)
		})
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, errNotFound) {
		return err
	}
	return fmt.Errorf("%w: behavior read %s: %v", shared.ErrUpstream, path, err)
}

func (c *Client) doGet(ctx context.Context, fullURL string, dest interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return retry.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return retry.Retryable(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return retry.Retryable(err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		if err := json.Unmarshal(body, dest); err != nil {
			return retry.Permanent(fmt.Errorf("decode response: %w", err))
		}
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return retry.Permanent(errNotFound)
	case resp.StatusCode >= 500:
		return retry.Retryable(fmt.Errorf("status %d: %s", resp.StatusCode, string(body)))
	default:
		return retry.Permanent(fmt.Errorf("status %d: %s", resp.StatusCode, string(body)))
	}
}
