// Package curriculum implements the HTTP client for the curriculum
// subsystem: the objective graph, mastery states, and the learner's
// upcoming schedule. It satisfies extractor.CurriculumSource with retries
// and a circuit breaker on every read, so a degraded upstream surfaces as
// a single wrapped error, never a hang.
package curriculum

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/learnloop/insight/internal/domain/objective"
	"github.com/learnloop/insight/internal/domain/shared"
	"github.com/learnloop/insight/pkg/circuitbreaker"
	"github.com/learnloop/insight/pkg/logger"
	"github.com/learnloop/insight/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for the curriculum client.
type ClientConfig struct {
	// BaseURL is the curriculum API base URL.
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

// Client reads the curriculum API. Implements extractor.CurriculumSource.
type Client struct {
	config  ClientConfig
	http    *http.Client
	retrier *retry.Retrier
	breaker *circuitbreaker.CircuitBreaker
	log     *logger.Logger
}

// NewClient creates a curriculum client.
func NewClient(config ClientConfig, log *logger.Logger) *Client {
	if log == nil {
		log = logger.Default()
	}
	log = log.With(logger.Component("curriculum-client"))

	return &Client{
		config:  config,
		http:    &http.Client{Timeout: config.Timeout},
		retrier: retry.UpstreamRetrier(),
		breaker: circuitbreaker.UpstreamBreaker("curriculum", func(name string, from, to circuitbreaker.State) {
			log.Warn("breaker state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		}),
		log: log,
	}
}

// Objective returns one graph node. Unknown IDs return
// shared.ErrUnknownObjective.
func (c *Client) Objective(ctx context.Context, id shared.ObjectiveID) (*objective.Objective, error) {
	var dto objectiveDTO
	err := c.getJSON(ctx, "/api/v1/objectives/"+url.PathEscape(string(id)), nil, &dto)
	if err != nil {
		if errors.Is(err, errNotFound) {
			return nil, shared.ErrUnknownObjective
		}
		return nil, err
	}
	return dto.toDomain(), nil
}

// PrerequisiteClosure returns the transitive prerequisite set of an
// objective, nearest first.
func (c *Client) PrerequisiteClosure(ctx context.Context, id shared.ObjectiveID) ([]*objective.Objective, error) {
	var dtos []objectiveDTO
	err := c.getJSON(ctx, "/api/v1/objectives/"+url.PathEscape(string(id))+"/prerequisites", nil, &dtos)
	if err != nil {
		if errors.Is(err, errNotFound) {
			return nil, shared.ErrUnknownObjective
		}
		return nil, err
	}

	out := make([]*objective.Objective, 0, len(dtos))
	for _, dto := range dtos {
		out = append(out, dto.toDomain())
	}
	return out, nil
}

// MasteryStates returns the learner's standing per objective.
func (c *Client) MasteryStates(ctx context.Context, learnerID shared.LearnerID) (map[shared.ObjectiveID]objective.MasteryState, error) {
	var dtos []masteryDTO
	err := c.getJSON(ctx, "/api/v1/learners/"+url.PathEscape(string(learnerID))+"/mastery", nil, &dtos)
	if err != nil {
		return nil, err
	}

	out := make(map[shared.ObjectiveID]objective.MasteryState, len(dtos))
	for _, dto := range dtos {
		state := dto.toDomain()
		out[state.ObjectiveID] = state
	}
	return out, nil
}

// UpcomingSchedule returns schedule entries due within horizonDays.
func (c *Client) UpcomingSchedule(ctx context.Context, learnerID shared.LearnerID, horizonDays int) ([]objective.ScheduleEntry, error) {
	query := url.Values{"horizon_days": []string{strconv.Itoa(horizonDays)}}

	var dtos []scheduleEntryDTO
	err := c.getJSON(ctx, "/api/v1/learners/"+url.PathEscape(string(learnerID))+"/schedule", query, &dtos)
	if err != nil {
		return nil, err
	}

	out := make([]objective.ScheduleEntry, 0, len(dtos))
	for _, dto := range dtos {
		out = append(out, dto.toDomain())
	}
	return out, nil
}

// StruggleHistory returns historical struggle observations for affinity
// features.
func (c *Client) StruggleHistory(ctx context.Context, learnerID shared.LearnerID) ([]objective.StruggleRecord, error) {
	var dtos []struggleRecordDTO
	err := c.getJSON(ctx, "/api/v1/learners/"+url.PathEscape(string(learnerID))+"/struggle-history", nil, &dtos)
	if err != nil {
		return nil, err
	}

	out := make([]objective.StruggleRecord, 0, len(dtos))
	for _, dto := range dtos {
		out = append(out, dto.toDomain())
	}
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// TRANSPORT
// ══════════════════════════════════════════════════════════════════════════════

// errNotFound marks a 404 so callers can map it to a domain sentinel.
var errNotFound = errors.New("curriculum: resource not found")

// getJSON performs a GET through the breaker and retrier, decoding the
// response body into dest. Server errors retry; 404 and other client
// errors do not.
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
	return fmt.Errorf("%w: curriculum read %s: %v", shared.ErrUpstream, path, err)
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
