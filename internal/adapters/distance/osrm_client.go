package distance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"med-delivery-routing/internal/domain"
	"med-delivery-routing/internal/platform/logging"
	"med-delivery-routing/internal/platform/metrics"
	"med-delivery-routing/internal/platform/obs"
	"med-delivery-routing/internal/ports"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

const (
	DefaultProfile = "driving"
	// MaxRetries caps the extra attempts per lookup.
	MaxRetries  = 3
	breakerName = "osrm"
)

// ErrBreakerOpen is returned without touching the network while the map service is considered down.
var ErrBreakerOpen = errors.New("osrm: circuit breaker open")

// OSRMOptions configures the table client.
type OSRMOptions struct {
	BaseURL string
	Profile string
	// Retries is the number of extra attempts after the first one, at most MaxRetries.
	Retries int
	// Backoff is the delay before the first retry; it doubles after each attempt.
	Backoff time.Duration
	// BreakerFailures is the number of consecutive failed lookups that opens the breaker.
	BreakerFailures uint32
	// BreakerCooldown is how long the breaker stays open before probing again.
	BreakerCooldown time.Duration
	HTTPClient      *http.Client
}

// OSRMClient implements ports.TravelTimeSource over the OSRM table service.
//
// It is safe for concurrent use and is shared by every request; the
// breaker state is process-wide.
type OSRMClient struct {
	session *http.Client
	baseURL string
	profile string
	retries int
	backoff time.Duration
	cb      *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

var _ ports.TravelTimeSource = (*OSRMClient)(nil)

func NewOSRMClient(opts OSRMOptions, logger *slog.Logger, m *metrics.Metrics) (*OSRMClient, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, errors.New("osrm base url is empty")
	}
	if opts.Profile == "" {
		opts.Profile = DefaultProfile
	}
	opts.Retries = min(max(opts.Retries, 0), MaxRetries)
	if opts.Backoff <= 0 {
		opts.Backoff = 200 * time.Millisecond
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = 5
	}
	if opts.BreakerCooldown <= 0 {
		opts.BreakerCooldown = 30 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}

	logger = logging.OrDiscard(logger).With("component", "osrm")

	c := &OSRMClient{
		session: opts.HTTPClient,
		baseURL: base,
		profile: opts.Profile,
		retries: opts.Retries,
		backoff: opts.Backoff,
		logger:  logger,
	}

	failures := opts.BreakerFailures
	c.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Timeout:     opts.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// A cancelled caller says nothing about the map service.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				"name", name,
				"from", from.String(),
				"to", to.String(),
			)
			m.SetBreakerState(name, int(to))
		},
	})
	m.SetBreakerState(breakerName, int(gobreaker.StateClosed))

	return c, nil
}

type tableResponse struct {
	Code      string          `json:"code"`
	Message   string          `json:"message"`
	Distances json.RawMessage `json:"distances"`
	Durations json.RawMessage `json:"durations"`
}

// Travel returns road distance and duration from one point to another.
func (c *OSRMClient) Travel(ctx context.Context, from, to domain.Coordinates) (ports.DistanceResult, error) {
	if c == nil {
		return ports.DistanceResult{}, errors.New("osrm client is nil")
	}

	res, err := c.cb.Execute(func() (interface{}, error) {
		return c.fetchTable(ctx, from, to)
	})
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return ports.DistanceResult{}, fmt.Errorf("%w: %v", ErrBreakerOpen, err)
	case err != nil:
		return ports.DistanceResult{}, err
	}

	return res.(ports.DistanceResult), nil
}

// State reports the breaker state.
func (c *OSRMClient) State() gobreaker.State { return c.cb.State() }

func (c *OSRMClient) tableURL(from, to domain.Coordinates) string {
	return fmt.Sprintf("%s/table/v1/%s/%s;%s?annotations=duration,distance",
		c.baseURL, c.profile, lonLat(from), lonLat(to))
}

func lonLat(c domain.Coordinates) string {
	ll := c.CoordsToList()
	return fmt.Sprintf("%f,%f", ll[0], ll[1])
}

func (c *OSRMClient) fetchTable(ctx context.Context, from, to domain.Coordinates) (_ ports.DistanceResult, err error) {
	defer obs.Time(ctx, "osrm.table")(&err)

	endpoint := c.tableURL(from, to)

	resp, err := c.doWithRetry(ctx, func() (*http.Request, error) {
		return c.newRequest(ctx, http.MethodGet, endpoint)
	})
	if err != nil {
		return ports.DistanceResult{}, fmt.Errorf("osrm table request failed: %w", err)
	}
	defer resp.Body.Close()

	var tr tableResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return ports.DistanceResult{}, fmt.Errorf("decode osrm table response: %w", err)
	}
	if tr.Code != "Ok" {
		return ports.DistanceResult{}, fmt.Errorf("osrm table: code %q: %s", tr.Code, tr.Message)
	}

	meters, err := pickCell(tr.Distances)
	if err != nil {
		return ports.DistanceResult{}, fmt.Errorf("osrm table distances: %w", err)
	}
	seconds, err := pickCell(tr.Durations)
	if err != nil {
		return ports.DistanceResult{}, fmt.Errorf("osrm table durations: %w", err)
	}

	return ports.DistanceResult{DistanceMeters: meters, DurationSeconds: seconds}, nil
}

// pickCell reads the origin->destination cell of a 2x2 table. Some OSRM
// builds answer a one-row table flattened to a plain list; its first value is read then.
func pickCell(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, errors.New("missing table")
	}

	var matrix [][]*float64
	if err := json.Unmarshal(raw, &matrix); err == nil {
		if len(matrix) == 0 || len(matrix[0]) < 2 || matrix[0][1] == nil {
			return 0, errors.New("missing cell [0][1]")
		}
		return *matrix[0][1], nil
	}

	var row []*float64
	if err := json.Unmarshal(raw, &row); err != nil {
		return 0, fmt.Errorf("unexpected table shape: %w", err)
	}
	if len(row) == 0 || row[0] == nil {
		return 0, errors.New("missing cell [0]")
	}
	return *row[0], nil
}
