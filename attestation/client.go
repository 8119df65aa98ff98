package attestation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gobridgetracker/limiter"
	"gobridgetracker/types"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout         = 10 * time.Second
	defaultBreakerFailures = 5

	// Circle's published limit for the attestation API
	defaultRequestsPerSecond = 35
)

var ErrEmptyMessageHash = errors.New("message hash is required")

// errStatus marks a non-2xx answer for the breaker.
type errStatus int

func (e errStatus) Error() string { return fmt.Sprintf("status %d", int(e)) }

type Config struct {
	BaseURL           string
	Timeout           time.Duration
	BreakerFailures   uint32 // consecutive failures before the breaker opens
	RequestsPerSecond float64
}

// Client queries the attestation service. Every call is a single attempt;
// polling is done by calling again.
type Client struct {
	config         Config
	httpClient     *http.Client
	circuitBreaker *gobreaker.CircuitBreaker
	rateLimiter    *rate.Limiter
	limiter        *limiter.RequestLimiter
	logger         *zap.Logger
}

func NewClient(config Config, lim *limiter.RequestLimiter, logger *zap.Logger) *Client {
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}
	if config.BreakerFailures == 0 {
		config.BreakerFailures = defaultBreakerFailures
	}
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = defaultRequestsPerSecond
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	cbSettings := gobreaker.Settings{
		Name:        "attestation",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.BreakerFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("attestation circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}

	return &Client{
		config:         config,
		httpClient:     &http.Client{Timeout: config.Timeout},
		circuitBreaker: gobreaker.NewCircuitBreaker(cbSettings),
		rateLimiter:    rate.NewLimiter(rate.Limit(config.RequestsPerSecond), 1),
		limiter:        lim,
		logger:         logger,
	}
}

// GetAttestation looks up the attestation for a source-chain message hash.
func (c *Client) GetAttestation(ctx context.Context, messageHash string) Result {
	if strings.TrimSpace(messageHash) == "" {
		return Result{Kind: KindUnknown, Err: ErrEmptyMessageHash}
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return Result{Kind: KindTransient, Err: &TransientFetchError{Err: err}}
	}

	var res Result
	err := c.limiter.Do(ctx, func(ctx context.Context) error {
		// once sent, the request is bounded by the client timeout only
		res = c.fetch(context.WithoutCancel(ctx), messageHash)
		return nil
	})
	if err != nil {
		// gave up waiting for a limiter slot
		return Result{Kind: KindTransient, Err: &TransientFetchError{Err: err}}
	}
	return res
}

func (c *Client) fetch(ctx context.Context, messageHash string) Result {
	var res Result
	_, err := c.circuitBreaker.Execute(func() (interface{}, error) {
		res = c.doRequest(ctx, messageHash)
		switch res.Kind {
		case KindOK, KindNotFoundPending:
			return nil, nil
		default:
			return nil, res.Err
		}
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return Result{Kind: KindTransient, Err: &TransientFetchError{Err: err}}
	}
	return res
}

func (c *Client) doRequest(ctx context.Context, messageHash string) Result {
	endpoint := fmt.Sprintf("%s/attestations/%s", c.config.BaseURL, url.PathEscape(messageHash))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Result{Kind: KindUnknown, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			c.logger.Warn("attestation request timed out", zap.String("messageHash", messageHash), zap.Error(err))
			return Result{Kind: KindTransient, Err: &TransientFetchError{Err: err}}
		}
		c.logger.Error("attestation request failed", zap.String("messageHash", messageHash), zap.Error(err))
		return Result{Kind: KindUnknown, Err: err}
	}
	defer resp.Body.Close()

	// not observed yet, keep polling
	if resp.StatusCode == http.StatusNotFound {
		return Result{
			Kind:        KindNotFoundPending,
			Attestation: &types.Attestation{Status: types.AttestationPendingConfirmations},
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return Result{
			Kind: KindTransient,
			Err:  &TransientFetchError{StatusCode: resp.StatusCode, Err: errStatus(resp.StatusCode)},
		}
	}

	var body attestationResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		c.logger.Error("cannot decode attestation response", zap.String("messageHash", messageHash), zap.Error(err))
		return Result{Kind: KindUnknown, Err: fmt.Errorf("decode response: %w", err)}
	}

	return Result{
		Kind: KindOK,
		Attestation: &types.Attestation{
			Message: body.Attestation,
			Status:  body.Status,
		},
	}
}

type attestationResponse struct {
	Attestation *string                 `json:"attestation"`
	Status      types.AttestationStatus `json:"status"`
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
