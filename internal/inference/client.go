// Package inference talks to the mood analysis backend that classifies frames.
package inference

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"
	"github.com/srg/moodsip/internal/frame"
	"github.com/srg/moodsip/internal/notify"
	"golang.org/x/time/rate"
)

// Defaults.
const (
	DefaultModel           = "gemini"
	DefaultTimeout         = 30 * time.Second
	DefaultBreakerFailures = 3
	DefaultBreakerCooldown = 30 * time.Second

	maxResponseBody = 1 << 20
)

var (
	// ErrRateLimited is returned when a frame arrives before the limiter allows another request.
	ErrRateLimited = errors.New("analysis skipped: request rate exceeded")

	// ErrUnavailable is returned while the breaker is open.
	ErrUnavailable = errors.New("analysis backend unavailable")
)

// Analysis is the backend verdict for one frame.
type Analysis struct {
	NeedsHydration bool     `json:"needs_hydration"`
	DetectedSigns  []string `json:"detected_signs,omitempty"`
	Confidence     float64  `json:"confidence"`
}

// Health is the backend health report.
type Health struct {
	Status          string   `json:"status,omitempty"`
	AvailableModels []string `json:"available_models"`
}

// HTTPError is a non-2xx response. Detail is the backend's "detail" field when
// present, otherwise "HTTP <status>".
type HTTPError struct {
	StatusCode int
	Detail     string
}

func (e *HTTPError) Error() string { return e.Detail }

type metadata struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type analyzeRequest struct {
	Image    string    `json:"image"`
	Model    string    `json:"model"`
	Metadata *metadata `json:"metadata,omitempty"`
}

// Options configures a Client.
type Options struct {
	BaseURL            string
	Model              string
	Timeout            time.Duration
	InsecureSkipVerify bool

	RatePerSecond float64
	Burst         int

	BreakerFailures uint32
	BreakerCooldown time.Duration

	HTTPClient *http.Client
	Logger     *logrus.Logger
}

// Client posts frames to the analysis backend. Requests are paced by a token
// bucket and guarded by a circuit breaker.
type Client struct {
	baseURL string
	model   string
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[*Analysis]
	logger  *logrus.Logger
}

// New creates a Client.
func New(opts Options) *Client {
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = DefaultBreakerFailures
	}
	if opts.BreakerCooldown <= 0 {
		opts.BreakerCooldown = DefaultBreakerCooldown
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.HTTPClient == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if opts.InsecureSkipVerify {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
		}
		opts.HTTPClient = &http.Client{Transport: transport, Timeout: opts.Timeout}
	}

	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}

	logger := opts.Logger
	c := &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		model:   opts.Model,
		http:    opts.HTTPClient,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}
	c.breaker = gobreaker.NewCircuitBreaker[*Analysis](gobreaker.Settings{
		Name:        "inference",
		MaxRequests: 1,
		Timeout:     opts.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Inference circuit breaker state change")
		},
		IsSuccessful: func(err error) bool {
			// 4xx responses do not count against the backend
			var herr *HTTPError
			if errors.As(err, &herr) {
				return herr.StatusCode < http.StatusInternalServerError
			}
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return c
}

// Analyze sends f as a base64 PGM image.
func (c *Client) Analyze(ctx context.Context, f frame.Frame) (*Analysis, error) {
	return c.AnalyzeImage(ctx, frame.EncodePGMBase64(f), f.Meta())
}

// AnalyzeImage sends an already encoded image. meta is attached when valid.
func (c *Client) AnalyzeImage(ctx context.Context, imageBase64 string, meta frame.Geometry) (*Analysis, error) {
	if !c.limiter.Allow() {
		return nil, ErrRateLimited
	}

	req := analyzeRequest{Image: imageBase64, Model: c.model}
	if meta.Valid() {
		req.Metadata = &metadata{Width: meta.Width, Height: meta.Height}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	started := time.Now()
	result, err := c.breaker.Execute(func() (*Analysis, error) {
		var a Analysis
		if err := c.do(ctx, http.MethodPost, "/analyze-mood", body, &a); err != nil {
			return nil, err
		}
		return &a, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"needs_hydration": result.NeedsHydration,
		"signs":           len(result.DetectedSigns),
		"confidence":      result.Confidence,
		"took":            time.Since(started),
	}).Debug("Frame analyzed")
	return result, nil
}

// Health queries the backend health endpoint.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.do(ctx, http.MethodGet, "/health", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// BreakerState reports the circuit breaker state.
func (c *Client) BreakerState() gobreaker.State {
	return c.breaker.State()
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return httpError(resp.StatusCode, data)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

func httpError(status int, body []byte) error {
	var payload struct {
		Detail interface{} `json:"detail"`
	}
	detail := fmt.Sprintf("HTTP %d", status)
	if json.Unmarshal(body, &payload) == nil && payload.Detail != nil {
		switch d := payload.Detail.(type) {
		case string:
			if d != "" {
				detail = d
			}
		default:
			if raw, err := json.Marshal(d); err == nil {
				detail = string(raw)
			}
		}
	}
	return &HTTPError{StatusCode: status, Detail: detail}
}

// FrameConsumer returns a session frame consumer that analyzes every frame and
// reports the verdict to n. Analysis failures are reported, not returned, so a
// flaky backend never shows up as a link problem. Frames refused by the rate
// limiter are skipped silently.
func (c *Client) FrameConsumer(n notify.Notifier) func(ctx context.Context, f frame.Frame, meta frame.Geometry) error {
	return func(ctx context.Context, f frame.Frame, meta frame.Geometry) error {
		a, err := c.AnalyzeImage(ctx, frame.EncodePGMBase64(f), meta)
		switch {
		case errors.Is(err, ErrRateLimited):
			c.logger.WithField("frame", f.ID).Debug("Frame skipped by inference rate limit")
			return nil
		case err != nil:
			if ctx.Err() == nil {
				n.Notify(notify.Error, "Analysis failed: "+err.Error())
			}
			return nil
		}
		n.Notify(Verdict(a))
		return nil
	}
}

// Verdict turns an analysis into the notification shown to the user.
func Verdict(a *Analysis) (notify.Level, string) {
	if !a.NeedsHydration {
		return notify.Success, "You look good! Keep it up!"
	}
	signs := "Signs of dehydration"
	if len(a.DetectedSigns) > 0 {
		signs = strings.Join(a.DetectedSigns, ", ")
	}
	return notify.Warning, "Time to hydrate! Detected: " + signs
}

// ReportHealth checks the backend and reports the outcome to n.
func (c *Client) ReportHealth(ctx context.Context, n notify.Notifier) (*Health, error) {
	h, err := c.Health(ctx)
	if err != nil {
		c.logger.WithError(err).Warn("Inference backend health check failed")
		n.Notify(notify.Warning, "Backend service unavailable")
		return nil, err
	}
	n.Notify(notify.Success, fmt.Sprintf("Connected to MoodSip AI (%d models available)", len(h.AvailableModels)))
	return h, nil
}
