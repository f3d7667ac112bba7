package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"

	"age-classifier/src/config"
	"age-classifier/src/labels"
	"age-classifier/src/metrics"

	"github.com/rs/zerolog"
)

// maxBodyBytes caps how much of an upstream response is read.
const maxBodyBytes = 1 << 20

// defaultRequestInfo is sent upstream when the caller supplies none.
var defaultRequestInfo = map[string]interface{}{
	"task":  "age_classification",
	"model": "qwen-vl",
}

// Dispatcher sends classification requests to one of the configured model
// endpoints. Each call picks an endpoint uniformly at random and is attempted
// exactly once.
type Dispatcher struct {
	endpoints []string
	path      string
	client    *http.Client
	pick      func(n int) int
	normalize func(string) labels.Label
	logger    zerolog.Logger
	metrics   *metrics.Metrics
}

type Option func(*Dispatcher)

// WithHTTPClient replaces the default client. The caller owns its timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) { d.client = c }
}

// WithPicker replaces the random endpoint choice.
func WithPicker(pick func(n int) int) Option {
	return func(d *Dispatcher) { d.pick = pick }
}

// WithNormalizer replaces labels.NormalizeFold.
func WithNormalizer(fn func(string) labels.Label) Option {
	return func(d *Dispatcher) { d.normalize = fn }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// NewDispatcher returns config.ErrNoEndpoints when cfg has no endpoints.
func NewDispatcher(cfg config.Config, logger zerolog.Logger, opts ...Option) (*Dispatcher, error) {
	if len(cfg.ModelEndpoints) == 0 {
		return nil, config.ErrNoEndpoints
	}

	d := &Dispatcher{
		endpoints: append([]string(nil), cfg.ModelEndpoints...),
		path:      cfg.PredictPath,
		client:    &http.Client{Timeout: cfg.UpstreamTimeout},
		pick:      rand.IntN,
		normalize: labels.NormalizeFold,
		logger:    logger.With().Str("component", "dispatcher").Logger(),
	}
	for _, opt := range opts {
		opt(d)
	}

	return d, nil
}

// Endpoints returns a copy of the candidate set.
func (d *Dispatcher) Endpoints() []string {
	return append([]string(nil), d.endpoints...)
}

// Classify asks a model endpoint for the age label of the image at imageURL.
// It never returns an error: every failure is reported through the Outcome.
func (d *Dispatcher) Classify(ctx context.Context, imageURL, prompt string, requestInfo map[string]interface{}) Outcome {
	endpoint := d.endpoints[d.pick(len(d.endpoints))]
	logger := d.logger.With().
		Str("endpoint", endpoint).
		Fields(correlationFields(requestInfo)).
		Logger()

	start := time.Now()
	out := d.call(ctx, endpoint, imageURL, prompt, requestInfo)
	elapsed := time.Since(start)
	d.metrics.ObserveUpstream(endpoint, string(out.Status()), elapsed)

	if !out.OK() {
		logger.Error().Dur("elapsed", elapsed).Msgf("model endpoint call failed: %s", out.Err())
		return out
	}

	label, _ := out.Label()
	logger.Info().
		Dur("elapsed", elapsed).
		Str("label", string(label)).
		Msgf("model endpoint returned: %s", out.Raw())

	return out
}

func (d *Dispatcher) call(ctx context.Context, endpoint, imageURL, prompt string, requestInfo map[string]interface{}) Outcome {
	info, err := encodeRequestInfo(requestInfo)
	if err != nil {
		return Failure(fmt.Sprintf("failed to encode request_info: %s", err))
	}

	form := url.Values{}
	form.Set("request_info", info)
	form.Set("image_input", imageURL)
	form.Set("prompt", prompt)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+d.path, strings.NewReader(form.Encode()))
	if err != nil {
		return Failure(fmt.Sprintf("failed to create request: %s", err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	res, err := d.client.Do(req)
	if err != nil {
		return Failure(fmt.Sprintf("request to %s failed: %s", endpoint, err))
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return Failure(fmt.Sprintf("failed to read response from %s: %s", endpoint, err))
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return Failure(fmt.Sprintf("%s returned %d: %s", endpoint, res.StatusCode, truncate(string(body), 200)))
	}

	raw := strings.TrimSpace(string(body))
	return Success(d.normalize(raw), raw)
}

func encodeRequestInfo(info map[string]interface{}) (string, error) {
	if len(info) == 0 {
		info = defaultRequestInfo
	}
	b, err := json.Marshal(info)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// correlationFields picks the identifiers worth logging out of request_info.
func correlationFields(info map[string]interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, 3)
	for _, k := range []string{"uid", "image_id", "model"} {
		if v, ok := info[k]; ok {
			fields[k] = v
		}
	}
	return fields
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
