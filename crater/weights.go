package crater

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"os"
	"sort"
	"strconv"
	"time"
)

const (
	// DefaultWeightsTimeout is the default HTTP request timeout for weight lookups.
	DefaultWeightsTimeout = 30 * time.Second

	// DefaultMaxRetries is the default number of retry attempts.
	DefaultMaxRetries = 3

	// defaultBaseBackoff is the base delay for exponential backoff.
	defaultBaseBackoff = 500 * time.Millisecond

	// maxResponseBytes limits the response body to 50 MB to prevent OOM.
	maxResponseBytes = 50 << 20

	// WeightingDisabled is the min_user_weight sentinel that turns weighting off
	WeightingDisabled = 100.0
)

// WeightLookup returns one reliability weight per user id, in order.
type WeightLookup interface {
	Weights(ctx context.Context, users []int64) ([]float64, error)
}

// UniformWeights gives every user weight 1
type UniformWeights struct{}

func (UniformWeights) Weights(_ context.Context, users []int64) ([]float64, error) {
	w := make([]float64, len(users))
	for i := range w {
		w[i] = 1
	}
	return w, nil
}

// TableWeights looks weights up in an in-memory table sorted by user id.
// Unknown users get Default.
type TableWeights struct {
	ids     []int64
	weights []float64
	Default float64
}

// NewTableWeights builds a lookup table from a user -> weight map
func NewTableWeights(table map[int64]float64) *TableWeights {
	t := &TableWeights{Default: 1}
	for id := range table {
		t.ids = append(t.ids, id)
	}
	sort.Slice(t.ids, func(i, j int) bool { return t.ids[i] < t.ids[j] })
	t.weights = make([]float64, len(t.ids))
	for i, id := range t.ids {
		t.weights[i] = table[id]
	}
	return t
}

// LoadTableWeights reads a user,weight table from disk
func LoadTableWeights(path string) (*TableWeights, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening weights: %w", err)
	}
	defer f.Close()

	rows, lines, err := readRows(f)
	if err != nil {
		return nil, fmt.Errorf("reading weights: %w", err)
	}
	if len(rows) == 0 {
		return nil, shapeErrorf(path, 0, "no header row")
	}
	userCol, weightCol := -1, -1
	for i, name := range rows[0] {
		switch aliases[normalizeHeader(name)] {
		case fieldUser:
			userCol = i
		case fieldWeight:
			weightCol = i
		}
	}
	if userCol < 0 || weightCol < 0 {
		return nil, shapeErrorf(path, 1, "weights table needs user and weight columns, got %v", rows[0])
	}

	table := make(map[int64]float64, len(rows)-1)
	for i, row := range rows[1:] {
		if len(row) != len(rows[0]) {
			return nil, shapeErrorf(path, lines[i+1], "expected %d fields, got %d", len(rows[0]), len(row))
		}
		id, err := strconv.ParseInt(row[userCol], 10, 64)
		if err != nil {
			return nil, shapeErrorf(path, lines[i+1], "user id: %v", err)
		}
		w, err := strconv.ParseFloat(row[weightCol], 64)
		if err != nil {
			return nil, shapeErrorf(path, lines[i+1], "weight: %v", err)
		}
		table[id] = w
	}
	return NewTableWeights(table), nil
}

func (t *TableWeights) Weights(_ context.Context, users []int64) ([]float64, error) {
	out := make([]float64, len(users))
	for i, j := range MatchIDs(t.ids, users) {
		if j < 0 {
			out[i] = t.Default
		} else {
			out[i] = t.weights[j]
		}
	}
	return out, nil
}

// MatchIDs returns, for every target id, the index of the equal id in the
// ascending slice sorted, or -1 when absent.
func MatchIDs(sorted, targets []int64) []int {
	out := make([]int, len(targets))
	for i, id := range targets {
		j := sort.Search(len(sorted), func(k int) bool { return sorted[k] >= id })
		if j < len(sorted) && sorted[j] == id {
			out[i] = j
		} else {
			out[i] = -1
		}
	}
	return out
}

// WeightsOption configures an HTTPWeights lookup.
type WeightsOption func(*weightsConfig)

type weightsConfig struct {
	timeout     time.Duration
	maxRetries  int
	baseBackoff time.Duration
	client      *http.Client
}

func defaultWeightsConfig() weightsConfig {
	return weightsConfig{
		timeout:     DefaultWeightsTimeout,
		maxRetries:  DefaultMaxRetries,
		baseBackoff: defaultBaseBackoff,
	}
}

// WithTimeout sets the HTTP request timeout.
func WithTimeout(d time.Duration) WeightsOption {
	return func(c *weightsConfig) {
		c.timeout = d
	}
}

// WithMaxRetries sets the maximum number of retry attempts.
func WithMaxRetries(n int) WeightsOption {
	return func(c *weightsConfig) {
		c.maxRetries = n
	}
}

// WithBaseBackoff sets the base delay for exponential backoff between retries.
func WithBaseBackoff(d time.Duration) WeightsOption {
	return func(c *weightsConfig) {
		c.baseBackoff = d
	}
}

// WithHTTPClient overrides the default HTTP client (useful for testing).
func WithHTTPClient(client *http.Client) WeightsOption {
	return func(c *weightsConfig) {
		c.client = client
	}
}

// HTTPWeights asks a weight service for user weights. The request body is
// {"users": [...]} and the response {"weights": [...]} in the same order.
type HTTPWeights struct {
	url    string
	cfg    weightsConfig
	client *http.Client
}

// NewHTTPWeights creates a lookup against the given service URL
func NewHTTPWeights(url string, opts ...WeightsOption) *HTTPWeights {
	cfg := defaultWeightsConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	client := cfg.client
	if client == nil {
		client = &http.Client{Timeout: cfg.timeout}
	}
	return &HTTPWeights{url: url, cfg: cfg, client: client}
}

type weightsRequest struct {
	Users []int64 `json:"users"`
}

type weightsResponse struct {
	Weights []float64 `json:"weights"`
}

// Weights fetches weights, retrying transient failures with exponential
// backoff.
func (h *HTTPWeights) Weights(ctx context.Context, users []int64) ([]float64, error) {
	if h.url == "" {
		return nil, fmt.Errorf("fetch weights: URL is empty")
	}
	payload, err := json.Marshal(weightsRequest{Users: users})
	if err != nil {
		return nil, fmt.Errorf("fetch weights: %w", err)
	}

	var lastErr error
	for attempt := range h.cfg.maxRetries {
		if attempt > 0 {
			backoff := h.cfg.baseBackoff * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("fetch weights: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		body, err := h.doPost(ctx, payload)
		if err != nil {
			lastErr = err
			continue
		}

		var resp weightsResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			// Parse errors are not transient; do not retry.
			return nil, fmt.Errorf("fetch weights: parsing JSON: %w", err)
		}
		if len(resp.Weights) != len(users) {
			return nil, shapeErrorf("weights response", 0, "%d weights for %d users", len(resp.Weights), len(users))
		}
		return resp.Weights, nil
	}

	return nil, fmt.Errorf("fetch weights: all %d attempts failed: %w", h.cfg.maxRetries, lastErr)
}

// doPost performs a single HTTP POST and returns the response body bytes.
func (h *HTTPWeights) doPost(ctx context.Context, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP POST %s: %w", h.url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP POST %s: status %d", h.url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", h.url, err)
	}
	return body, nil
}

// ResolveWeights attaches user weights to the markings and drops those whose
// weight is below minUserWeight. Markings that already carry a weight keep
// it. Weighting is skipped (every weight 1) when minUserWeight is at or above
// WeightingDisabled or every user id is 0.
//
// The input slice is not modified.
func ResolveWeights(ctx context.Context, lookup WeightLookup, markings []Marking, minUserWeight float64) ([]Marking, error) {
	out := make([]Marking, len(markings))
	copy(out, markings)

	anonymous := true
	for _, m := range markings {
		if m.User != 0 {
			anonymous = false
			break
		}
	}
	if minUserWeight >= WeightingDisabled || anonymous || lookup == nil {
		for i := range out {
			out[i].Weight, out[i].HasWeight = 1, true
		}
		return out, nil
	}

	var need []int
	var users []int64
	for i, m := range out {
		if !m.HasWeight {
			need = append(need, i)
			users = append(users, m.User)
		}
	}
	if len(users) > 0 {
		weights, err := lookup.Weights(ctx, users)
		if err != nil {
			return nil, &ToolError{Tool: "weights", Failed: len(users), Err: err}
		}
		if len(weights) != len(users) {
			return nil, shapeErrorf("weights", 0, "%d weights for %d users", len(weights), len(users))
		}
		for k, i := range need {
			out[i].Weight, out[i].HasWeight = weights[k], true
		}
	}

	kept := out[:0]
	for _, m := range out {
		if m.Weight >= minUserWeight {
			kept = append(kept, m)
		}
	}
	if dropped := len(markings) - len(kept); dropped > 0 {
		log.Printf("Dropped %d markings with user weight below %.3f", dropped, minUserWeight)
	}
	return kept, nil
}
