package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tidwall/gjson"

	"riskapi/internal/domain"
	"riskapi/internal/storage"
)

const (
	defaultPageSize   = 1000
	defaultMaxRetries = 2
	maxErrorBodyBytes = 512
)

type Config struct {
	URL        string
	ServiceKey string
	Table      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client talks to the project's PostgREST endpoint with the service-role
// key, which bypasses row level security.
type Client struct {
	baseURL    string
	serviceKey string
	table      string
	timeout    time.Duration
	httpClient *http.Client

	pageSize       int
	maxRetries     uint64
	initialBackoff time.Duration
}

func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	table := cfg.Table
	if table == "" {
		table = "predictions"
	}
	return &Client{
		baseURL:        strings.TrimRight(cfg.URL, "/"),
		serviceKey:     cfg.ServiceKey,
		table:          table,
		timeout:        cfg.Timeout,
		httpClient:     httpClient,
		pageSize:       defaultPageSize,
		maxRetries:     defaultMaxRetries,
		initialBackoff: 200 * time.Millisecond,
	}
}

func (c *Client) Close() error { return nil }

// Probabilities pages through the probability column. Rows whose
// probability is null are skipped.
func (c *Client) Probabilities(ctx context.Context, f storage.Filter) ([]float64, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	q := url.Values{}
	q.Set("select", "probability")
	if f.Domain != "" {
		q.Set("model_name", "eq."+string(f.Domain))
	}
	endpoint := fmt.Sprintf("%s/rest/v1/%s?%s", c.baseURL, url.PathEscape(c.table), q.Encode())

	// The project's max_rows setting can cap a page below pageSize, so the
	// offset advances by the rows actually returned.
	var out []float64
	for offset := 0; ; {
		header := http.Header{}
		header.Set("Range-Unit", "items")
		header.Set("Range", fmt.Sprintf("%d-%d", offset, offset+c.pageSize-1))
		header.Set("Prefer", "count=exact")

		body, respHeader, err := c.do(ctx, http.MethodGet, endpoint, header, nil)
		if err != nil {
			return nil, err
		}
		page, err := parseProbabilities(body)
		if err != nil {
			return nil, err
		}
		out = append(out, page.values...)
		offset += page.rows
		if page.rows == 0 {
			break
		}
		if total, ok := contentRangeTotal(respHeader.Get("Content-Range")); ok && offset >= total {
			break
		}
	}
	log.Printf("supabase probabilities table=%s domain=%q rows=%d", c.table, f.Domain, len(out))
	return out, nil
}

// contentRangeTotal reads the row count from a PostgREST Content-Range
// header such as "0-999/5234". It reports false when the count is absent.
func contentRangeTotal(v string) (int, bool) {
	_, total, found := strings.Cut(v, "/")
	if !found {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(total))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

type probabilityPage struct {
	rows   int
	values []float64
}

func parseProbabilities(body []byte) (probabilityPage, error) {
	if !gjson.ValidBytes(body) {
		return probabilityPage{}, fmt.Errorf("parsing supabase response: invalid JSON")
	}
	root := gjson.ParseBytes(body)
	if !root.IsArray() {
		return probabilityPage{}, fmt.Errorf("parsing supabase response: expected an array")
	}
	var page probabilityPage
	var parseErr error
	root.ForEach(func(_, row gjson.Result) bool {
		page.rows++
		p := row.Get("probability")
		switch p.Type {
		case gjson.Null:
			return true
		case gjson.Number:
			page.values = append(page.values, p.Float())
			return true
		default:
			parseErr = fmt.Errorf("parsing supabase response: non-numeric probability %s", p.Raw)
			return false
		}
	})
	if parseErr != nil {
		return probabilityPage{}, parseErr
	}
	return page, nil
}

type insertRow struct {
	UserID      string             `json:"user_id,omitempty"`
	ModelName   string             `json:"model_name"`
	Input       map[string]float64 `json:"input"`
	Prediction  int                `json:"prediction"`
	Probability float64            `json:"probability"`
}

func (c *Client) InsertPrediction(ctx context.Context, rec domain.PredictionRecord) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	payload, err := json.Marshal([]insertRow{{
		UserID:      rec.UserID,
		ModelName:   rec.ModelName,
		Input:       rec.Input,
		Prediction:  rec.Prediction,
		Probability: rec.Probability,
	}})
	if err != nil {
		return fmt.Errorf("marshaling prediction: %w", err)
	}
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("Prefer", "return=minimal")
	endpoint := fmt.Sprintf("%s/rest/v1/%s", c.baseURL, url.PathEscape(c.table))
	_, _, err = c.do(ctx, http.MethodPost, endpoint, header, payload)
	return err
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// do sends one request, retrying transport errors and 5xx responses with
// exponential backoff. 4xx responses fail immediately.
func (c *Client) do(ctx context.Context, method, endpoint string, header http.Header, payload []byte) ([]byte, http.Header, error) {
	var body []byte
	var respHeader http.Header
	attempt := 0
	operation := func() error {
		attempt++
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("creating request: %w", err))
		}
		for k, v := range header {
			req.Header[k] = v
		}
		req.Header.Set("apikey", c.serviceKey)
		req.Header.Set("Authorization", "Bearer "+c.serviceKey)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(fmt.Errorf("executing request: %w", err))
			}
			log.Printf("supabase request error method=%s attempt=%d err=%v", method, attempt, err)
			return fmt.Errorf("executing request: %w", err)
		}
		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("reading response: %w", err)
		}
		if resp.StatusCode >= 500 {
			log.Printf("supabase server error method=%s attempt=%d status=%d", method, attempt, resp.StatusCode)
			return fmt.Errorf("supabase returned %d: %s", resp.StatusCode, truncate(respBody))
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return backoff.Permanent(fmt.Errorf("supabase returned %d: %s", resp.StatusCode, truncate(respBody)))
		}
		body = respBody
		respHeader = resp.Header
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialBackoff
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, c.maxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, nil, err
	}
	return body, respHeader, nil
}

func truncate(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBodyBytes {
		return s[:maxErrorBodyBytes] + "..."
	}
	return s
}
