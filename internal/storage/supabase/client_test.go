package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"riskapi/internal/domain"
	"riskapi/internal/storage"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := New(Config{URL: srv.URL + "/", ServiceKey: "service-key", Timeout: 5 * time.Second})
	c.initialBackoff = time.Millisecond
	return c
}

func TestProbabilitiesSendsServiceRoleHeaders(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/v1/predictions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("select"); got != "probability" {
			t.Errorf("select = %q", got)
		}
		if got := r.URL.Query().Get("model_name"); got != "" {
			t.Errorf("unexpected model_name filter %q", got)
		}
		if r.Header.Get("apikey") != "service-key" || r.Header.Get("Authorization") != "Bearer service-key" {
			t.Errorf("missing service key headers: %v", r.Header)
		}
		if r.Header.Get("Range") != "0-999" {
			t.Errorf("Range = %q", r.Header.Get("Range"))
		}
		if r.Header.Get("Prefer") != "count=exact" {
			t.Errorf("Prefer = %q", r.Header.Get("Prefer"))
		}
		w.Header().Set("Content-Range", "0-1/2")
		fmt.Fprint(w, `[{"probability": 0.2}, {"probability": 0.8}]`)
	})

	got, err := c.Probabilities(context.Background(), storage.Filter{})
	if err != nil {
		t.Fatalf("Probabilities failed: %v", err)
	}
	if len(got) != 2 || got[0] != 0.2 || got[1] != 0.8 {
		t.Fatalf("unexpected probabilities: %v", got)
	}
}

func TestProbabilitiesEmptyTable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	})

	got, err := c.Probabilities(context.Background(), storage.Filter{})
	if err != nil {
		t.Fatalf("Probabilities failed: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no values, got %v", got)
	}
}

// pagedTable serves rows the way PostgREST does for a Range request,
// returning at most maxRows per response.
type pagedTable struct {
	t         *testing.T
	rows      []string
	maxRows   int
	withCount bool

	mu     sync.Mutex
	ranges []string
}

func (p *pagedTable) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	p.ranges = append(p.ranges, r.Header.Get("Range"))
	p.mu.Unlock()

	var from, to int
	if _, err := fmt.Sscanf(r.Header.Get("Range"), "%d-%d", &from, &to); err != nil {
		p.t.Errorf("bad range %q", r.Header.Get("Range"))
		return
	}
	if to >= len(p.rows) {
		to = len(p.rows) - 1
	}
	if p.maxRows > 0 && to-from+1 > p.maxRows {
		to = from + p.maxRows - 1
	}
	total := "*"
	if p.withCount {
		total = fmt.Sprint(len(p.rows))
	}
	if from > to {
		w.Header().Set("Content-Range", "*/"+total)
		fmt.Fprint(w, `[]`)
		return
	}
	w.Header().Set("Content-Range", fmt.Sprintf("%d-%d/%s", from, to, total))
	w.WriteHeader(http.StatusPartialContent)
	fmt.Fprintf(w, "[%s]", strings.Join(p.rows[from:to+1], ","))
}

func (p *pagedTable) requested() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return strings.Join(p.ranges, ",")
}

func TestProbabilitiesDomainFilterAndPaging(t *testing.T) {
	table := &pagedTable{t: t, withCount: true, rows: []string{
		`{"probability": 0.1}`, `{"probability": null}`, `{"probability": 0.7}`,
	}}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("model_name"); got != "eq.heart" {
			t.Errorf("model_name = %q", got)
		}
		table.ServeHTTP(w, r)
	})
	c.pageSize = 2

	got, err := c.Probabilities(context.Background(), storage.Filter{Domain: domain.Heart})
	if err != nil {
		t.Fatalf("Probabilities failed: %v", err)
	}
	if len(got) != 2 || got[0] != 0.1 || got[1] != 0.7 {
		t.Fatalf("unexpected probabilities: %v", got)
	}
	if table.requested() != "0-1,2-3" {
		t.Fatalf("unexpected ranges requested: %v", table.requested())
	}
}

func TestProbabilitiesServerRowCapBelowPageSize(t *testing.T) {
	rows := []string{`{"probability": 0.1}`, `{"probability": 0.2}`, `{"probability": 0.3}`, `{"probability": 0.4}`, `{"probability": 0.5}`}
	tests := []struct {
		name      string
		withCount bool
		want      string
	}{
		{"with count", true, "0-999,2-1001,4-1003"},
		{"without count", false, "0-999,2-1001,4-1003,5-1004"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table := &pagedTable{t: t, rows: rows, maxRows: 2, withCount: tt.withCount}
			c := newTestClient(t, table.ServeHTTP)

			got, err := c.Probabilities(context.Background(), storage.Filter{})
			if err != nil {
				t.Fatalf("Probabilities failed: %v", err)
			}
			if len(got) != 5 || got[4] != 0.5 {
				t.Fatalf("expected all 5 rows despite the server cap, got %v", got)
			}
			if table.requested() != tt.want {
				t.Fatalf("ranges = %s, want %s", table.requested(), tt.want)
			}
		})
	}
}

func TestContentRangeTotal(t *testing.T) {
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{"0-999/5234", 5234, true},
		{"*/0", 0, true},
		{"0-999/*", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := contentRangeTotal(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Fatalf("contentRangeTotal(%q) = %d, %v; want %d, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestProbabilitiesRetriesServerErrors(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			http.Error(w, "upstream unavailable", http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Range", "0-0/1")
		fmt.Fprint(w, `[{"probability": 0.5}]`)
	})

	got, err := c.Probabilities(context.Background(), storage.Filter{})
	if err != nil {
		t.Fatalf("Probabilities failed: %v", err)
	}
	if len(got) != 1 || got[0] != 0.5 {
		t.Fatalf("unexpected probabilities: %v", got)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestProbabilitiesGivesUpAfterMaxRetries(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	})

	if _, err := c.Probabilities(context.Background(), storage.Filter{}); err == nil {
		t.Fatal("expected error after retries")
	}
	if atomic.LoadInt32(&calls) != defaultMaxRetries+1 {
		t.Fatalf("expected %d attempts, got %d", defaultMaxRetries+1, calls)
	}
}

func TestProbabilitiesClientErrorIsNotRetried(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, `{"message":"Invalid API key"}`, http.StatusUnauthorized)
	})

	_, err := c.Probabilities(context.Background(), storage.Filter{})
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("expected 401 error, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
}

func TestProbabilitiesMalformedResponses(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `<html>oops</html>`},
		{"object", `{"message": "hi"}`},
		{"string probability", `[{"probability": "high"}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tt.body)
			})
			if _, err := c.Probabilities(context.Background(), storage.Filter{}); err == nil {
				t.Fatal("expected parse error")
			}
		})
	}
}

func TestProbabilitiesTimeout(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
		fmt.Fprint(w, `[]`)
	})
	c.timeout = 50 * time.Millisecond

	if _, err := c.Probabilities(context.Background(), storage.Filter{}); err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestInsertPrediction(t *testing.T) {
	var mu sync.Mutex
	var gotBody []map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if r.Method != http.MethodPost || r.URL.Path != "/rest/v1/predictions" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Prefer") != "return=minimal" {
			t.Errorf("Prefer = %q", r.Header.Get("Prefer"))
		}
		data, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(data, &gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	})

	err := c.InsertPrediction(context.Background(), domain.PredictionRecord{
		ModelName:   "diabetes",
		Input:       map[string]float64{"Glucose": 148},
		Prediction:  1,
		Probability: 0.8,
	})
	if err != nil {
		t.Fatalf("InsertPrediction failed: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(gotBody) != 1 {
		t.Fatalf("expected one row, got %v", gotBody)
	}
	row := gotBody[0]
	if row["model_name"] != "diabetes" || row["prediction"] != float64(1) || row["probability"] != 0.8 {
		t.Fatalf("unexpected row: %v", row)
	}
	if _, ok := row["user_id"]; ok {
		t.Fatalf("empty user_id must be omitted: %v", row)
	}
}
