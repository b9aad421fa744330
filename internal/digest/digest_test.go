package digest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/slack-go/slack"

	"riskapi/internal/config"
	"riskapi/internal/domain"
	"riskapi/internal/storage"
)

type mockPoster struct {
	channel string
	calls   int
	err     error
}

func (m *mockPoster) PostMessage(channelID string, _ ...slack.MsgOption) (string, string, error) {
	m.channel = channelID
	m.calls++
	return channelID, "1700000000.000100", m.err
}

type mapSource struct {
	values map[domain.Domain]float64
	failOn map[domain.Domain]bool
}

func (s mapSource) AverageProbability(_ context.Context, f storage.Filter) (float64, error) {
	if s.failOn[f.Domain] {
		return 0, errors.New("store unreachable")
	}
	return s.values[f.Domain], nil
}

func TestFormatDigest(t *testing.T) {
	overall, diabetes, heart := 0.5, 0.25, 0.75
	got := FormatDigest(Snapshot{
		Overall:  &overall,
		ByDomain: map[domain.Domain]*float64{domain.Diabetes: &diabetes, domain.Heart: &heart},
	})
	want := "Prediction analytics: average probability 50.0% (diabetes 25.0%, heart 75.0%)"
	if got != want {
		t.Fatalf("FormatDigest() = %q, want %q", got, want)
	}
}

func TestFormatDigestUnavailableIsNotZero(t *testing.T) {
	heart := 0.0
	got := FormatDigest(Snapshot{ByDomain: map[domain.Domain]*float64{domain.Heart: &heart}})
	if !strings.Contains(got, "average probability analytics unavailable") {
		t.Fatalf("expected overall to be unavailable, got %q", got)
	}
	if !strings.Contains(got, "diabetes analytics unavailable") {
		t.Fatalf("expected diabetes to be unavailable, got %q", got)
	}
	if !strings.Contains(got, "heart 0.0%") {
		t.Fatalf("expected heart zero average, got %q", got)
	}
}

func TestCollectKeepsFailuresApart(t *testing.T) {
	src := mapSource{
		values: map[domain.Domain]float64{"": 0.4, domain.Heart: 0.6},
		failOn: map[domain.Domain]bool{domain.Diabetes: true},
	}
	snap := Collect(context.Background(), src, time.Second)
	if snap.Overall == nil || *snap.Overall != 0.4 {
		t.Fatalf("unexpected overall: %v", snap.Overall)
	}
	if snap.ByDomain[domain.Diabetes] != nil {
		t.Fatal("failed domain must be nil")
	}
	if v := snap.ByDomain[domain.Heart]; v == nil || *v != 0.6 {
		t.Fatalf("unexpected heart average: %v", v)
	}
}

func TestPost(t *testing.T) {
	poster := &mockPoster{}
	src := mapSource{values: map[domain.Domain]float64{"": 0.5}}
	if err := Post(context.Background(), poster, "C123", src, time.Second); err != nil {
		t.Fatalf("Post() error: %v", err)
	}
	if poster.calls != 1 || poster.channel != "C123" {
		t.Fatalf("unexpected post: calls=%d channel=%q", poster.calls, poster.channel)
	}

	poster.err = errors.New("channel_not_found")
	if err := Post(context.Background(), poster, "C123", src, time.Second); err == nil {
		t.Fatal("expected slack error to be returned")
	}
}

func TestParseSchedule(t *testing.T) {
	if _, err := ParseSchedule("0 9 * * 1"); err != nil {
		t.Fatalf("valid schedule rejected: %v", err)
	}
	for _, bad := range []string{"", "every monday", "0 9 * *", "*/5 * * * * *"} {
		if _, err := ParseSchedule(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestStartDigestSchedulerDisabled(t *testing.T) {
	poster := &mockPoster{}
	src := mapSource{}

	tests := []struct {
		name string
		cfg  config.Config
	}{
		{"no schedule", config.Config{SlackBotToken: "xoxb", DigestChannelID: "C1"}},
		{"no channel", config.Config{DigestSchedule: "0 9 * * *", SlackBotToken: "xoxb"}},
		{"bad cron", config.Config{DigestSchedule: "not a cron", SlackBotToken: "xoxb", DigestChannelID: "C1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if StartDigestScheduler(context.Background(), tt.cfg, src, poster) {
				t.Fatal("expected scheduler to stay disabled")
			}
		})
	}
	if poster.calls != 0 {
		t.Fatalf("unexpected posts: %d", poster.calls)
	}
}

func TestStartDigestSchedulerEnabled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cfg := config.Config{
		DigestSchedule:  "0 9 1 1 *",
		SlackBotToken:   "xoxb",
		DigestChannelID: "C1",
		Location:        time.UTC,
	}
	if !StartDigestScheduler(ctx, cfg, mapSource{}, &mockPoster{}) {
		t.Fatal("expected scheduler to start")
	}
}

// everyTick fires a fixed interval after the given time.
type everyTick time.Duration

func (e everyTick) Next(t time.Time) time.Time { return t.Add(time.Duration(e)) }

func TestRunScheduleStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	runs := 0
	done := make(chan struct{})
	go func() {
		runSchedule(ctx, everyTick(5*time.Millisecond), time.UTC, func(context.Context) {
			mu.Lock()
			defer mu.Unlock()
			runs++
			if runs == 2 {
				cancel()
			}
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runSchedule did not return after cancel")
	}
	mu.Lock()
	defer mu.Unlock()
	if runs != 2 {
		t.Fatalf("expected 2 runs before stop, got %d", runs)
	}
}

func TestRunScheduleIdleCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		runSchedule(ctx, everyTick(time.Hour), time.UTC, func(context.Context) {
			t.Error("fn must not run before the first activation")
		})
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runSchedule did not return while waiting for the next activation")
	}
}
