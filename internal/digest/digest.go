package digest

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/slack-go/slack"

	"riskapi/internal/config"
	"riskapi/internal/domain"
	"riskapi/internal/storage"
)

// Poster is the subset of *slack.Client the digest needs.
type Poster interface {
	PostMessage(channelID string, options ...slack.MsgOption) (string, string, error)
}

type AverageSource interface {
	AverageProbability(ctx context.Context, f storage.Filter) (float64, error)
}

// Snapshot holds one round of averages. A nil entry means the store could
// not be read for that filter.
type Snapshot struct {
	Overall  *float64
	ByDomain map[domain.Domain]*float64
}

func ParseSchedule(expr string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return parser.Parse(strings.TrimSpace(expr))
}

// StartDigestScheduler posts an analytics summary to the digest channel on
// the configured 5-field cron schedule until ctx is cancelled.
// Examples: "0 9 * * *" (daily 9am), "0 9 * * 1" (Mondays 9am).
func StartDigestScheduler(ctx context.Context, cfg config.Config, source AverageSource, api Poster) bool {
	schedule := strings.TrimSpace(cfg.DigestSchedule)
	if schedule == "" {
		log.Println("Analytics digest disabled (digest_schedule not set)")
		return false
	}
	if !cfg.DigestConfigured() {
		log.Println("Analytics digest disabled: slack_bot_token or digest_channel_id missing")
		return false
	}

	sched, err := ParseSchedule(schedule)
	if err != nil {
		log.Printf("Invalid digest_schedule '%s': %v; analytics digest disabled", schedule, err)
		return false
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	log.Printf("Analytics digest scheduled (cron: %s) to channel %s", schedule, cfg.DigestChannelID)

	go runSchedule(ctx, sched, loc, func(ctx context.Context) {
		if err := Post(ctx, api, cfg.DigestChannelID, source, cfg.StoreTimeout()); err != nil {
			log.Printf("Analytics digest post error: %v", err)
		}
	})
	return true
}

// runSchedule calls fn at every activation of sched and returns once ctx
// is done.
func runSchedule(ctx context.Context, sched cron.Schedule, loc *time.Location, fn func(context.Context)) {
	for {
		now := time.Now().In(loc)
		next := sched.Next(now)
		wait := next.Sub(now)
		log.Printf("Next analytics digest at %s (in %s)", next.Format("Mon Jan 2 15:04"), wait.Round(time.Minute))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
		}
		if ctx.Err() != nil {
			log.Println("Analytics digest stopped")
			return
		}
		fn(ctx)
	}
}

// Post collects one snapshot and sends it to channelID.
func Post(ctx context.Context, api Poster, channelID string, source AverageSource, timeout time.Duration) error {
	snap := Collect(ctx, source, timeout)
	text := FormatDigest(snap)
	log.Printf("Analytics digest: %s", text)
	_, _, err := api.PostMessage(channelID, slack.MsgOptionText(text, false))
	return err
}

func Collect(ctx context.Context, source AverageSource, timeout time.Duration) Snapshot {
	snap := Snapshot{ByDomain: make(map[domain.Domain]*float64, len(domain.All))}
	snap.Overall = fetch(ctx, source, storage.Filter{}, timeout)
	for _, d := range domain.All {
		snap.ByDomain[d] = fetch(ctx, source, storage.Filter{Domain: d}, timeout)
	}
	return snap
}

func fetch(ctx context.Context, source AverageSource, f storage.Filter, timeout time.Duration) *float64 {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	avg, err := source.AverageProbability(ctx, f)
	if err != nil {
		log.Printf("digest average error domain=%q err=%v", f.Domain, err)
		return nil
	}
	return &avg
}

func FormatDigest(s Snapshot) string {
	var parts []string
	for _, d := range domain.All {
		parts = append(parts, fmt.Sprintf("%s %s", d, formatPercent(s.ByDomain[d])))
	}
	return fmt.Sprintf("Prediction analytics: average probability %s (%s)", formatPercent(s.Overall), strings.Join(parts, ", "))
}

func formatPercent(v *float64) string {
	if v == nil {
		return "analytics unavailable"
	}
	return fmt.Sprintf("%.1f%%", *v*100)
}
