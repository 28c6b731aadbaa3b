// Package stats computes activity and mood statistics from the log store.
package stats

import (
	"context"
	"fmt"
	"iter"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/sourcegraph/conc/pool"
	"gonum.org/v1/gonum/stat"

	"github.com/zhouzirui/mindfriend/backend/internal/model/chat"
	"github.com/zhouzirui/mindfriend/backend/internal/model/mood"
	"github.com/zhouzirui/mindfriend/backend/internal/store"
)

// Log is the part of the store the aggregator reads.
type Log interface {
	QueryTurns(ctx context.Context, userID chat.UserID, r store.TimeRange) iter.Seq2[chat.Turn, error]
	QueryMoods(ctx context.Context, userID chat.UserID, r store.TimeRange) iter.Seq2[mood.Entry, error]
}

// Activity summarizes a user's messages. Only user-authored turns count.
type Activity struct {
	TotalMessages int       `json:"totalMessages"`
	DaysActive    int       `json:"daysActive"`
	AveragePerDay float64   `json:"averagePerDay"`
	First         time.Time `json:"first,omitzero"`
	Last          time.Time `json:"last,omitzero"`
}

// MoodSummary summarizes a user's mood entries.
type MoodSummary struct {
	Total     int            `json:"total"`
	Frequency map[string]int `json:"frequency"`
	Recent    []mood.Entry   `json:"recent"`
	// Scored counts entries that carry a score; Mean and StdDev cover them.
	Scored int     `json:"scored"`
	Mean   float64 `json:"meanScore"`
	StdDev float64 `json:"stdDevScore"`
}

// Labels returns the frequency labels, most frequent first, then by name.
func (s MoodSummary) Labels() []string {
	labels := slices.Collect(maps.Keys(s.Frequency))
	slices.SortFunc(labels, func(a, b string) int {
		if d := s.Frequency[b] - s.Frequency[a]; d != 0 {
			return d
		}
		return strings.Compare(a, b)
	})
	return labels
}

// Report combines activity and mood statistics.
type Report struct {
	UserID   chat.UserID `json:"userId"`
	Activity Activity    `json:"activity"`
	Mood     MoodSummary `json:"mood"`
}

// Aggregator reads the log and folds it into statistics.
type Aggregator struct {
	log Log
}

// New creates an Aggregator over log.
func New(log Log) *Aggregator {
	return &Aggregator{log: log}
}

// AverageMessagesPerDay divides the user's messages in r by the number of
// UTC calendar days from the first to the last of them, inclusive.
func (a *Aggregator) AverageMessagesPerDay(ctx context.Context, userID chat.UserID, r store.TimeRange) (float64, error) {
	activity, err := a.Activity(ctx, userID, r)
	if err != nil {
		return 0, err
	}
	return activity.AveragePerDay, nil
}

// Activity scans the user's turns in r.
func (a *Aggregator) Activity(ctx context.Context, userID chat.UserID, r store.TimeRange) (Activity, error) {
	var out Activity
	for turn, err := range a.log.QueryTurns(ctx, userID, r) {
		if err != nil {
			return Activity{}, fmt.Errorf("stats: activity: %w", err)
		}
		if turn.Role != chat.RoleUser {
			continue
		}
		out.TotalMessages++
		if out.First.IsZero() || turn.CreatedAt.Before(out.First) {
			out.First = turn.CreatedAt
		}
		if turn.CreatedAt.After(out.Last) {
			out.Last = turn.CreatedAt
		}
	}

	if out.TotalMessages == 0 {
		return Activity{}, nil
	}
	out.DaysActive = CalendarDays(out.First, out.Last)
	out.AveragePerDay = float64(out.TotalMessages) / float64(out.DaysActive)
	return out, nil
}

// MoodFrequency counts entries per label. Score-only entries are skipped.
func (a *Aggregator) MoodFrequency(ctx context.Context, userID chat.UserID, r store.TimeRange) (map[string]int, error) {
	freq := make(map[string]int)
	for entry, err := range a.log.QueryMoods(ctx, userID, r) {
		if err != nil {
			return nil, fmt.Errorf("stats: mood frequency: %w", err)
		}
		if entry.Label == "" {
			continue
		}
		freq[entry.Label]++
	}
	return freq, nil
}

// MoodSummary folds the user's mood entries in r and attaches the newest
// recent entries within r, oldest first.
func (a *Aggregator) MoodSummary(ctx context.Context, userID chat.UserID, r store.TimeRange, recent int) (MoodSummary, error) {
	out := MoodSummary{Frequency: make(map[string]int)}
	var scores []float64
	var latest []mood.Entry

	for entry, err := range a.log.QueryMoods(ctx, userID, r) {
		if err != nil {
			return MoodSummary{}, fmt.Errorf("stats: mood summary: %w", err)
		}
		out.Total++
		if entry.Label != "" {
			out.Frequency[entry.Label]++
		}
		if entry.Score != nil {
			scores = append(scores, *entry.Score)
		}
		if recent > 0 {
			latest = append(latest, entry)
			if len(latest) > recent {
				latest = latest[1:]
			}
		}
	}

	out.Recent = append([]mood.Entry{}, latest...)
	out.Scored = len(scores)
	switch len(scores) {
	case 0:
	case 1:
		out.Mean = scores[0]
	default:
		out.Mean, out.StdDev = stat.MeanStdDev(scores, nil)
	}
	return out, nil
}

// Report computes activity and mood statistics concurrently.
func (a *Aggregator) Report(ctx context.Context, userID chat.UserID, r store.TimeRange, recent int) (Report, error) {
	report := Report{UserID: userID}

	p := pool.New().WithContext(ctx).WithCancelOnError()
	p.Go(func(ctx context.Context) error {
		activity, err := a.Activity(ctx, userID, r)
		report.Activity = activity
		return err
	})
	p.Go(func(ctx context.Context) error {
		summary, err := a.MoodSummary(ctx, userID, r, recent)
		report.Mood = summary
		return err
	})
	if err := p.Wait(); err != nil {
		return Report{}, err
	}
	return report, nil
}

// CalendarDays counts UTC calendar days from first to last inclusive; at least 1.
func CalendarDays(first, last time.Time) int {
	day := func(t time.Time) time.Time {
		y, m, d := t.UTC().Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	}
	days := int(day(last).Sub(day(first)).Hours()/24) + 1
	return max(days, 1)
}
