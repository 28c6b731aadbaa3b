// Command moodreport prints a user's activity and mood statistics from the
// configured log store.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cast"

	"github.com/zhouzirui/mindfriend/backend/internal/app"
	"github.com/zhouzirui/mindfriend/backend/internal/config"
	"github.com/zhouzirui/mindfriend/backend/internal/logging"
	"github.com/zhouzirui/mindfriend/backend/internal/model/chat"
	"github.com/zhouzirui/mindfriend/backend/internal/service/command"
	"github.com/zhouzirui/mindfriend/backend/internal/service/stats"
	"github.com/zhouzirui/mindfriend/backend/internal/store"
)

type options struct {
	userID chat.UserID
	tr     store.TimeRange
	recent int
	json   bool
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}

	user := flag.String("user", "", "user id to report on (required)")
	from := flag.String("from", "", "only count records at or after this RFC 3339 time")
	to := flag.String("to", "", "only count records before this RFC 3339 time")
	recent := flag.Int("recent", command.RecentMoods, "number of recent mood entries to list")
	asJSON := flag.Bool("json", false, "print the report as JSON")
	driver := flag.String("driver", cfg.Store.Driver, "store driver, overrides STORE_DRIVER")
	dsn := flag.String("dsn", cfg.Store.DSN, "store DSN, overrides STORE_DSN")
	timeout := flag.Duration("timeout", 30*time.Second, "overall timeout")
	flag.Parse()

	opts, err := parseOptions(*user, *from, *to, *recent, *asJSON)
	if err != nil {
		flag.Usage()
		logger.Fatal().Err(err).Msg("invalid arguments")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	st, err := app.OpenStore(ctx, config.StoreConfig{Driver: *driver, DSN: *dsn}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open store failed")
	}
	defer st.Close()

	if err := report(ctx, os.Stdout, stats.New(st), opts, logger); err != nil {
		st.Close()
		logger.Fatal().Err(err).Msg("report failed")
	}
}

func parseOptions(user, from, to string, recent int, asJSON bool) (options, error) {
	opts := options{userID: chat.UserID(user), recent: recent, json: asJSON}
	if user == "" {
		return opts, errors.New("-user is required")
	}
	if recent < 0 {
		return opts, errors.New("-recent must not be negative")
	}
	if from != "" {
		t, err := cast.ToTimeE(from)
		if err != nil {
			return opts, fmt.Errorf("-from: %w", err)
		}
		opts.tr.From = t.UTC()
	}
	if to != "" {
		t, err := cast.ToTimeE(to)
		if err != nil {
			return opts, fmt.Errorf("-to: %w", err)
		}
		opts.tr.To = t.UTC()
	}
	return opts, nil
}

func report(ctx context.Context, w io.Writer, agg *stats.Aggregator, opts options, logger zerolog.Logger) error {
	start := time.Now()
	rep, err := agg.Report(ctx, opts.userID, opts.tr, opts.recent)
	if err != nil {
		return err
	}
	logger.Debug().Str("user_id", string(opts.userID)).Dur("elapsed", time.Since(start)).Msg("report computed")

	if opts.json {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}

	if _, err := fmt.Fprintf(w, "User %s\n\n%s\n\n", rep.UserID, command.FormatActivity(rep.Activity)); err != nil {
		return err
	}
	if rep.Mood.Total == 0 {
		_, err = fmt.Fprintln(w, command.NoMoodsText)
		return err
	}
	_, err = fmt.Fprintln(w, command.FormatMoodSummary(rep.Mood))
	return err
}
