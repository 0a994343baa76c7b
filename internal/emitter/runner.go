package emitter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/okian/trackbridge/internal/domain/model"
	"github.com/okian/trackbridge/pkg/logger"
)

// PercentageMultiplier converts a ratio into a percentage.
const PercentageMultiplier = 100

// ErrNothingToSend is returned when no event source was given.
var ErrNothingToSend = errors.New("nothing to send: set -name, -file or -generate")

// Run sends the events cfg describes through t.
func Run(ctx context.Context, cfg *Config, t Tracker) (*Stats, error) {
	stats := &Stats{StartTime: time.Now()}

	logger.Get().Info(ctx, "starting emitter",
		logger.String("name", cfg.Name),
		logger.String("file", cfg.File),
		logger.Int("generate", cfg.Generate),
		logger.Bool("stringProps", cfg.StringProps))

	var err error
	switch {
	case cfg.Name != "":
		err = sendOne(ctx, cfg, t, stats)
	case cfg.File != "" || cfg.Generate > 0:
		err = replay(ctx, cfg, t, stats)
	default:
		return nil, ErrNothingToSend
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(ctx, stats)
	return stats, err
}

func sendOne(ctx context.Context, cfg *Config, t Tracker, stats *Stats) error {
	props, err := ParseProps(cfg.Props, cfg.StringProps)
	if err != nil {
		return err
	}
	stats.EventsPlanned = 1
	if err := t.Track(ctx, model.TrackRequest{Name: cfg.Name, Props: props}); err != nil {
		stats.EventsFailed = 1
		return fmt.Errorf("track %s: %w", cfg.Name, err)
	}
	stats.EventsSent = 1
	return nil
}

func replay(ctx context.Context, cfg *Config, t Tracker, stats *Stats) error {
	var reqs []model.TrackRequest
	if cfg.File != "" {
		fromFile, err := readRequests(cfg.File)
		if err != nil {
			return err
		}
		reqs = append(reqs, fromFile...)
	}
	reqs = append(reqs, Generate(ctx, cfg.Generate)...)
	stats.EventsPlanned = len(reqs)

	res, err := t.Replay(ctx, reqs)
	stats.EventsSent = int(res.Sent)
	stats.EventsFailed = int(res.Failed)
	stats.EventsSkipped = int(res.Skipped)
	if err != nil {
		return err
	}
	if res.Failed > 0 {
		return fmt.Errorf("%d of %d events failed", res.Failed, res.Total)
	}
	return nil
}

func readRequests(path string) ([]model.TrackRequest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open events file: %w", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			logger.Get().Error(context.Background(), "failed to close file", logger.Error(err))
		}
	}()

	reqs, err := model.DecodeRequests(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return reqs, nil
}

// displayFinalStats logs the run statistics.
func displayFinalStats(ctx context.Context, stats *Stats) {
	var successRate, eventsPerSecond float64

	if stats.EventsPlanned > 0 {
		successRate = float64(stats.EventsSent) / float64(stats.EventsPlanned) * PercentageMultiplier
	}
	if stats.Duration > 0 {
		eventsPerSecond = float64(stats.EventsSent) / stats.Duration.Seconds()
	}

	logger.Get().Info(ctx, "final statistics",
		logger.Int("eventsPlanned", stats.EventsPlanned),
		logger.Int("eventsSent", stats.EventsSent),
		logger.Int("eventsFailed", stats.EventsFailed),
		logger.Int("eventsSkipped", stats.EventsSkipped),
		logger.String("duration", stats.Duration.String()),
		logger.Float64("successRate", successRate),
		logger.Float64("eventsPerSecond", eventsPerSecond))
}
