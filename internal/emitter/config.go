package emitter

import (
	"context"
	"time"

	service "github.com/okian/trackbridge/internal/app"
	"github.com/okian/trackbridge/internal/domain/model"
)

// Config holds one emitter run.
type Config struct {
	Name        string   // Event name for a single event
	Props       []string // key=value pairs for the single event
	StringProps bool     // Send every prop value as text
	File        string   // NDJSON file of requests to replay
	Generate    int      // Number of synthetic events to replay
	LogFile     string   // Optional log file
	Verbose     bool     // Enable debug logging
}

// Tracker is what the emitter drives. *service.Service satisfies it.
type Tracker interface {
	Track(ctx context.Context, req model.TrackRequest) error
	Replay(ctx context.Context, reqs []model.TrackRequest) (service.Stats, error)
}

// Stats holds run statistics.
type Stats struct {
	EventsPlanned int
	EventsSent    int
	EventsFailed  int
	EventsSkipped int
	StartTime     time.Time
	EndTime       time.Time
	Duration      time.Duration
}
