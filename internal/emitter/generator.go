package emitter

import (
	"context"
	"crypto/rand"
	"math/big"

	"github.com/google/uuid"

	"github.com/okian/trackbridge/internal/domain/model"
	"github.com/okian/trackbridge/pkg/logger"
	"github.com/okian/trackbridge/pkg/tracking"
)

// Synthetic event kinds, modelled on a counter demo app.
const (
	eventLogoClick = "logo_click"
	eventIncrement = "increment"
	eventDecrement = "decrement"
	eventAppStart  = "app_started"
	maxCount       = 100
)

var logos = []string{"vite", "tauri", "react", "svelte"}

// randomInt returns a uniform int in [0, n) using crypto/rand.
func randomInt(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0
	}
	return int(v.Int64())
}

// Generate creates n synthetic requests for one session. The first request
// is app_started without props.
func Generate(ctx context.Context, n int) []model.TrackRequest {
	if n <= 0 {
		return nil
	}
	session := uuid.NewString()
	logger.Get().Info(ctx, "generating events", logger.Int("count", n), logger.String("session", session))

	reqs := make([]model.TrackRequest, n)
	reqs[0] = model.TrackRequest{Name: eventAppStart}
	count := 0
	for i := 1; i < n; i++ {
		switch randomInt(3) {
		case 0:
			reqs[i] = model.TrackRequest{
				Name: eventLogoClick,
				Props: tracking.Properties{
					"logo":    tracking.String(logos[randomInt(len(logos))]),
					"session": tracking.String(session),
				},
			}
		case 1:
			count = min(count+1, maxCount)
			reqs[i] = model.TrackRequest{Name: eventIncrement, Props: tracking.Properties{"count": tracking.Int(int64(count))}}
		default:
			count = max(count-1, -maxCount)
			reqs[i] = model.TrackRequest{Name: eventDecrement, Props: tracking.Properties{"count": tracking.Int(int64(count))}}
		}
	}
	return reqs
}
