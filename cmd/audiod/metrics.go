package main

import (
	"context"
	"time"

	"audiod/internal/metrics"
)

// runMetrics starts the counters snapshot loop until ctx is canceled.
func runMetrics(ctx context.Context, counts *metrics.Counters, intervalSeconds int) {
	if intervalSeconds <= 0 {
		intervalSeconds = 5
	}
	metrics.Run(ctx, counts, time.Duration(intervalSeconds)*time.Second)
}
