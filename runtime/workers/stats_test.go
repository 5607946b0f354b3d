package workers

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"tcp-chat/observability"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

func TestStatsWorker_Samples_Current_Process(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	stats := observability.NewStats()
	worker := NewStatsWorker(log, stats, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	// When the worker runs a few ticks
	req.NoError(worker.Run(ctx))

	// Then the process footprint has been recorded
	snap := stats.Snapshot()
	req.NotZero(snap.RSSBytes)
	req.Positive(snap.NumThreads)
	req.False(snap.SampledAt.IsZero())
}
