package workers

import (
	"context"
	"log/slog"
	"os"
	"tcp-chat/observability"
	"time"

	"github.com/shirou/gopsutil/process"
)

// StatsWorker samples the server process and logs the chat counters on every tick.
type StatsWorker struct {
	log      *slog.Logger
	stats    *observability.Stats
	interval time.Duration
	pid      int32
}

func NewStatsWorker(log *slog.Logger, stats *observability.Stats, interval time.Duration) *StatsWorker {
	return &StatsWorker{log: log, stats: stats, interval: interval, pid: int32(os.Getpid())}
}

func (w *StatsWorker) Run(ctx context.Context) error {
	proc, err := process.NewProcess(w.pid)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping stats sampling")
			return nil
		case <-ticker.C:
			w.sample(proc)
		}
	}
}

func (w *StatsWorker) sample(proc *process.Process) {
	mem, err := proc.MemoryInfo()
	if err != nil {
		w.log.Debug("Unable to read process memory", "error", err)
		return
	}
	cpu, err := proc.CPUPercent()
	if err != nil {
		w.log.Debug("Unable to read process cpu usage", "error", err)
		return
	}
	threads, err := proc.NumThreads()
	if err != nil {
		w.log.Debug("Unable to read process threads", "error", err)
		return
	}
	w.stats.RecordProcess(mem.RSS, cpu, threads, time.Now().UTC())

	snap := w.stats.Snapshot()
	w.log.Info("Server stats",
		"active_peers", snap.ActivePeers,
		"joined", snap.PeersJoined,
		"left", snap.PeersLeft,
		"messages", snap.MessagesBroadcast,
		"bytes_in", snap.BytesReceived,
		"deliveries_ok", snap.DeliveriesOK,
		"deliveries_failed", snap.DeliveriesFailed,
		"events_dropped", snap.EventsDropped,
		"rss_bytes", snap.RSSBytes,
		"cpu_percent", snap.CPUPercent,
		"threads", snap.NumThreads,
	)
}
