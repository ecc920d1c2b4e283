package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Destination stores registry snapshots (S3, git).
type Destination interface {
	Write(ctx context.Context, snap *Snapshot) error
	// String names the destination in logs, e.g. "s3://bucket/key".
	String() string
}

// Scheduler exports the registry on an interval and hands each snapshot to
// every destination. A destination that already holds a snapshot with the
// same digest is skipped; one that failed is retried on the next tick.
type Scheduler struct {
	source       Source
	destinations []Destination
	interval     time.Duration
	logger       *slog.Logger

	mu      sync.Mutex
	written map[Destination]string // last digest each destination accepted

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(src Source, destinations []Destination, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		source:       src,
		destinations: destinations,
		interval:     interval,
		logger:       logger,
		written:      make(map[Destination]string, len(destinations)),
	}
}

// Start syncs once immediately and then on every tick until Stop.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
}

// Stop cancels the scheduler and waits for an in-flight sync to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context) {
	s.SyncOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SyncOnce(ctx)
		}
	}
}

// SyncResult summarises one pass over the destinations.
type SyncResult struct {
	Snapshot *Snapshot
	Written  int
	Skipped  int
	Failed   int
}

// SyncOnce takes a snapshot and delivers it to each destination that does
// not hold it yet.
func (s *Scheduler) SyncOnce(ctx context.Context) (SyncResult, error) {
	snap, err := TakeSnapshot(ctx, s.source)
	if err != nil {
		s.logger.Error("sync export failed", "err", err)
		return SyncResult{}, fmt.Errorf("sync export: %w", err)
	}
	res := SyncResult{Snapshot: snap}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, dest := range s.destinations {
		if s.written[dest] == snap.Digest {
			res.Skipped++
			continue
		}
		if err := dest.Write(ctx, snap); err != nil {
			res.Failed++
			s.logger.Error("sync destination write failed",
				"destination", dest.String(), "digest", snap.ShortDigest(), "err", err)
			continue
		}
		s.written[dest] = snap.Digest
		res.Written++
	}

	attrs := []any{
		"digest", snap.ShortDigest(),
		"bytes", len(snap.Data),
		"written", res.Written,
		"skipped", res.Skipped,
		"failed", res.Failed,
	}
	for _, kind := range exportKinds {
		attrs = append(attrs, string(kind)+"s", snap.Counts[kind])
	}
	if res.Written > 0 || res.Failed > 0 {
		s.logger.Info("sync completed", attrs...)
	} else {
		s.logger.Debug("sync unchanged", attrs...)
	}
	return res, nil
}
