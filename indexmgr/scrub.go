package indexmgr

import (
	"context"
	"sync"
	"time"

	"github.com/vshard/vectorindex/config"
	"github.com/vshard/vectorindex/core"
	"github.com/vshard/vectorindex/hooks"
	"github.com/caio/go-tdigest/v4"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Scrubber periodically sweeps every published Handle, triggering a
// background Rebuild or SaveVectorIndex when a Handle has drifted too far
// behind its last snapshot, and records the sweep's own latency distribution
// alongside host resource usage at the moment of the sweep.
type Scrubber struct {
	m         *Manager
	regionsOf func() []core.Region
	interval  time.Duration

	sweepLatency *tdigest.TDigest

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewScrubber constructs a Scrubber. regionsOf is called on every sweep to
// discover the current set of regions this node hosts, since regions can be
// added or removed between sweeps.
func NewScrubber(m *Manager, regionsOf func() []core.Region) (*Scrubber, error) {
	td, err := tdigest.New()
	if err != nil {
		return nil, err
	}
	return &Scrubber{
		m:            m,
		regionsOf:    regionsOf,
		interval:     config.ParseDuration(m.scrubCfg.Interval, 60*time.Second, m.logger),
		sweepLatency: td,
		stopCh:       make(chan struct{}),
	}, nil
}

// Start begins the periodic sweep loop.
func (s *Scrubber) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop signals the sweep loop to terminate and waits for it to exit,
// including any rebuilds it launched asynchronously.
func (s *Scrubber) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Scrubber) loop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var rebuilds sync.WaitGroup
	defer rebuilds.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweep(ctx, &rebuilds)
		}
	}
}

func (s *Scrubber) sweep(ctx context.Context, rebuilds *sync.WaitGroup) {
	ctx, span := tracer.Start(ctx, "Scrubber.sweep")
	defer span.End()

	if err := s.m.Hooks.Trigger(ctx, hooks.NewPreScrubEvent()); err != nil {
		s.m.logger.Error("PreScrub hook vetoed sweep", "error", err)
		return
	}

	var rebuiltCount, savedCount int
	start := time.Now()
	defer func() {
		elapsed := time.Since(start)
		_ = s.sweepLatency.Add(float64(elapsed.Microseconds()))
		span.SetAttributes(attribute.Int64("sweep_micros", elapsed.Microseconds()))
		s.recordHostUsage(span)
		_ = s.m.Hooks.Trigger(ctx, hooks.NewPostScrubEvent(hooks.PostScrubPayload{
			RebuiltCount: rebuiltCount,
			SavedCount:   savedCount,
			Duration:     elapsed,
		}))
	}()

	for _, region := range s.regionsOf() {
		h, ok := s.m.Handles.Get(region.ID)
		if !ok || !h.Status().quiescent() {
			continue
		}

		lastSaved := h.SnapshotLogIndex()
		applied := h.ApplyLogIndex()
		if applied < lastSaved {
			continue
		}
		behind := applied - lastSaved

		switch {
		case h.NeedsRebuild(behind, s.m.scrubCfg.RebuildBehindThreshold):
			rebuiltCount++
			s.m.AsyncRebuild(ctx, rebuilds, region.ID, region)
		case h.NeedsSave(behind, s.m.scrubCfg.SaveBehindThreshold):
			if !h.beginTransition(StatusSnapshotting) {
				continue
			}
			savedCount++
			rebuilds.Add(1)
			go func(h *Handle) {
				defer rebuilds.Done()
				defer h.setStatus(StatusNormal)
				if err := s.m.SaveVectorIndex(ctx, h); err != nil {
					s.m.logger.Error("scrub-triggered save failed", "region_id", h.ID, "error", err)
				}
			}(h)
		}
	}
}

// recordHostUsage attaches CPU and memory utilization at sweep time as span
// attributes, giving the sweep's tracing output the same host context an
// operator would otherwise have to correlate by hand from a separate
// dashboard.
func (s *Scrubber) recordHostUsage(span trace.Span) {
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		span.SetAttributes(attribute.Float64("host_cpu_percent", pct[0]))
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		span.SetAttributes(attribute.Float64("host_mem_percent", vm.UsedPercent))
	}
}

// LatencyQuantile returns the q-th quantile (0..1) of sweep latency in
// microseconds observed so far.
func (s *Scrubber) LatencyQuantile(q float64) float64 {
	if s.sweepLatency.Count() == 0 {
		return 0
	}
	return s.sweepLatency.Quantile(q)
}
