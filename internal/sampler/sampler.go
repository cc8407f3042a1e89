// Package sampler polls a GPU provider on a fixed interval and hands the
// results to the dashboard, the terminal view, Prometheus and the outputs.
package sampler

import (
	"context"
	"sync"
	"time"

	"github.com/alpindale/smi-dashboard/internal/gpu/base"
	"github.com/alpindale/smi-dashboard/internal/host"
	"github.com/alpindale/smi-dashboard/internal/output"
	"github.com/alpindale/smi-dashboard/internal/telemetry"
	"go.uber.org/zap"
)

const subscriberBuffer = 4

// Recorder receives every poll result; *observability.Metrics implements it.
type Recorder interface {
	ObserveReading(base.Metric, base.Reading)
	SetDeviceCount(int)
	ObservePoll(took time.Duration, at time.Time)
	ObserveHost(host.Info)
}

type Options struct {
	Interval         time.Duration
	TimelineInterval time.Duration
	Rollover         int
	Metrics          []base.Metric
	// runs lscpu, top and free for the machine view; nil disables it
	HostCmd base.RunCmdFunc
}

// Update is what subscribers receive after each poll. Point is nil when
// the round did not add a timeline entry.
type Update struct {
	Snapshot telemetry.Snapshot
	Point    *telemetry.Point
}

type Sampler struct {
	provider base.Provider
	opts     Options
	log      *zap.Logger
	rec      Recorder
	outputs  []output.Output

	refresh chan struct{}

	mu        sync.RWMutex
	latest    *telemetry.Snapshot
	timeline  *telemetry.Timeline
	lastPoint time.Time
	subs      map[int]chan Update
	nextSub   int
}

func New(p base.Provider, opts Options, log *zap.Logger, rec Recorder, outputs ...output.Output) *Sampler {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.TimelineInterval <= 0 {
		opts.TimelineInterval = opts.Interval
	}
	if len(opts.Metrics) == 0 {
		opts.Metrics = base.DeviceMetrics
	}

	return &Sampler{
		provider: p,
		opts:     opts,
		log:      log.Named("sampler"),
		rec:      rec,
		outputs:  outputs,
		refresh:  make(chan struct{}, 1),
		timeline: telemetry.NewTimeline(opts.Rollover),
		subs:     map[int]chan Update{},
	}
}

func (s *Sampler) Backend() string {
	return s.provider.Name()
}

func (s *Sampler) Metrics() []base.Metric {
	return s.opts.Metrics
}

// Run polls immediately and then on every tick until ctx is done. A round
// that outlasts the interval makes the ticker drop ticks; rounds never
// overlap.
func (s *Sampler) Run(ctx context.Context) error {
	s.log.Info("sampler started",
		zap.String("backend", s.provider.Name()),
		zap.Int("devices", s.provider.Count()),
		zap.Duration("interval", s.opts.Interval))

	s.Poll(ctx)

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("sampler stopped")
			return ctx.Err()
		case <-s.refresh:
			n := s.provider.RefreshCount(ctx)
			s.log.Info("device count refreshed", zap.Int("devices", n))
			s.Poll(ctx)
		case <-ticker.C:
			s.Poll(ctx)
		}
	}
}

// RefreshCount asks the polling goroutine to re-query the device count
// before its next round.
func (s *Sampler) RefreshCount() {
	select {
	case s.refresh <- struct{}{}:
	default:
	}
}

// Poll runs one round: every enabled metric in order, then the host
// information. The snapshot is published to subscribers and outputs.
func (s *Sampler) Poll(ctx context.Context) telemetry.Snapshot {
	start := time.Now()

	snap := telemetry.Snapshot{
		Time:     start,
		Backend:  s.provider.Name(),
		Devices:  s.provider.Count(),
		Readings: make(map[base.Metric]base.Reading, len(s.opts.Metrics)),
	}
	for _, m := range s.opts.Metrics {
		if ctx.Err() != nil {
			return snap
		}
		r := s.provider.Query(ctx, m)
		snap.Readings[m] = r
		if s.rec != nil {
			s.rec.ObserveReading(m, r)
		}
	}

	if s.opts.HostCmd != nil {
		info, err := host.Gather(ctx, s.opts.HostCmd)
		if err != nil {
			s.log.Warn("host info unavailable", zap.Error(err))
		} else {
			snap.Host = &info
			if s.rec != nil {
				s.rec.ObserveHost(info)
			}
		}
	}

	update := s.store(snap)
	s.publish(update)

	took := time.Since(start)
	if s.rec != nil {
		s.rec.SetDeviceCount(snap.Devices)
		s.rec.ObservePoll(took, start)
	}
	s.log.Debug("poll done", zap.Duration("took", took), zap.Int("devices", snap.Devices))
	return snap
}

func (s *Sampler) store(snap telemetry.Snapshot) Update {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.latest = &snap
	update := Update{Snapshot: snap}
	if s.lastPoint.IsZero() || snap.Time.Sub(s.lastPoint) >= s.opts.TimelineInterval {
		p := telemetry.NewPoint(snap)
		s.timeline.Add(p)
		s.lastPoint = snap.Time
		update.Point = &p
	}
	return update
}

func (s *Sampler) publish(u Update) {
	s.mu.RLock()
	for id, ch := range s.subs {
		select {
		case ch <- u:
		default:
			s.log.Debug("subscriber lagging, update dropped", zap.Int("subscriber", id))
		}
	}
	s.mu.RUnlock()

	for _, out := range s.outputs {
		if err := out.Publish(u.Snapshot); err != nil {
			s.log.Warn("output publish failed", zap.Error(err))
		}
	}
}

// Latest returns the newest snapshot; false until the first poll finished.
func (s *Sampler) Latest() (telemetry.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return telemetry.Snapshot{}, false
	}
	return *s.latest, true
}

// Timeline returns a copy of the retained points, oldest first.
func (s *Sampler) Timeline() []telemetry.Point {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.timeline.All()
}

// Subscribe registers a buffered channel that receives every update. A
// subscriber that falls behind misses updates. The returned function
// unsubscribes and closes the channel.
func (s *Sampler) Subscribe() (<-chan Update, func()) {
	ch := make(chan Update, subscriberBuffer)

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}

// Close closes every output.
func (s *Sampler) Close() error {
	var first error
	for _, out := range s.outputs {
		if err := out.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
