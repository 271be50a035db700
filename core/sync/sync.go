package sync

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"example.com/vernier-time/base/metrics"
	"example.com/vernier-time/base/timebase"
	"example.com/vernier-time/base/timemath"
	"example.com/vernier-time/core/servo"
)

const (
	defaultBatchSize = 4096
	queueDepth       = 4
)

// Source produces consecutive raw input samples.
type Source interface {
	Fill(batch []servo.Input)
}

// Publisher receives periodic status reports.
type Publisher interface {
	Publish(s Status) error
}

type Options struct {
	BatchSize int
	// Stop after this many samples; zero runs until the context is done.
	MaxSamples uint64
	// Clock paces processing to the nominal sample rate; nil runs as fast as
	// possible.
	Clock timebase.LocalClock
	// Status receives the servo state after every batch.
	Status *StatusCell
	// Publisher receives a report every TelemetryInterval of sample time.
	Publisher         Publisher
	TelemetryInterval time.Duration
	Registerer        prometheus.Registerer
}

type syncMetrics struct {
	batches prometheus.Counter
	samples prometheus.Counter
	offset  prometheus.Gauge
	ratePPM prometheus.Gauge
}

func newSyncMetrics(reg prometheus.Registerer) *syncMetrics {
	f := promauto.With(reg)
	return &syncMetrics{
		batches: f.NewCounter(prometheus.CounterOpts{
			Name: metrics.SyncBatchesN,
			Help: metrics.SyncBatchesH,
		}),
		samples: f.NewCounter(prometheus.CounterOpts{
			Name: metrics.SyncSamplesN,
			Help: metrics.SyncSamplesH,
		}),
		offset: f.NewGauge(prometheus.GaugeOpts{
			Name: metrics.SyncOffsetN,
			Help: metrics.SyncOffsetH,
		}),
		ratePPM: f.NewGauge(prometheus.GaugeOpts{
			Name: metrics.SyncRatePPMN,
			Help: metrics.SyncRatePPMH,
		}),
	}
}

func produce(ctx context.Context, src Source, free <-chan []servo.Input, batches chan<- []servo.Input) {
	defer close(batches)
	for {
		var b []servo.Input
		select {
		case <-ctx.Done():
			return
		case b = <-free:
		}
		src.Fill(b)
		select {
		case <-ctx.Done():
			return
		case batches <- b:
		}
	}
}

// Run feeds samples from src through srv until ctx is done or MaxSamples
// have been processed. Source filling runs on its own goroutine; srv is only
// touched by the calling goroutine.
func Run(ctx context.Context, log *zap.Logger, srv *servo.Servo, src Source, opts Options) error {
	batchSize := opts.BatchSize
	if batchSize == 0 {
		batchSize = defaultBatchSize
	}
	if batchSize < 0 {
		panic("invalid batch size")
	}
	if opts.Publisher != nil && opts.TelemetryInterval <= 0 {
		panic("invalid telemetry interval")
	}
	p := srv.Params()
	fs := p.Config.SampleRate
	nominalRate := timemath.Float(p.NominalPeriod, p.PeriodBits-timemath.SubnsBits)
	reportEvery := uint64(opts.TelemetryInterval.Seconds() * fs)
	if reportEvery == 0 {
		reportEvery = 1
	}

	mtrcs := newSyncMetrics(opts.Registerer)
	rate := newTheilSen(log)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	free := make(chan []servo.Input, queueDepth)
	batches := make(chan []servo.Input, queueDepth)
	for range queueDepth {
		free <- make([]servo.Input, batchSize)
	}
	go produce(ctx, src, free, batches)

	log.Info("sync loop started",
		zap.Int("batchSize", batchSize),
		zap.Uint64("maxSamples", opts.MaxSamples),
		zap.Bool("paced", opts.Clock != nil),
	)

	var start time.Time
	if opts.Clock != nil {
		start = opts.Clock.Now()
	}
	var n, nextReport uint64
	var out servo.Output
	for opts.MaxSamples == 0 || n < opts.MaxSamples {
		var b []servo.Input
		var ok bool
		select {
		case <-ctx.Done():
		case b, ok = <-batches:
		}
		if !ok {
			log.Info("sync loop stopped", zap.Uint64("samples", n))
			return nil
		}
		if opts.MaxSamples != 0 && uint64(len(b)) > opts.MaxSamples-n {
			b = b[:opts.MaxSamples-n]
		}
		for _, in := range b {
			out = srv.Step(in)
		}
		n += uint64(len(b))
		free <- b[:cap(b)]

		srv.ExportMetrics()
		mtrcs.batches.Inc()
		mtrcs.samples.Add(float64(len(b)))
		mtrcs.offset.Set(float64(srv.Offset()))

		snap := srv.Snapshot()
		st := Status{
			Samples:   n,
			Counter:   out.Counter,
			Total:     out.Total,
			Flags:     out.Flags,
			LockCount: snap.LockCount,
			PeriodPPM: 1e6 * float64(snap.PeriodOffset) / float64(p.NominalPeriod),
		}
		if out.Locked {
			rate.AddSample(n, out.Total)
			if r, ok := rate.Rate(); ok {
				st.RatePPM = 1e6 * (r/nominalRate - 1)
			}
		} else {
			rate.Reset()
		}
		mtrcs.ratePPM.Set(st.RatePPM)
		if opts.Status != nil {
			opts.Status.Store(st)
		}

		if opts.Publisher != nil && n >= nextReport {
			nextReport = n + reportEvery
			err := opts.Publisher.Publish(st)
			if err != nil {
				log.Info("failed to publish status", zap.Error(err))
			}
		}

		if opts.Clock != nil {
			due := start.Add(time.Duration(float64(n) / fs * float64(time.Second)))
			if d := due.Sub(opts.Clock.Now()); d > 0 {
				opts.Clock.Sleep(d)
			}
		}
	}
	log.Info("sync loop finished", zap.Uint64("samples", n))
	return nil
}
