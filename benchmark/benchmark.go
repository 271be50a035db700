package benchmark

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"example.com/vernier-time/base/timemath"
	"example.com/vernier-time/core/config"
	"example.com/vernier-time/core/servo"
	"example.com/vernier-time/driver/refgen"
)

const (
	// Tracking errors are recorded in ps, acquisition times in us.
	maxTrackingErrPs   = 1_000_000
	maxAcquisitionUs   = 10_000_000
	acquisitionLimitMs = 50
)

type Result struct {
	PPM float64
	// Zero if the servo did not lock.
	AcquisitionSamples uint64
	Acquisition        time.Duration
	TrackedSamples     uint64
	LockLosses         int
	TrackingErr        *hdrhistogram.Histogram
}

func (r Result) Locked() bool { return r.AcquisitionSamples != 0 }

func runOne(log *zap.Logger, cfg config.Config, ppm float64) (Result, error) {
	sc, err := cfg.Servo()
	if err != nil {
		return Result{}, err
	}
	p, err := servo.NewParams(sc)
	if err != nil {
		return Result{}, err
	}
	gc := cfg.Generator()
	gc.PPM = ppm
	g, err := refgen.New(gc)
	if err != nil {
		return Result{}, err
	}
	s := servo.New(log, p, nil /* registerer */)

	res := Result{
		PPM:         ppm,
		TrackingErr: hdrhistogram.New(1, maxTrackingErrPs, 3),
	}
	fs := cfg.SampleRateHz
	limit := uint64(acquisitionLimitMs * 1e-3 * fs)
	for n := uint64(1); n <= limit; n++ {
		out := s.Step(g.Next())
		if out.Locked {
			res.AcquisitionSamples = n
			res.Acquisition = timemath.Duration(float64(n) / fs)
			break
		}
	}
	if !res.Locked() {
		return res, nil
	}

	tracking := uint64(float64(cfg.Benchmark.TrackingMs) * 1e-3 * fs)
	locked := true
	for range tracking {
		out := s.Step(g.Next())
		if !out.Locked {
			if locked {
				res.LockLosses++
			}
			locked = false
			continue
		}
		locked = true
		e := timemath.Abs(timemath.CounterDiff(out.Total, g.Truth()))
		ps := min(e*1000/timemath.SubnsPerNsec, maxTrackingErrPs)
		err := res.TrackingErr.RecordValue(ps)
		if err != nil {
			return res, err
		}
		res.TrackedSamples++
	}
	return res, nil
}

// Run measures acquisition and tracking of the servo against the reference
// generator for every configured frequency error, one goroutine per value.
func Run(log *zap.Logger, cfg config.Config) ([]Result, error) {
	results := make([]Result, len(cfg.Benchmark.PPMs))
	errs := make([]error, len(cfg.Benchmark.PPMs))
	sg := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(len(cfg.Benchmark.PPMs))
	for i, ppm := range cfg.Benchmark.PPMs {
		go func() {
			defer wg.Done()
			<-sg
			results[i], errs[i] = runOne(log.With(zap.Float64("ppm", ppm)), cfg, ppm)
		}()
	}
	t0 := time.Now()
	close(sg)
	wg.Wait()
	log.Info("benchmark finished", zap.Duration("elapsed", time.Since(t0)))
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}

func Print(w io.Writer, results []Result) error {
	acq := hdrhistogram.New(1, maxAcquisitionUs, 3)
	trk := hdrhistogram.New(1, maxTrackingErrPs, 3)
	for _, r := range results {
		if !r.Locked() {
			fmt.Fprintf(w, "%+9.1f ppm: no lock\n", r.PPM)
			continue
		}
		fmt.Fprintf(w, "%+9.1f ppm: locked after %s samples (%s), %s tracked, %d lock losses, max error %d ps\n",
			r.PPM,
			humanize.Comma(int64(r.AcquisitionSamples)),
			humanize.SIWithDigits(r.Acquisition.Seconds(), 3, "s"),
			humanize.Comma(int64(r.TrackedSamples)),
			r.LockLosses,
			r.TrackingErr.Max(),
		)
		err := acq.RecordValue(min(r.Acquisition.Microseconds(), maxAcquisitionUs))
		if err != nil {
			return err
		}
		trk.Merge(r.TrackingErr)
	}
	fmt.Fprintln(w, "acquisition time (us):")
	_, err := acq.PercentilesPrint(w, 1, 1.0)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "tracking error (ps):")
	_, err = trk.PercentilesPrint(w, 1, 1.0)
	return err
}
