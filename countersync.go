// Counter synchronization service

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/gorilla/websocket"
	"github.com/mmcloughlin/profile"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"example.com/vernier-time/base/zaplog"

	"example.com/vernier-time/benchmark"

	"example.com/vernier-time/core/config"
	"example.com/vernier-time/core/measurements"
	"example.com/vernier-time/core/servo"
	"example.com/vernier-time/core/sync"

	"example.com/vernier-time/driver/clock"
	"example.com/vernier-time/driver/refgen"

	"example.com/vernier-time/net/discovery"
	"example.com/vernier-time/net/telemetry"
)

const (
	ensembleMaxAge     = 5 * time.Second
	streamWriteTimeout = 10 * time.Second
)

var errInstanceRunning = errors.New("another instance holds the lock file")

var (
	log *zap.Logger
)

func initLogger(verbose bool) {
	c := zap.NewDevelopmentConfig()
	c.DisableStacktrace = true
	c.EncoderConfig.EncodeCaller = func(
		caller zapcore.EntryCaller, enc zapcore.PrimitiveArrayEncoder) {
		p := caller.TrimmedPath()
		if len(p) > 30 {
			p = "..." + p[len(p)-27:]
		}
		enc.AppendString(fmt.Sprintf("%30s", p))
	}
	if !verbose {
		c.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	var err error
	log, err = c.Build()
	if err != nil {
		panic(err)
	}
	zaplog.SetLogger(log)
}

func loadConfig(configFile string) config.Config {
	if configFile == "" {
		return config.Default()
	}
	cfg, err := config.Load(configFile)
	if err != nil {
		log.Fatal("failed to load configuration", zap.String("file", configFile), zap.Error(err))
	}
	return cfg
}

type statusResponse struct {
	Samples   uint64  `json:"samples"`
	Counter   uint64  `json:"counter"`
	Total     uint64  `json:"total"`
	Flags     uint32  `json:"flags"`
	Stage     int     `json:"stage"`
	Locked    bool    `json:"locked"`
	LockCount int64   `json:"lock_count"`
	PeriodPPM float64 `json:"period_ppm"`
	RatePPM   float64 `json:"rate_ppm"`
	Offset    int64   `json:"offset_subns"`
}

func newStatusResponse(srv *servo.Servo, st sync.Status) statusResponse {
	return statusResponse{
		Samples:   st.Samples,
		Counter:   st.Counter,
		Total:     st.Total,
		Flags:     uint32(st.Flags),
		Stage:     int(st.Stage()),
		Locked:    st.Locked(),
		LockCount: st.LockCount,
		PeriodPPM: st.PeriodPPM,
		RatePPM:   st.RatePPM,
		Offset:    srv.Offset(),
	}
}

// newControlHandler serves metrics, the latest status, and the runtime
// controls of srv. Only the atomic controls of srv are touched here; the
// servo itself is stepped by the sync loop.
func newControlHandler(srv *servo.Servo, cell *sync.StatusCell, g prometheus.Gatherer,
	streamInterval time.Duration) http.Handler {
	var upgrader websocket.Upgrader
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if !cell.Published() {
			http.Error(w, "no status available", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		err := json.NewEncoder(w).Encode(newStatusResponse(srv, cell.Load()))
		if err != nil {
			zaplog.Logger().Info("failed to write status", zap.Error(err))
		}
	})
	mux.HandleFunc("/status/stream", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				_, _, err := conn.ReadMessage()
				if err != nil {
					if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
						zaplog.Logger().Info("status stream closed", zap.Error(err))
					}
					return
				}
			}
		}()
		ticker := time.NewTicker(streamInterval)
		defer ticker.Stop()
		for {
			select {
			case <-closed:
				return
			case <-ticker.C:
			}
			if !cell.Published() {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			err := conn.WriteJSON(newStatusResponse(srv, cell.Load()))
			if err != nil {
				return
			}
		}
	})
	mux.HandleFunc("/offset", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			fmt.Fprintf(w, "%d\n", srv.Offset())
		case http.MethodPut, http.MethodPost:
			subns, err := strconv.ParseInt(r.URL.Query().Get("subns"), 10, 64)
			if err != nil {
				http.Error(w, "invalid offset", http.StatusBadRequest)
				return
			}
			srv.SetOffset(subns)
			zaplog.Logger().Info("output offset changed", zap.Int64("subns", subns))
			w.WriteHeader(http.StatusNoContent)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/freeze", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut && r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		on, err := strconv.ParseBool(r.URL.Query().Get("on"))
		if err != nil {
			http.Error(w, "invalid freeze state", http.StatusBadRequest)
			return
		}
		srv.Freeze(on)
		zaplog.Logger().Info("servo freeze changed", zap.Bool("on", on))
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func runMonitor(log *zap.Logger, addr string, h http.Handler) {
	err := http.ListenAndServe(addr, h)
	log.Fatal("failed to serve monitor", zap.String("address", addr), zap.Error(err))
}

// lockInstance takes an exclusive lock on path for the lifetime of the
// process, unless released through the returned lock.
func lockInstance(path string) (*flock.Flock, error) {
	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, err
	}
	if !locked {
		return nil, errInstanceRunning
	}
	return fl, nil
}

func runSync(configFile string) {
	cfg := loadConfig(configFile)
	if cfg.LockFile != "" {
		fl, err := lockInstance(cfg.LockFile)
		if err != nil {
			log.Fatal("failed to lock instance", zap.String("file", cfg.LockFile), zap.Error(err))
		}
		defer fl.Unlock()
	}
	sc, err := cfg.Servo()
	if err != nil {
		log.Fatal("unexpected configuration", zap.Error(err))
	}
	p, err := servo.NewParams(sc)
	if err != nil {
		log.Fatal("failed to derive servo parameters", zap.Error(err))
	}
	srv := servo.New(log, p, prometheus.DefaultRegisterer)
	srv.SetOffset(cfg.OffsetSubns)

	src, err := refgen.New(cfg.Generator())
	if err != nil {
		log.Fatal("failed to create reference generator", zap.Error(err))
	}

	var cell sync.StatusCell
	opts := sync.Options{
		BatchSize:         cfg.BatchSize,
		Status:            &cell,
		TelemetryInterval: cfg.TelemetryInterval(),
		Registerer:        prometheus.DefaultRegisterer,
	}
	var sndr *telemetry.Sender
	if cfg.Telemetry.RemoteAddr != "" {
		sndr, err = telemetry.NewSender(log, cfg.Telemetry.RemoteAddr, config.DSCP, prometheus.DefaultRegisterer)
		if err != nil {
			log.Fatal("failed to create telemetry sender",
				zap.String("to", cfg.Telemetry.RemoteAddr), zap.Error(err))
		}
		defer sndr.Close()
		log.Info("publishing status", zap.String("to", cfg.Telemetry.RemoteAddr),
			zap.Stringer("instance", sndr.Instance()))
		opts.Publisher = sndr
	}
	if cfg.Realtime.Pace {
		opts.Clock = &clock.MonotonicClock{Log: log}
	}
	if cfg.Realtime.CPU >= 0 {
		err = clock.PinThread(cfg.Realtime.CPU)
		if err != nil {
			log.Fatal("failed to pin sync loop", zap.Int("cpu", cfg.Realtime.CPU), zap.Error(err))
		}
	}

	if cfg.Monitor.ListenAddr != "" {
		go runMonitor(log, cfg.Monitor.ListenAddr,
			newControlHandler(srv, &cell, prometheus.DefaultGatherer, cfg.TelemetryInterval()))
		if cfg.Monitor.Advertise {
			instance := "countersync"
			if sndr != nil {
				instance += "-" + sndr.Instance().String()
			}
			adv, err := discovery.Advertise(log, instance, cfg.Monitor.ListenAddr)
			if err != nil {
				log.Fatal("failed to advertise monitor", zap.Error(err))
			}
			defer adv.Shutdown()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	err = sync.Run(ctx, log, srv, src, opts)
	if err != nil {
		log.Fatal("sync loop failed", zap.Error(err))
	}
	st := cell.Load()
	log.Info("final status",
		zap.Uint64("samples", st.Samples),
		zap.Bool("locked", st.Locked()),
		zap.Int64("lockCount", st.LockCount),
		zap.Float64("periodPPM", st.PeriodPPM),
	)
}

func runBenchmark(configFile string, profiling bool) {
	if profiling {
		defer profile.Start(profile.CPUProfile).Stop()
	}
	cfg := loadConfig(configFile)
	results, err := benchmark.Run(log, cfg)
	if err != nil {
		log.Fatal("benchmark failed", zap.Error(err))
	}
	err = benchmark.Print(os.Stdout, results)
	if err != nil {
		log.Fatal("failed to print benchmark results", zap.Error(err))
	}
}

func runTelemetryMonitor(listenAddr string) {
	l, err := telemetry.Listen(log, listenAddr, prometheus.DefaultRegisterer)
	if err != nil {
		log.Fatal("failed to listen for status reports", zap.String("address", listenAddr), zap.Error(err))
	}
	log.Info("listening for status reports", zap.Stringer("address", l.LocalAddr()))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ens := measurements.NewEnsemble(ensembleMaxAge)
	err = l.Run(ctx, func(r telemetry.Report) {
		log.Info("status report",
			zap.Stringer("from", r.Source),
			zap.Object("pkt", telemetry.PacketMarshaler{Pkt: &r.Pkt}),
			zap.Duration("delay", r.Delay),
		)
		ens.Add(measurements.Measurement{
			Timestamp: r.RxTime,
			Instance:  r.Pkt.Instance,
			RatePPM:   telemetry.PPMFromScaled(r.Pkt.RatePPM),
		}, r.Pkt.Flags&uint32(servo.FlagLockedFinal) != 0)
		m, n, ok := ens.Midpoint(r.RxTime)
		if ok {
			log.Debug("ensemble rate",
				zap.Int("instances", n),
				zap.Float64("ratePPM", m.RatePPM),
			)
		}
	})
	if err != nil {
		log.Fatal("failed to receive status reports", zap.Error(err))
	}
}

func exitWithUsage() {
	fmt.Println("usage: countersync run [-verbose] [-config <file>]")
	fmt.Println("       countersync benchmark [-verbose] [-profile] [-config <file>]")
	fmt.Println("       countersync monitor [-verbose] [-listen <address>]")
	os.Exit(1)
}

func main() {
	var (
		verbose    bool
		profiling  bool
		configFile string
		listenAddr string
	)

	runFlags := flag.NewFlagSet("run", flag.ExitOnError)
	benchmarkFlags := flag.NewFlagSet("benchmark", flag.ExitOnError)
	monitorFlags := flag.NewFlagSet("monitor", flag.ExitOnError)

	runFlags.BoolVar(&verbose, "verbose", false, "Verbose logging")
	runFlags.StringVar(&configFile, "config", "", "Config file")

	benchmarkFlags.BoolVar(&verbose, "verbose", false, "Verbose logging")
	benchmarkFlags.StringVar(&configFile, "config", "", "Config file")
	benchmarkFlags.BoolVar(&profiling, "profile", false, "Write a CPU profile")

	monitorFlags.BoolVar(&verbose, "verbose", false, "Verbose logging")
	monitorFlags.StringVar(&listenAddr, "listen", fmt.Sprintf(":%d", telemetry.DefaultPort), "Listen address")

	if len(os.Args) < 2 {
		exitWithUsage()
	}

	switch os.Args[1] {
	case runFlags.Name():
		err := runFlags.Parse(os.Args[2:])
		if err != nil || runFlags.NArg() != 0 {
			exitWithUsage()
		}
		initLogger(verbose)
		runSync(configFile)
	case benchmarkFlags.Name():
		err := benchmarkFlags.Parse(os.Args[2:])
		if err != nil || benchmarkFlags.NArg() != 0 {
			exitWithUsage()
		}
		initLogger(verbose)
		runBenchmark(configFile, profiling)
	case monitorFlags.Name():
		err := monitorFlags.Parse(os.Args[2:])
		if err != nil || monitorFlags.NArg() != 0 {
			exitWithUsage()
		}
		initLogger(verbose)
		runTelemetryMonitor(listenAddr)
	default:
		exitWithUsage()
	}
}
