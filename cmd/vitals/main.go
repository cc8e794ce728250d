package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/banshee-data/vitals.report/internal/api"
	"github.com/banshee-data/vitals.report/internal/config"
	"github.com/banshee-data/vitals.report/internal/db"
	"github.com/banshee-data/vitals.report/internal/livefeed"
	"github.com/banshee-data/vitals.report/internal/monitoring"
	"github.com/banshee-data/vitals.report/internal/publish"
	"github.com/banshee-data/vitals.report/internal/sensor"
	"github.com/banshee-data/vitals.report/internal/serialmux"
	"github.com/banshee-data/vitals.report/internal/session"
	"github.com/banshee-data/vitals.report/internal/timeutil"
	"github.com/banshee-data/vitals.report/internal/version"
	"github.com/banshee-data/vitals.report/internal/vitalslog"
)

var (
	listen     = flag.String("listen", ":8080", "HTTP listen address")
	sourceAddr = flag.String("source", "127.0.0.1:12345", "TCP address of the sensor bridge")
	serialPath = flag.String("serial", "", "Serial port of the sensor front end (overrides -source)")
	baudRate   = flag.Int("baud", serialmux.DefaultBaudRate, "Serial baud rate")
	devMode    = flag.Bool("dev", false, "Use the built-in simulator instead of a sensor")
	dbPath     = flag.String("db", "vitals.db", "SQLite database path (empty disables storage)")
	csvPath    = flag.String("csv", "vitals_log.csv", "CSV vitals log path (empty disables the log)")
	configPath = flag.String("config", "", "Tuning config JSON (defaults to "+config.DefaultConfigPath+")")
	natsURL    = flag.String("nats", "", "NATS server URL for record publishing, e.g. "+nats.DefaultURL)
	redisAddr  = flag.String("redis", "", "Redis address for the record stream")
	logDev     = flag.Bool("log-dev", false, "Human readable development logging")
)

const shutdownTimeout = 2 * time.Second

type sourceMode int

const (
	sourceTCP sourceMode = iota
	sourceSerial
	sourceSimulator
)

func (m sourceMode) String() string {
	switch m {
	case sourceSerial:
		return "serial"
	case sourceSimulator:
		return "simulator"
	default:
		return "tcp"
	}
}

func chooseSource(dev bool, serialPath string) sourceMode {
	switch {
	case dev:
		return sourceSimulator
	case serialPath != "":
		return sourceSerial
	default:
		return sourceTCP
	}
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		os.Exit(runMigrate(os.Args[2:]))
	}
	flag.Parse()

	logger, err := monitoring.NewLogger(*logDev, "vitals")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	monitoring.SetLogger(logger)
	defer logger.Sync()

	if err := run(logger); err != nil {
		logger.Fatal("vitals service failed", zap.Error(err))
	}
}

func runMigrate(args []string) int {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	path := fs.String("db", "vitals.db", "SQLite database path")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if err := db.RunMigrateCommand(fs.Args(), *path, os.Stdout); err != nil {
		if errors.Is(err, db.ErrUsage) {
			return 2
		}
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		return 1
	}
	return 0
}

func loadTuning() (*config.TuningConfig, error) {
	if *configPath == "" {
		if cfg, err := config.LoadTuningConfig(config.DefaultConfigPath); err == nil {
			return cfg, nil
		}
		return config.EmptyTuningConfig(), nil
	}
	return config.LoadTuningConfig(*configPath)
}

func run(logger *zap.Logger) error {
	tuning, err := loadTuning()
	if err != nil {
		return fmt.Errorf("load tuning config: %w", err)
	}
	if err := tuning.Validate(); err != nil {
		return fmt.Errorf("invalid tuning config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := monitoring.NewMetrics(reg)

	hub := livefeed.NewHub(tuning.GetWaveformEvery(), logger)
	opts := []session.Option{
		session.WithLogger(logger),
		session.WithMetrics(metrics),
		session.WithQueueSize(tuning.GetRecordQueueSize()),
		session.WithWaveformSink(hub),
		session.WithSink("livefeed", hub),
	}
	var admin []api.AdminRouter
	var store api.Store

	if *dbPath != "" {
		database, err := db.NewDB(*dbPath)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer database.Close()
		opts = append(opts, session.WithSink("db", database))
		admin = append(admin, database)
		store = database
		logger.Info("storing vitals", zap.String("db", *dbPath))
	}

	if *csvPath != "" {
		vlog, err := vitalslog.Open(*csvPath)
		if err != nil {
			return fmt.Errorf("open vitals log: %w", err)
		}
		defer vlog.Close()
		opts = append(opts, session.WithSink("csv", vlog))
	}

	if *natsURL != "" {
		nc, err := publish.Connect(*natsURL)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer nc.Close()
		opts = append(opts, session.WithSink("nats", publish.NewNATSPublisher(nc, publish.DefaultSubject)))
		logger.Info("publishing records", zap.String("nats", nc.ConnectedUrl()), zap.String("subject", publish.DefaultSubject))
	}

	if *redisAddr != "" {
		client, err := publish.NewRedisClient(ctx, *redisAddr)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer client.Close()
		opts = append(opts, session.WithSink("redis", publish.NewRedisPublisher(client)))
		logger.Info("streaming records", zap.String("redis", *redisAddr), zap.String("stream", publish.DefaultStream))
	}

	sess := session.New(tuning.PipelineConfig(), opts...)

	var wg sync.WaitGroup

	mode := chooseSource(*devMode, *serialPath)
	logger.Info("starting vitals service",
		zap.String("version", version.Version),
		zap.String("git_sha", version.GitSHA),
		zap.Stringer("source", mode),
		zap.String("session", sess.ID()),
	)

	switch mode {
	case sourceTCP:
		client := sensor.NewClient(*sourceAddr, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := client.Run(ctx, sess.HandleSample); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("sensor client stopped", zap.Error(err))
			}
			logger.Info("ingestion routine terminated")
		}()
	default:
		var port serialmux.SerialMuxInterface
		if mode == sourceSimulator {
			simCfg := sensor.DefaultSimConfig()
			simCfg.SampleRateHz = tuning.GetSampleRateHz()
			port = serialmux.NewMockSerialMux(sensor.NewSimulator(simCfg), timeutil.RealClock{}).WithObservers(logger, metrics)
		} else {
			uart, err := serialmux.NewRealSerialMux(*serialPath, serialmux.PortOptions{BaudRate: *baudRate})
			if err != nil {
				return fmt.Errorf("open serial port: %w", err)
			}
			port = uart.WithObservers(logger, metrics)
		}
		defer port.Close()
		admin = append(admin, port)

		// run the monitor routine to manage IO on the serial port
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := port.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("serial monitor stopped", zap.Error(err))
			}
			logger.Info("monitor routine terminated")
		}()

		wg.Add(1)
		go func() {
			defer wg.Done()
			id, c := port.Subscribe()
			defer port.Unsubscribe(id)
			for {
				select {
				case sample, ok := <-c:
					if !ok {
						return
					}
					sess.HandleSample(sample)
				case <-ctx.Done():
					logger.Info("subscribe routine terminated")
					return
				}
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		sess.Run(ctx)
		logger.Info("session routine terminated", zap.Uint64("dropped", sess.Dropped()))
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(ctx)
		logger.Info("live feed routine terminated")
	}()

	srv := api.NewServer(api.Config{
		Session:  sess,
		Store:    store,
		LiveFeed: hub,
		Metrics:  metrics,
		Gatherer: reg,
		Admin:    admin,
		Logger:   logger,
	})
	server := &http.Server{
		Addr:              *listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		go func() {
			logger.Info("http server listening", zap.String("addr", *listen))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
				stop()
			}
		}()

		<-ctx.Done()
		logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP server shutdown error", zap.Error(err))
			if err := server.Close(); err != nil {
				logger.Warn("HTTP server force close error", zap.Error(err))
			}
		}
		logger.Info("HTTP server routine stopped")
	}()

	wg.Wait()
	logger.Info("graceful shutdown complete")

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}
