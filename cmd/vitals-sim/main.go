// Command vitals-sim emulates the sensor bridge: it serves simulated 16-byte
// payloads over TCP at the sample rate and stops on SIGINT or a "shutdown"
// line on the control port.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/banshee-data/vitals.report/internal/monitoring"
	"github.com/banshee-data/vitals.report/internal/sensor"
	"github.com/banshee-data/vitals.report/internal/timeutil"
	"github.com/banshee-data/vitals.report/internal/vitals"
)

var (
	addr        = flag.String("addr", "127.0.0.1:12345", "Payload listen address")
	controlAddr = flag.String("control", "127.0.0.1:12346", "Control listen address (empty disables)")
	heartRate   = flag.Float64("hr", 72, "Simulated heart rate (bpm)")
	respRate    = flag.Float64("rr", 18, "Simulated respiration rate (breaths/min)")
	noise       = flag.Float64("noise", 0.05, "Noise as a fraction of each channel's AC amplitude")
	rate        = flag.Float64("rate", 80, "Sample rate (Hz)")
	absentEvery = flag.Duration("absent-every", 0, "Leave the sensor once per period (0 disables)")
	absentFor   = flag.Duration("absent-for", 5*time.Second, "Duration of each absence")
	seed        = flag.Int64("seed", 1, "Noise seed")
	logDev      = flag.Bool("log-dev", true, "Human readable development logging")
)

const controlReadTimeout = 5 * time.Second

func simConfig() sensor.SimConfig {
	cfg := sensor.DefaultSimConfig()
	cfg.SampleRateHz = *rate
	cfg.HeartRateBPM = *heartRate
	cfg.RespRateBPM = *respRate
	cfg.Noise = *noise
	cfg.Seed = *seed
	cfg.AbsentEvery = *absentEvery
	cfg.AbsentFor = *absentFor
	return cfg
}

func main() {
	flag.Parse()

	logger, err := monitoring.NewLogger(*logDev, "vitals-sim")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	monitoring.SetLogger(logger)
	defer logger.Sync()

	if err := run(logger); err != nil {
		logger.Fatal("simulator failed", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := sensor.Listen(*addr, logger)
	if err != nil {
		return err
	}
	defer srv.Close()

	cfg := simConfig()
	sim := sensor.NewSimulator(cfg)
	logger.Info("simulating",
		zap.Stringer("addr", srv.Addr()),
		zap.Float64("hr", cfg.HeartRateBPM),
		zap.Float64("rr", cfg.RespRateBPM),
		zap.Float64("spo2", cfg.ExpectedSpO2()),
		zap.Float64("rate_hz", cfg.SampleRateHz),
	)

	var wg sync.WaitGroup

	if *controlAddr != "" {
		ln, err := net.Listen("tcp", *controlAddr)
		if err != nil {
			return fmt.Errorf("listen control: %w", err)
		}
		logger.Info("control listening", zap.Stringer("addr", ln.Addr()))
		wg.Add(1)
		go func() {
			defer wg.Done()
			serveControl(ctx, ln, stop, logger)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("accept loop stopped", zap.Error(err))
		}
	}()

	err = sim.Run(ctx, timeutil.RealClock{}, func(s vitals.RawSample) {
		srv.Broadcast(sensor.EncodePayload(s))
	})
	stop()
	wg.Wait()
	logger.Info("simulator stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// serveControl answers a "shutdown" message with OK and calls shutdown. Any
// other message gets UNKNOWN.
func serveControl(ctx context.Context, ln net.Listener, shutdown func(), logger *zap.Logger) {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				logger.Warn("control accept failed", zap.Error(err))
			}
			return
		}
		if handleControl(conn, logger) {
			logger.Info("shutdown requested", zap.Stringer("remote", conn.RemoteAddr()))
			shutdown()
		}
	}
}

func handleControl(conn net.Conn, logger *zap.Logger) bool {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(controlReadTimeout))

	buf := make([]byte, 1024)
	n, err := conn.Read(buf)
	if n == 0 {
		logger.Debug("control read failed", zap.Error(err))
		return false
	}
	if strings.EqualFold(strings.TrimSpace(string(buf[:n])), "shutdown") {
		fmt.Fprint(conn, "OK\n")
		return true
	}
	fmt.Fprint(conn, "UNKNOWN\n")
	return false
}
