// testserver starts a keyturner API server backed by simulated locks for E2E
// testing.
// Usage: go run ./cmd/testserver
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/seantiz/keyturner/internal/api"
	"github.com/seantiz/keyturner/internal/config"
	"github.com/seantiz/keyturner/internal/device"
	"github.com/seantiz/keyturner/internal/device/sim"
	"github.com/seantiz/keyturner/internal/dispatch"
	"github.com/seantiz/keyturner/internal/engine"
	"github.com/seantiz/keyturner/internal/store"
)

func main() {
	addr := ":8080"
	if v := os.Getenv("KEYTURNER_LISTEN_ADDR"); v != "" {
		addr = v
	}

	db, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	radio := sim.NewRadio(
		sim.WithLatency(150*time.Millisecond),
		sim.WithScanDelay(500*time.Millisecond),
	)
	front := sim.NewLock("54:D2:72:00:00:01", "Front Door")
	front.SetPairingMode(true)
	back := sim.NewLock("54:D2:72:00:00:02", "Back Door")
	back.SetPairingMode(true)
	garage := sim.NewLock("54:D2:72:00:00:03", "Garage")
	garage.SetReachable(false)
	for _, l := range []*sim.Lock{front, back, garage} {
		radio.AddLock(l)
	}

	radios := device.NewRegistry()
	radios.Register("sim", radio)

	identity, err := config.GenerateIdentity()
	if err != nil {
		log.Fatalf("failed to generate identity: %v", err)
	}
	identity.AppName = "keyturner-testserver"

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()
	ctx, cancel := context.WithCancelCause(sigCtx)
	defer cancel(nil)

	d := dispatch.New(
		dispatch.WithLogger(logger),
		dispatch.WithOnFatal(func(err error) {
			logger.Error("testserver: dispatcher failed, shutting down", "error", err)
			cancel(err)
		}),
	)
	if err := d.Start(); err != nil {
		log.Fatalf("failed to start dispatcher: %v", err)
	}
	defer d.Stop()

	svc := engine.NewService(db, radio, d, identity, engine.Options{
		ScanTimeout:   time.Second,
		RetryInterval: 100 * time.Millisecond,
	}, logger)
	srv := api.NewServer(addr, db, radios, svc, logger)

	logger.Info("testserver: starting", "addr", addr)
	if err := srv.Run(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
	svc.Wait()
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		log.Fatalf("dispatcher failed: %v", cause)
	}
}
