package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"k8s.io/klog/v2"

	"github.com/danielpatrickdp/adaptive-state/qtable-service/internal/config"
	"github.com/danielpatrickdp/adaptive-state/qtable-service/internal/metrics"
	"github.com/danielpatrickdp/adaptive-state/qtable-service/internal/registry"
	"github.com/danielpatrickdp/adaptive-state/qtable-service/internal/rpc"
	"github.com/danielpatrickdp/adaptive-state/qtable-service/internal/service"
	"github.com/danielpatrickdp/adaptive-state/qtable-service/internal/storage"
	"github.com/danielpatrickdp/adaptive-state/qtable-service/internal/translog"
)

// #region main
func main() {
	klog.InitFlags(nil)
	envFile := flag.String("env-file", ".env", "optional dotenv file")
	flag.Parse()
	defer klog.Flush()

	cfg, err := config.Load(*envFile)
	if err != nil {
		klog.Fatalf("Failed to load config: %v", err)
	}

	backend, err := storage.Open(cfg.Backend, cfg.Storage)
	if err != nil {
		klog.Fatalf("Failed to open %s backend: %v", cfg.Backend, err)
	}
	reg := registry.New(backend, cfg.Table)
	defer reg.Close()

	opts := []service.Option{service.WithDefaultEpsilon(cfg.DefaultEpsilon)}
	if cfg.TransitionDB != "" {
		tlog, closeLog, err := openTransitionLog(cfg, backend)
		if err != nil {
			klog.Fatalf("Failed to open transition log: %v", err)
		}
		defer closeLog()
		opts = append(opts, service.WithTransitionLog(tlog))
	}
	svc := service.New(reg, opts...)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		klog.Fatalf("Failed to listen on %s: %v", cfg.GRPCAddr, err)
	}
	gs := rpc.NewGRPCServer(svc)

	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           metrics.Handler(svc.Healthy),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		klog.InfoS("Starting health server", "address", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			klog.ErrorS(err, "Health server failed")
		}
	}()

	go func() {
		klog.InfoS("Q-table service ready", "grpc", cfg.GRPCAddr, "backend", cfg.Backend,
			"alpha", cfg.Table.Alpha, "gamma", cfg.Table.Gamma, "actions", cfg.Table.NActions)
		if err := gs.Serve(lis); err != nil {
			klog.ErrorS(err, "gRPC server stopped")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	klog.InfoS("Shutting down", "tables", reg.Identities())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	gs.GracefulStop()
	_ = httpSrv.Shutdown(ctx)
}

// #endregion main

// #region helpers

// openTransitionLog shares the snapshot database when both point at the same
// SQLite file; the returned close func leaves a shared database to the backend.
func openTransitionLog(cfg config.Config, backend storage.Backend) (*translog.Log, func() error, error) {
	if sq, ok := backend.(*storage.SQLiteBackend); ok && cfg.TransitionDB == cfg.Storage.SQLitePath {
		l, err := translog.New(sq.DB())
		return l, func() error { return nil }, err
	}
	l, err := translog.Open(cfg.TransitionDB)
	if err != nil {
		return nil, nil, err
	}
	return l, l.Close, nil
}

// #endregion helpers
