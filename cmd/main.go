package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpapi "github.com/immxrtalbeast/mentorlink/internal/api/http"
	"github.com/immxrtalbeast/mentorlink/internal/config"
	"github.com/immxrtalbeast/mentorlink/internal/metrics"
	"github.com/immxrtalbeast/mentorlink/internal/repository"
	"github.com/immxrtalbeast/mentorlink/internal/service"
	"github.com/immxrtalbeast/mentorlink/lib/logger"
	"github.com/immxrtalbeast/mentorlink/lib/logger/sl"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = godotenv.Load(".env")

	cfg := config.MustLoad()
	log := logger.Setup(cfg.Env)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	sessionRepo := repository.NewInMemorySessionRepository()
	registry := service.NewSessionRegistry(sessionRepo, m, cfg.Signaling.OutboxSize, log)

	sessionController := httpapi.NewSessionController(registry, cfg.WebRTC.ICEServers(), cfg.Signaling, log)
	router := httpapi.SetupRouter(sessionController, m, cfg.HTTP.AllowedOrigins)

	srv := &http.Server{
		Addr:              cfg.HTTP.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting signaling server", slog.String("addr", cfg.HTTP.Address), slog.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return registry.RunJanitor(ctx, cfg.Signaling.JanitorInterval)
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server stopped", sl.Err(err))
		os.Exit(1)
	}
}
