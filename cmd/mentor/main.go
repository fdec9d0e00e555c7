package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/immxrtalbeast/mentorlink/internal/config"
	"github.com/immxrtalbeast/mentorlink/internal/domain"
	"github.com/immxrtalbeast/mentorlink/internal/mentor"
	"github.com/immxrtalbeast/mentorlink/internal/peer"
	"github.com/immxrtalbeast/mentorlink/internal/signaling"
	"github.com/immxrtalbeast/mentorlink/lib/logger"
	"github.com/immxrtalbeast/mentorlink/lib/logger/sl"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

// mentor is a headless supervising client. It joins a session, logs the
// roster and link changes, and optionally starts screen sharing and asks
// for control on join.
func main() {
	_ = godotenv.Load(".env")

	session := flag.String("session", "", "session code to supervise")
	name := flag.String("name", "mentor", "display name shown to children")
	share := flag.Bool("share", false, "start screen sharing after joining")
	control := flag.Bool("control", false, "request control after joining")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic("cannot read config: " + err.Error())
	}
	log := logger.Setup(cfg.Env)

	if *session == "" {
		log.Error("session code is required")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	join := signaling.Join{SessionID: *session, DisplayName: *name, Role: domain.RoleMentor}
	wsOpts := signaling.WSOptionsFromConfig(cfg.Signaling, join)
	wsOpts.OnStatus = func(s signaling.Status) {
		log.Info("signaling status", slog.String("status", string(s)))
	}
	ch, err := signaling.DialWS(ctx, wsOpts, log)
	if err != nil {
		log.Error("failed to join session", slog.String("url", cfg.Signaling.URL), sl.Err(err))
		os.Exit(1)
	}

	o, err := mentor.New(ch, mentor.OptionsFromConfig(cfg), log)
	if err != nil {
		_ = ch.Close()
		log.Error("failed to start mentor", sl.Err(err))
		os.Exit(1)
	}
	defer o.Close()

	o.OnChildren = func(children []mentor.Child) {
		ids := make([]string, len(children))
		for i, c := range children {
			ids[i] = c.ID
		}
		log.Info("children changed", slog.Any("children", ids))
	}
	o.OnControl = func(s domain.ControlState) {
		log.Info("control changed", slog.String("phase", string(s.Phase)), slog.String("granted_to", s.GrantedTo))
	}
	o.OnLinkState = func(child string, phase peer.Phase) {
		log.Info("link changed", slog.String("child", child), slog.String("phase", string(phase)))
	}
	o.OnFrame = func(child string, f domain.FramePayload) {
		log.Debug("frame", slog.String("child", child), slog.Int("width", f.Width), slog.Int("height", f.Height))
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return o.Run(ctx) })
	if *share {
		g.Go(func() error {
			if err := o.StartScreenShare(ctx); err != nil {
				log.Warn("screen share incomplete", sl.Err(err))
			}
			return nil
		})
	}
	if *control {
		g.Go(func() error { return o.RequestControl(ctx) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("mentor stopped", sl.Err(err))
		os.Exit(1)
	}
}
