package peer

import (
	"fmt"
	"log/slog"

	"github.com/immxrtalbeast/mentorlink/internal/config"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
)

// Options configures every PeerConnection a Manager creates.
type Options struct {
	ICEServers []webrtc.ICEServer
	// IncludeLoopback adds 127.0.0.1 host candidates; needed when both
	// peers run on one machine.
	IncludeLoopback bool
	LogLevel        string
}

func OptionsFromConfig(cfg config.WebRTCConfig) Options {
	return Options{
		ICEServers:      cfg.ICEServers(),
		IncludeLoopback: cfg.IncludeLoopback,
		LogLevel:        cfg.LogLevel,
	}
}

func newAPI(opts Options, log *slog.Logger) (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	s := webrtc.SettingEngine{
		LoggerFactory: NewPionLogger(log, opts.LogLevel),
	}
	s.SetIncludeLoopbackCandidate(opts.IncludeLoopback)

	return webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(i), webrtc.WithSettingEngine(s)), nil
}

func (o Options) configuration() webrtc.Configuration {
	return webrtc.Configuration{ICEServers: o.ICEServers}
}
