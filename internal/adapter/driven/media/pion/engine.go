package pion

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Wyydra/loopync/internal/core/port"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

type Config struct {
	// BaseURL of the media server; channels live under {BaseURL}/channels.
	BaseURL  string
	STUNURLs []string
	HTTP     *http.Client
}

// Engine negotiates one PeerConnection per call against a WHIP-style media
// server: the SDP offer is POSTed and the answer comes back in the body.
type Engine struct {
	api  *webrtc.API
	cfg  Config
	http *http.Client
}

func NewEngine(cfg Config) (*Engine, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
	)

	hc := cfg.HTTP
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Engine{api: api, cfg: cfg, http: hc}, nil
}

func (e *Engine) NewClient() (port.MediaClient, error) {
	return newClient(e), nil
}

func (e *Engine) configuration() webrtc.Configuration {
	var servers []webrtc.ICEServer
	if len(e.cfg.STUNURLs) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: e.cfg.STUNURLs})
	}
	return webrtc.Configuration{ICEServers: servers}
}
