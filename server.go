package main

import (
	"crypto/subtle"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-dbmeter/internal/audio"
	"github.com/oszuidwest/zwfm-dbmeter/internal/config"
	"github.com/oszuidwest/zwfm-dbmeter/internal/eventlog"
	"github.com/oszuidwest/zwfm-dbmeter/internal/meter"
	"github.com/oszuidwest/zwfm-dbmeter/internal/report"
	"github.com/oszuidwest/zwfm-dbmeter/internal/server"
	"github.com/oszuidwest/zwfm-dbmeter/internal/telemetry"
	"github.com/oszuidwest/zwfm-dbmeter/internal/types"
	"github.com/oszuidwest/zwfm-dbmeter/internal/util"
)

var indexTmpl = template.Must(template.New("index").Parse(indexHTML))
var faviconTmpl = template.Must(template.New("favicon").Parse(faviconSVG))

type indexData struct {
	Version      string
	Year         int
	StationName  string
	PrimaryCSS   template.CSS
	AuthRequired bool
}

// deviceCacheTTL bounds how often capture devices are enumerated for status pushes.
const deviceCacheTTL = 10 * time.Second

// Server is an HTTP server that provides the web interface and REST API for the meter.
type Server struct {
	config    *config.Config
	meter     *meter.Meter
	hub       *server.Hub
	commands  *server.CommandHandler
	events    *eventlog.Logger
	telemetry *telemetry.Publisher
	version   *VersionChecker
	devices   *deviceCache
	uploader  func(report.S3Config) (reportUploader, error)
}

// NewServer returns a new Server for m. events and pub may be nil.
func NewServer(cfg *config.Config, m *meter.Meter, events *eventlog.Logger, pub *telemetry.Publisher) *Server {
	hub := server.NewHub()
	m.AddSink(hub)

	return &Server{
		config:    cfg,
		meter:     m,
		hub:       hub,
		commands:  server.NewCommandHandler(cfg, m),
		events:    events,
		telemetry: pub,
		version:   NewVersionChecker(),
		devices:   &deviceCache{list: audio.ListDevices},
		uploader:  newReportUploader,
	}
}

// handleWebSocket handles bidirectional WebSocket communication for real-time updates.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := server.UpgradeConnection(w, r)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	// Create buffered send channel for thread-safe writes.
	// Only the writer goroutine writes to the connection, preventing race conditions.
	send := make(chan any, 16)
	done := make(chan struct{})
	stop := make(chan struct{})
	statusUpdate := make(chan struct{}, 1)
	client := s.hub.Subscribe()

	// Writer goroutine - sole writer to the connection
	go s.runWebSocketWriter(conn, send, stop)

	// Reader goroutine - handles incoming commands
	go s.runWebSocketReader(conn, send, done, statusUpdate)

	s.runWebSocketEventLoop(client, send, done, stop, statusUpdate)
}

// runWebSocketWriter writes messages from the send channel to the connection
// until stop is closed. The send channel itself is never closed, so late
// command results can still be queued without panicking.
func (s *Server) runWebSocketWriter(conn server.WebSocketConn, send <-chan any, stop <-chan struct{}) {
	defer func() {
		if err := conn.Close(); err != nil {
			slog.Debug("WebSocket close error", "error", err)
		}
	}()
	for {
		select {
		case msg := <-send:
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}

// runWebSocketReader reads commands from the connection and dispatches them.
func (s *Server) runWebSocketReader(conn server.WebSocketConn, send chan<- any, done, statusUpdate chan<- struct{}) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in WebSocket reader", "panic", r)
		}
		close(done)
	}()

	for {
		var cmd server.WSCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		s.commands.Handle(cmd, send, func() {
			select {
			case statusUpdate <- struct{}{}:
			default:
			}
		})
	}
}

// runWebSocketEventLoop forwards hub output and periodic status to the client.
func (s *Server) runWebSocketEventLoop(client *server.Client, send chan<- any, done <-chan struct{}, stop chan<- struct{}, statusUpdate <-chan struct{}) {
	statusTicker := time.NewTicker(types.StatusInterval)
	defer statusTicker.Stop()
	defer s.hub.Unsubscribe(client)
	defer close(stop)

	// trySend attempts to send a message, returning false if done is closed
	trySend := func(msg any) bool {
		select {
		case send <- msg:
			return true
		case <-done:
			return false
		}
	}

	// Send initial status
	if !trySend(s.buildWSStatus()) {
		return
	}

	for {
		var msg any
		select {
		case <-done:
			return
		case reading, ok := <-client.Readings():
			if !ok {
				return
			}
			msg = reading
		case series, ok := <-client.Series():
			if !ok {
				return
			}
			msg = series
		case <-statusUpdate:
			msg = s.buildWSStatus()
		case <-statusTicker.C:
			msg = s.buildWSStatus()
		}
		if !trySend(msg) {
			return
		}
	}
}

// buildWSStatus returns the current WebSocket status response.
func (s *Server) buildWSStatus() types.WSStatusResponse {
	cfg := s.config.Snapshot()

	return types.WSStatusResponse{
		Type:        types.MessageStatus,
		StationName: cfg.StationName,
		Meter:       s.meterStatus(&cfg),
		Devices:     s.devices.get(cfg.AudioBackend),
		AudioInput:  cfg.AudioInput,
		Platform:    runtime.GOOS,
		Version:     s.version.Info(),
	}
}

// meterStatus returns the meter state for status pushes and the REST API.
func (s *Server) meterStatus(cfg *config.Snapshot) types.MeterStatus {
	st := s.meter.Status()
	status := types.MeterStatus{
		State:           string(st.State),
		Recording:       string(st.Recording),
		DB:              st.Current,
		HasReading:      st.HasReading,
		Peak:            st.Peak,
		Samples:         st.Samples,
		SessionID:       st.SessionID,
		CalibrationDB:   st.CalibrationDB,
		MQTTConnected:   s.telemetry != nil && s.telemetry.Connected(),
		S3Configured:    cfg.HasS3(),
		DefaultPreparer: cfg.Preparer,
	}
	if st.LastError != nil {
		status.LastError = st.LastError.Error()
		status.LastErrorHint = server.UserError(st.LastError).Error()
	}
	return status
}

// deviceCache memoizes device enumeration per backend.
type deviceCache struct {
	list func(audio.Backend) []audio.Device

	mu      sync.Mutex
	backend audio.Backend
	at      time.Time
	devices []types.AudioDevice
}

func (c *deviceCache) get(backend audio.Backend) []types.AudioDevice {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.devices != nil && c.backend == backend && time.Since(c.at) < deviceCacheTTL {
		return c.devices
	}

	found := c.list(backend)
	devices := make([]types.AudioDevice, 0, len(found))
	for _, d := range found {
		devices = append(devices, types.AudioDevice{ID: d.ID, Name: d.Name, IsDefault: d.IsDefault})
	}
	c.backend, c.at, c.devices = backend, time.Now(), devices
	return devices
}

// SetupRoutes returns an [http.Handler] configured with all application routes.
func (s *Server) SetupRoutes() http.Handler {
	mux := http.NewServeMux()
	auth := s.apiKeyAuth

	// Public static assets
	mux.HandleFunc("/favicon.svg", s.handleFavicon)
	mux.HandleFunc("/", s.handleStatic)

	// Live updates and commands
	mux.HandleFunc("/ws", auth(s.handleWebSocket))

	// REST API
	mux.HandleFunc("/api/status", auth(s.handleAPIStatus))
	mux.HandleFunc("/api/meter/start", auth(s.handleAPIMeterStart))
	mux.HandleFunc("/api/meter/stop", auth(s.handleAPIMeterStop))
	mux.HandleFunc("/api/recording", auth(s.handleAPIRecording))
	mux.HandleFunc("/api/recording/start", auth(s.handleAPIRecordingStart))
	mux.HandleFunc("/api/recording/stop", auth(s.handleAPIRecordingStop))
	mux.HandleFunc("/api/recording/reset", auth(s.handleAPIRecordingReset))
	mux.HandleFunc("/api/report", auth(s.handleAPIReport))
	mux.HandleFunc("/api/report/upload", auth(s.handleAPIReportUpload))
	mux.HandleFunc("/api/devices", auth(s.handleAPIDevices))
	mux.HandleFunc("/api/events", auth(s.handleAPIEvents))

	return securityHeaders(mux)
}

// securityHeaders returns middleware that wraps handlers with security headers.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// handleFavicon serves the favicon with the configured station color.
func (s *Server) handleFavicon(w http.ResponseWriter, r *http.Request) {
	cfg := s.config.Snapshot()
	w.Header().Set("Content-Type", "image/svg+xml")
	if err := faviconTmpl.Execute(w, struct{ Color string }{Color: cfg.StationColorLight}); err != nil {
		slog.Error("failed to render favicon", "error", err)
	}
}

// serveStaticFile serves a static file by path and reports whether it was found.
func serveStaticFile(w http.ResponseWriter, path string) bool {
	file, ok := staticFiles[path]
	if !ok {
		return false
	}
	w.Header().Set("Content-Type", file.contentType)
	if _, err := w.Write([]byte(file.content)); err != nil {
		slog.Error("failed to write static file", "file", file.name, "error", err)
	}
	return true
}

// staticFile is an embedded static file with content type and data.
type staticFile struct {
	contentType string
	content     string
	name        string
}

// staticFiles is a map from URL paths to static file definitions.
var staticFiles = map[string]staticFile{
	"/style.css": {
		contentType: "text/css",
		content:     styleCSS,
		name:        "style.css",
	},
	"/app.js": {
		contentType: "application/javascript",
		content:     appJS,
		name:        "app.js",
	},
	// favicon.svg is served dynamically via handleFavicon
}

// handleStatic handles requests for embedded static web interface files.
func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	if path == "/" {
		path = "/index.html"
	}

	// Serve index.html with dynamic placeholders.
	if path == "/index.html" {
		cfg := s.config.Snapshot()
		w.Header().Set("Content-Type", "text/html")
		if err := indexTmpl.Execute(w, indexData{
			Version:      Version,
			Year:         time.Now().Year(),
			StationName:  cfg.StationName,
			PrimaryCSS:   template.CSS(util.GenerateBrandCSS(cfg.StationColorLight, cfg.StationColorDark)),
			AuthRequired: cfg.APIKey != "",
		}); err != nil {
			slog.Error("failed to write index.html", "error", err)
		}
		return
	}

	if serveStaticFile(w, path) {
		return
	}

	http.NotFound(w, r)
}

// apiKeyAuth returns middleware for API key authentication. Requests pass
// unchecked while no key is configured. Browsers cannot set headers on
// WebSocket upgrades, so the key is also accepted as the "key" query parameter.
func (s *Server) apiKeyAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apiKey := s.config.Snapshot().APIKey
		if apiKey == "" {
			next(w, r)
			return
		}

		providedKey := r.Header.Get("X-API-Key")
		if providedKey == "" {
			providedKey = r.URL.Query().Get("key")
		}
		if subtle.ConstantTimeCompare([]byte(providedKey), []byte(apiKey)) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// Start begins the HTTP server.
// Returns an *http.Server that can be used for graceful shutdown.
func (s *Server) Start() *http.Server {
	addr := fmt.Sprintf(":%d", s.config.Snapshot().WebPort)
	slog.Info("starting web server", "addr", addr)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.SetupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	return srv
}
