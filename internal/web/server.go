package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"tiffpress/internal/compressor"
	"tiffpress/internal/config"
	"tiffpress/internal/service"
	"tiffpress/internal/statistics"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/gzhttp"
	"github.com/sirupsen/logrus"
)

type Server struct {
	cfg        *config.Config
	log        *logrus.Logger
	service    *service.CompressionService
	stats      *statistics.Statistics
	router     *mux.Router
	httpServer *http.Server
	wsUpgrader websocket.Upgrader
	wsClients  map[*websocket.Conn]bool
	wsMutex    sync.RWMutex

	// Number of compressions currently in flight.
	inflight int64
}

type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func NewServer(cfg *config.Config, log *logrus.Logger) *Server {
	stats := statistics.NewStatistics()
	s := &Server{
		cfg:       cfg,
		log:       log,
		service:   service.NewCompressionService(cfg, log, stats),
		stats:     stats,
		router:    mux.NewRouter(),
		wsClients: make(map[*websocket.Conn]bool),
		wsUpgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins in development
			},
		},
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(corsMiddleware)

	// API routes
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/compress", s.handleCompress).Methods("POST")
	api.Handle("/status", gzhttp.GzipHandler(http.HandlerFunc(s.handleStatus))).Methods("GET")
	api.Handle("/defaults", gzhttp.GzipHandler(http.HandlerFunc(s.handleDefaults))).Methods("GET")
	api.Handle("/stats", gzhttp.GzipHandler(http.HandlerFunc(s.handleStats))).Methods("GET")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Service info
	s.router.HandleFunc("/", s.handleIndex).Methods("GET")

	// Preflight requests are answered by the CORS middleware; the route
	// only has to exist for the middleware to run.
	s.router.PathPrefix("/").Methods("OPTIONS").HandlerFunc(func(http.ResponseWriter, *http.Request) {})
}

func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.router,
		// Large scans can take a while to upload and to search.
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.log.Infof("Starting web server on http://localhost%s", addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, APIResponse{
		Success: true,
		Message: "tiffpress compression service",
		Data: map[string]interface{}{
			"endpoints": []string{
				"POST /api/compress",
				"GET /api/status",
				"GET /api/defaults",
				"GET /api/stats",
				"WS /ws",
			},
		},
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"status":          "ok",
			"active_requests": atomic.LoadInt64(&s.inflight),
			"uptime_seconds":  int64(s.stats.GetUptime().Seconds()),
			"requests_total":  atomic.LoadInt64(&s.stats.RequestsTotal),
		},
	})
}

func (s *Server) handleDefaults(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"min_size_percentage": s.cfg.Defaults.MinSizePercentage,
			"scale_factor":        s.cfg.Defaults.ScaleFactor,
			"sharpness_factor":    s.cfg.Defaults.SharpnessFactor,
			"contrast_factor":     s.cfg.Defaults.ContrastFactor,
			"blur_radius":         s.cfg.Defaults.BlurRadius,
			"dpi":                 s.cfg.Defaults.DPI,
			"max_iterations":      s.cfg.Search.MaxIterations,
			"max_upload_mb":       s.cfg.Limits.MaxUploadMB,
		},
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"summary":  s.stats.GetSummary(),
			"counters": s.stats.Snapshot(),
		},
	})
}

func (s *Server) handleCompress(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt64(&s.inflight, 1)
	defer atomic.AddInt64(&s.inflight, -1)

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes())
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		// The multipart reader does not always wrap the limit error, so
		// match the message as well.
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) || strings.Contains(err.Error(), "request body too large") {
			s.writeError(w, fmt.Sprintf("Upload exceeds %d MB limit", s.cfg.Limits.MaxUploadMB), http.StatusRequestEntityTooLarge)
			return
		}
		s.writeError(w, "Invalid multipart form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, "File is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, "Failed to read upload", http.StatusBadRequest)
		return
	}

	params, err := parseCompressionParams(r)
	if err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.broadcastWSMessage("compress_started", map[string]interface{}{
		"file":           header.Filename,
		"target_size_kb": params.TargetSizeKB,
	})

	outcome, err := s.service.ProcessWithAttemptHook(r.Context(), service.Input{
		Name:   header.Filename,
		Raw:    raw,
		Params: params,
	}, func(a compressor.Attempt) {
		s.broadcastWSMessage("attempt", map[string]interface{}{
			"file":         header.Filename,
			"iteration":    a.Iteration,
			"scale":        a.Scale,
			"encoded_size": a.EncodedSize,
			"met_target":   a.MetTarget,
		})
	})
	if err != nil {
		s.broadcastWSMessage("compress_error", map[string]interface{}{
			"file":  header.Filename,
			"error": err.Error(),
		})
		s.writeError(w, err.Error(), statusForError(err))
		return
	}

	result := outcome.Result
	s.broadcastWSMessage("compress_completed", map[string]interface{}{
		"file":          header.Filename,
		"state":         result.State.String(),
		"iterations":    result.Iterations,
		"achieved_size": result.AchievedSize,
		"final_scale":   result.FinalScale,
	})

	w.Header().Set("Content-Type", "image/tiff")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", service.OutputName(header.Filename)))
	w.Header().Set("Content-Length", strconv.FormatInt(result.AchievedSize, 10))
	w.Header().Set("X-Compression-State", result.State.String())
	w.Header().Set("X-Compression-Achieved-Size", strconv.FormatInt(result.AchievedSize, 10))
	w.Header().Set("X-Compression-Original-Size", strconv.FormatInt(result.OriginalSize, 10))
	w.Header().Set("X-Compression-Iterations", strconv.Itoa(result.Iterations))
	w.Header().Set("X-Compression-Final-Scale", strconv.FormatFloat(result.FinalScale, 'f', -1, 64))
	w.Write(result.Bytes)
}

// parseCompressionParams pulls tuning fields out of the multipart form.
// Absent optional fields stay nil so the configured defaults apply.
func parseCompressionParams(r *http.Request) (compressor.Params, error) {
	var params compressor.Params

	target := r.FormValue("target_size_kb")
	if target == "" {
		return params, fmt.Errorf("target_size_kb is required")
	}
	kb, err := strconv.Atoi(target)
	if err != nil {
		return params, fmt.Errorf("target_size_kb must be an integer")
	}
	params.TargetSizeKB = kb

	floatFields := []struct {
		name string
		dst  **float64
	}{
		{"min_size_percentage", &params.MinSizePercentage},
		{"scale_factor", &params.ScaleFactor},
		{"sharpness_factor", &params.SharpnessFactor},
		{"contrast_factor", &params.ContrastFactor},
		{"blur_radius", &params.BlurRadius},
	}
	for _, f := range floatFields {
		raw := r.FormValue(f.name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return params, fmt.Errorf("%s must be a number", f.name)
		}
		*f.dst = &v
	}

	if raw := r.FormValue("dpi"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return params, fmt.Errorf("dpi must be an integer")
		}
		params.DPI = &v
	}

	return params, nil
}

// statusForError maps compression failures onto HTTP status codes. Caller
// mistakes are 400s, encoder trouble is on us.
func statusForError(err error) int {
	var verr *compressor.ValidationError
	var ferr *compressor.UnsupportedFormatError
	var derr *compressor.DecodeError
	switch {
	case errors.As(err, &verr), errors.As(err, &ferr), errors.As(err, &derr):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Errorf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	s.wsMutex.Lock()
	s.wsClients[conn] = true
	s.wsMutex.Unlock()

	s.log.Debug("WebSocket client connected")

	// Remove client on disconnect
	defer func() {
		s.wsMutex.Lock()
		delete(s.wsClients, conn)
		s.wsMutex.Unlock()
		s.log.Debug("WebSocket client disconnected")
	}()

	// Keep connection alive
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			break
		}
	}
}

func (s *Server) broadcastWSMessage(messageType string, data interface{}) {
	message := WSMessage{
		Type: messageType,
		Data: data,
	}

	msgBytes, err := json.Marshal(message)
	if err != nil {
		s.log.Errorf("Failed to marshal WebSocket message: %v", err)
		return
	}

	s.wsMutex.RLock()
	defer s.wsMutex.RUnlock()

	for conn := range s.wsClients {
		err := conn.WriteMessage(websocket.TextMessage, msgBytes)
		if err != nil {
			s.log.Errorf("Failed to write WebSocket message: %v", err)
			// Remove failed connection
			go func(c *websocket.Conn) {
				s.wsMutex.Lock()
				delete(s.wsClients, c)
				s.wsMutex.Unlock()
				c.Close()
			}(conn)
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(APIResponse{
		Success: false,
		Error:   message,
	})
}
