package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/audiolibrelab/pagedvr/internal/input"
	"github.com/audiolibrelab/pagedvr/internal/service"
	"github.com/audiolibrelab/pagedvr/internal/session"
)

// Server is the HTTP remote control for the recorder.
type Server struct {
	service service.Service
	port    string
	mux     *http.ServeMux
}

// StatusResponse represents the JSON response for status endpoint
type StatusResponse struct {
	Status    string           `json:"status"`
	Message   string           `json:"message,omitempty"`
	Session   session.Snapshot `json:"session"`
	LastError string           `json:"last_error,omitempty"`
	Config    ConfigInfo       `json:"config"`
}

// ConfigInfo contains the parts of the configuration shown to clients
type ConfigInfo struct {
	SampleRate int    `json:"sample_rate"`
	PageSize   int    `json:"page_size"`
	PageBudget int    `json:"page_budget"`
	FileName   string `json:"file_name"`
	Directory  string `json:"directory"`
}

// FilesResponse represents the JSON response for the files endpoint
type FilesResponse struct {
	Files []service.RecordingInfo `json:"files"`
	Count int                     `json:"count"`
}

// New creates a web server for svc.
func New(svc service.Service, port string) *Server {
	s := &Server{service: svc, port: port, mux: http.NewServeMux()}

	s.mux.HandleFunc("/", s.handleIndex)
	s.mux.HandleFunc("/status", s.handleStatus)
	s.mux.HandleFunc("/record", s.handleButton(input.ButtonRecord))
	s.mux.HandleFunc("/play", s.handleButton(input.ButtonPlay))
	s.mux.HandleFunc("/stop", s.handleButton(input.ButtonStop))
	s.mux.HandleFunc("/api/files", s.handleFiles)
	s.mux.HandleFunc("/api/files/download/", s.handleFileDownload)
	s.mux.HandleFunc("/api/files/info/", s.handleFileInfo)
	s.mux.Handle("/metrics", promhttp.HandlerFor(svc.Registry(), promhttp.HandlerOpts{}))

	return s
}

// Handler exposes the routes, mainly for tests.
func (s *Server) Handler() http.Handler { return s.mux }

// Serve listens until ctx is cancelled and then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	localIP := getLocalIP()
	slog.Info("Starting PageDVR Web Server",
		"port", s.port,
		"local_url", fmt.Sprintf("http://%s:%s", localIP, s.port),
		"localhost_url", fmt.Sprintf("http://localhost:%s", s.port))

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		return fmt.Errorf("web server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down web server: %w", err)
		}
		slog.Info("Web server stopped")
		return nil
	}
}

// handleIndex serves a minimal page listing the endpoints
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	io.WriteString(w, indexHTML)
}

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>PageDVR</title>
</head>
<body>
    <h1>PageDVR</h1>
    <form method="post" action="/record"><button>Record</button></form>
    <form method="post" action="/play"><button>Play</button></form>
    <form method="post" action="/stop"><button>Stop</button></form>
    <h2>API Endpoints:</h2>
    <ul>
        <li>POST /record, /play, /stop - Press a button</li>
        <li>GET /status - Get status</li>
        <li>GET /api/files - List recordings</li>
        <li>GET /metrics - Prometheus metrics</li>
    </ul>
</body>
</html>`

// handleButton presses one of the recorder buttons
func (s *Server) handleButton(b input.Buttons) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}

		var err error
		switch b {
		case input.ButtonRecord:
			err = s.service.Record()
		case input.ButtonPlay:
			err = s.service.Play()
		case input.ButtonStop:
			err = s.service.Stop()
		}
		if errors.Is(err, session.ErrBusy) {
			s.sendErrorResponse(w, http.StatusConflict, err.Error(), "button", b.String())
			return
		}
		if err != nil {
			s.sendErrorResponse(w, http.StatusInternalServerError,
				fmt.Sprintf("Failed to press %s: %v", b, err), "button", b.String())
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"message": fmt.Sprintf("%s pressed", b),
		})
	}
}

// handleStatus returns the current status and session info
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	snap := s.service.Status()
	cfg := s.service.GetConfig()
	response := StatusResponse{
		Status:    strings.ToUpper(snap.State.String()),
		Message:   generateStatusMessage(snap),
		Session:   snap,
		LastError: s.service.GetLastError(),
		Config: ConfigInfo{
			SampleRate: cfg.Audio.SampleRate,
			PageSize:   cfg.Buffer.PageSize,
			PageBudget: cfg.Session.PageBudget,
			FileName:   cfg.Session.FileName,
			Directory:  cfg.Storage.Directory,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleFiles lists recordings in the storage directory
func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	files, err := s.service.ListRecordings()
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to list recordings: %v", err), "operation", "list_files")
		return
	}
	if files == nil {
		files = []service.RecordingInfo{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(FilesResponse{Files: files, Count: len(files)})
}

// handleFileDownload streams one recording as an attachment
func (s *Server) handleFileDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	filename := strings.TrimPrefix(r.URL.Path, "/api/files/download/")
	if filename == "" {
		http.Error(w, "Filename required", http.StatusBadRequest)
		return
	}
	if strings.Contains(filename, "..") || strings.ContainsAny(filename, `/\`) {
		http.Error(w, "Invalid filename", http.StatusBadRequest)
		return
	}

	file, info, err := s.service.OpenRecording(filename)
	if err != nil {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}
	defer file.Close()

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))
	http.ServeContent(w, r, filename, info.ModTime(), file)
}

// handleFileInfo decodes the header of one recording
func (s *Server) handleFileInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	filename := strings.TrimPrefix(r.URL.Path, "/api/files/info/")
	info, err := s.service.Inspect(filename)
	if err != nil {
		s.sendErrorResponse(w, http.StatusUnprocessableEntity,
			fmt.Sprintf("Failed to inspect %s: %v", filename, err), "operation", "inspect")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(info)
}

func generateStatusMessage(snap session.Snapshot) string {
	switch snap.State {
	case session.Recording:
		return fmt.Sprintf("Recording %s - %d pages stored, %d remaining", snap.FileName, snap.PagesStored, snap.PagesRemaining)
	case session.Playing:
		return fmt.Sprintf("Playing %s - %d pages remaining", snap.FileName, snap.PagesRemaining)
	default:
		return ""
	}
}

// sendErrorResponse logs the error and sends a JSON error response to the client
func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string, logContext ...interface{}) {
	logFields := []interface{}{"error_message", errorMsg, "status_code", statusCode}
	if len(logContext) > 0 {
		logFields = append(logFields, logContext...)
	}
	slog.Error("Sending error response to client", logFields...)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   errorMsg,
	})
}

func getLocalIP() string {
	// Try to connect to a remote address to determine local IP
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "localhost"
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}
