// Package server exposes the reconstruction pipeline over HTTP: a client
// uploads a zipped data root and receives the structured output.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zip"
	"github.com/rs/cors"

	"dicomvol/internal/logging"
	"dicomvol/pkg/config"
	"dicomvol/pkg/dicomio"
	"dicomvol/pkg/output"
	"dicomvol/pkg/reconstruction"
)

// ErrArchiveTooLarge means an upload would decompress past the extraction limit
var ErrArchiveTooLarge = errors.New("archive exceeds the extraction limit")

// Server handles job uploads and serves their results
type Server struct {
	cfg     *config.Config
	decoder dicomio.Decoder
	logger  *slog.Logger
	router  *chi.Mux

	// runs serialises pipeline runs so each owns its output exclusively
	runs sync.Mutex
}

// New builds a server from cfg. A nil decoder uses dicomio.DICOMDecoder.
func New(cfg *config.Config, decoder dicomio.Decoder, logger *slog.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		decoder: decoder,
		logger:  logging.OrDefault(logger),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Put("/jobs", s.handleUpload)
	r.Get("/jobs/{id}", s.handleResult)

	s.router = r
	return s
}

// Handler returns the router wrapped in the CORS policy
func (s *Server) Handler() http.Handler {
	origins := s.cfg.Server.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPut},
	})
	return c.Handler(s.router)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Server.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server started", "addr", s.cfg.Server.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s.logger.Info("stopping server")
		return srv.Shutdown(shutdownCtx)
	}
}

// JobResponse is returned for a finished job
type JobResponse struct {
	ID     string          `json:"id"`
	Output output.Document `json:"output"`
}

type errorResponse struct {
	Error string `json:"error"`
	Stage string `json:"stage,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	id := uuid.New().String()
	jobDir := filepath.Join(s.cfg.Server.DataRoot, id)
	outDir := filepath.Join(s.cfg.Server.OutputRoot, id)
	logger := s.logger.With("job", id, "request_id", middleware.GetReqID(r.Context()))

	limit := s.cfg.Server.MaxUploadMB << 20
	body := http.MaxBytesReader(w, r.Body, limit)
	n, err := Extract(body, jobDir, s.cfg.Server.MaxExtractMB<<20)
	if err != nil {
		os.RemoveAll(jobDir)
		logger.Warn("rejected upload", "error", err)
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || errors.Is(err, ErrArchiveTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		writeJSON(w, status, errorResponse{Error: err.Error()})
		return
	}
	logger.Info("upload extracted", "dir", jobDir, "size", humanize.Bytes(uint64(n)))

	params := reconstruction.ParamsFromConfig(s.cfg, jobDir, outDir)
	params.Decoder = s.decoder

	s.runs.Lock()
	res, err := reconstruction.NewReconstructor(params, logger).Process()
	s.runs.Unlock()
	if err != nil {
		writeJSON(w, statusFor(err), stageResponse(err))
		return
	}
	writeJSON(w, http.StatusOK, JobResponse{ID: id, Output: res.Document})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, reconstruction.ErrEmptyInput), errors.Is(err, reconstruction.ErrMalformedSpacing):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func stageResponse(err error) errorResponse {
	resp := errorResponse{Error: err.Error()}
	var stageErr *reconstruction.StageError
	if errors.As(err, &stageErr) {
		resp.Stage = stageErr.Stage
	}
	return resp
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid job id"})
		return
	}
	path := filepath.Join(s.cfg.Server.OutputRoot, id.String(), s.cfg.Output.FileName)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "job not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

// Extract stores a zip archive read from r below dir. A descr.json at the
// archive root stays at the root; every other file is placed directly in
// input/ under its base name. Entries escaping dir, two entries landing on
// the same file, and archives decompressing past maxExtracted bytes are
// rejected. It returns the number of archive bytes received.
func Extract(r io.Reader, dir string, maxExtracted int64) (int64, error) {
	if err := os.MkdirAll(filepath.Join(dir, reconstruction.InputSubdir), 0755); err != nil {
		return 0, err
	}

	tmp, err := os.CreateTemp("", "dicomvol-upload-*.zip")
	if err != nil {
		return 0, err
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	n, err := io.Copy(tmp, r)
	if err != nil {
		return n, fmt.Errorf("receive archive: %w", err)
	}
	zr, err := zip.NewReader(tmp, n)
	if err != nil {
		return n, fmt.Errorf("open archive: %w", err)
	}

	// Declared sizes are checked up front; extractFile enforces the real ones
	var declared uint64
	targets := make(map[string]string, len(zr.File))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rel, err := entryPath(f.Name)
		if err != nil {
			return n, err
		}
		if prev, ok := targets[rel]; ok {
			return n, fmt.Errorf("archive entries %q and %q both extract to %s", prev, f.Name, rel)
		}
		targets[rel] = f.Name
		declared += f.UncompressedSize64
		if declared > uint64(maxExtracted) {
			return n, fmt.Errorf("declared size %s: %w", humanize.Bytes(declared), ErrArchiveTooLarge)
		}
	}

	remaining := maxExtracted
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rel, _ := entryPath(f.Name)
		written, err := extractFile(f, filepath.Join(dir, rel), remaining)
		if err != nil {
			return n, fmt.Errorf("extract %s: %w", f.Name, err)
		}
		remaining -= written
	}
	return n, nil
}

// entryPath maps an archive entry name onto a path relative to the job dir
func entryPath(name string) (string, error) {
	clean := filepath.FromSlash(strings.TrimPrefix(name, "./"))
	if !filepath.IsLocal(clean) {
		return "", fmt.Errorf("archive entry %q escapes the job directory", name)
	}
	if clean == output.DescriptionFile {
		return clean, nil
	}
	return filepath.Join(reconstruction.InputSubdir, filepath.Base(clean)), nil
}

// extractFile copies f to dest, failing once more than limit bytes come out
func extractFile(f *zip.File, dest string, limit int64) (int64, error) {
	rc, err := f.Open()
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return 0, err
	}
	written, err := io.Copy(out, io.LimitReader(rc, limit+1))
	if err == nil && written > limit {
		err = ErrArchiveTooLarge
	}
	if err != nil {
		out.Close()
		return written, err
	}
	return written, out.Close()
}
