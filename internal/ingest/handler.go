// Package ingest is the server side of logsync: it accepts multipart
// uploads, names them, routes them into per-tool directories and records
// them in the ledger.
package ingest

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/bamsammich/logsync/internal/addon"
	"github.com/bamsammich/logsync/internal/metrics"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/zeebo/blake3"
)

// maxMemory is the part of a multipart body kept in memory; the rest spills
// to temporary files.
const maxMemory = 32 << 20

// Appender records stored uploads.
type Appender interface {
	Append(addon.Data) error
}

// HandlerConfig configures the upload handler.
type HandlerConfig struct {
	UploadDir      string
	Naming         NamingOptions
	Routes         Routes
	Gate           Gate
	MaxUploadBytes int64 // 0 means unlimited
	Location       *time.Location
	Ledger         Appender // nil disables the ledger
	Mover          *Mover   // nil uses three attempts one second apart

	FS     afero.Fs
	Clock  clockwork.Clock
	Logger *slog.Logger
}

// Handler serves POST /upload.
type Handler struct {
	cfg    HandlerConfig
	fs     afero.Fs
	clock  clockwork.Clock
	logger *slog.Logger
	mover  *Mover
	temps  tmpRegistry
}

// NewHandler creates an upload handler, filling defaults for unset fields.
func NewHandler(cfg HandlerConfig) *Handler {
	h := &Handler{cfg: cfg, fs: cfg.FS, clock: cfg.Clock, logger: cfg.Logger, mover: cfg.Mover}
	if h.fs == nil {
		h.fs = afero.NewOsFs()
	}
	if h.clock == nil {
		h.clock = clockwork.NewRealClock()
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.cfg.Location == nil {
		h.cfg.Location = time.Local
	}
	if h.mover == nil {
		h.mover = &Mover{Attempts: 3, Backoff: time.Second}
	}
	if h.mover.FS == nil {
		h.mover.FS = h.fs
	}
	if h.mover.Clock == nil {
		h.mover.Clock = h.clock
	}
	if h.mover.Logger == nil {
		h.mover.Logger = h.logger
	}
	return h
}

// Close removes temp files of uploads still being written.
func (h *Handler) Close() {
	h.temps.cleanup(h.fs)
}

// uploadResponse is the body of a successful upload.
type uploadResponse struct {
	Message   string     `json:"message"`
	AddonData addon.Data `json:"addonData"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.cfg.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes)
	}
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.reject(w, r, "too_large", http.StatusRequestEntityTooLarge, "File too large", err)
			return
		}
		h.reject(w, r, "malformed", http.StatusBadRequest, "Invalid multipart body", err)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	meta, err := addon.Parse(formValue(r.MultipartForm, "addonData"))
	if err != nil {
		h.reject(w, r, "malformed", http.StatusBadRequest, "Invalid JSON in addonData",
			fmt.Errorf("%w: %w", ErrMalformedMetadata, err))
		return
	}
	if !h.cfg.Gate.Allow(meta.Key) {
		h.reject(w, r, "unauthorized", http.StatusForbidden, "Unauthorized Key", ErrUnauthorized)
		return
	}

	file, hdr, err := r.FormFile("file")
	if err != nil {
		h.reject(w, r, "malformed", http.StatusBadRequest, "No file uploaded",
			fmt.Errorf("%w: %w", ErrMissingFile, err))
		return
	}
	defer file.Close()

	// A client hanging up must not leave an upload half routed.
	ctx := context.WithoutCancel(r.Context())
	if err := h.store(ctx, file, hdr, &meta); err != nil {
		h.reject(w, r, "error", http.StatusInternalServerError, "Internal Server Error", err)
		return
	}

	meta.IP = remoteIP(r)
	meta.ReqHeaders = addon.HeaderMap(r.Header)
	h.logger.Debug("upload request headers", "name", meta.NewFilename, "headers", addon.HeaderNames(meta.ReqHeaders))

	if h.cfg.Ledger != nil {
		if err := h.cfg.Ledger.Append(meta); err != nil {
			metrics.RecordLedgerError()
			h.logger.Error("ledger append failed", "name", meta.NewFilename, "error", err)
		}
	}

	metrics.RecordIngest("stored", meta.SizeBytes)
	h.logger.Info("upload stored",
		"name", meta.NewFilename,
		"tool", meta.Tool,
		"path", meta.PathServer,
		"size", meta.SizeBytes,
		"ip", meta.IP)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(uploadResponse{
		Message:   "Successfully uploaded " + meta.NewFilename,
		AddonData: meta.Redacted(),
	})
}

// store writes the upload to its landing path, then moves it to its routed
// destination. meta gets the stored name, path, size and hash.
func (h *Handler) store(ctx context.Context, src multipart.File, hdr *multipart.FileHeader, meta *addon.Data) error {
	now := h.clock.Now().In(h.cfg.Location)
	final := FinalName(hdr.Filename, h.cfg.Naming, now)
	landing := filepath.Join(h.cfg.UploadDir, final)

	n, sum, err := h.writeLanding(src, final, landing)
	if err != nil {
		return err
	}
	meta.NewFilename = final
	meta.PathServer = landing
	meta.SizeBytes = n
	meta.ContentHash = sum

	dest, routed := h.cfg.Routes.Destination(h.cfg.UploadDir, meta.Tool, meta.OriginalFilepath)
	if !routed {
		h.logger.Warn("tool identifier not usable as a directory, file left in upload root",
			"tool", meta.Tool, "path", landing)
		return nil
	}
	if err := h.fs.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("%w %s: %w", ErrDirectoryCreate, dest, err)
	}

	target := filepath.Join(dest, final)
	if err := h.mover.Move(ctx, landing, target, n > 0); err != nil {
		return err
	}
	meta.PathServer = target
	return nil
}

// writeLanding streams src into a temp file in the upload root, hashing it on
// the way, and renames the temp file to landing.
func (h *Handler) writeLanding(src io.Reader, final, landing string) (int64, string, error) {
	tmp := filepath.Join(h.cfg.UploadDir, tmpName(final))
	h.temps.register(tmp)
	defer h.temps.deregister(tmp)

	f, err := h.fs.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return 0, "", fmt.Errorf("%w: create %s: %w", ErrFilesystem, tmp, err)
	}

	hasher := blake3.New()
	n, err := io.Copy(io.MultiWriter(f, hasher), src)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = h.fs.Remove(tmp)
		return 0, "", fmt.Errorf("%w: write %s: %w", ErrFilesystem, tmp, err)
	}

	if err := h.fs.Rename(tmp, landing); err != nil {
		_ = h.fs.Remove(tmp)
		return 0, "", fmt.Errorf("%w: rename to %s: %w", ErrFilesystem, landing, err)
	}
	return n, hex.EncodeToString(hasher.Sum(nil)), nil
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request, result string, status int, msg string, err error) {
	metrics.RecordIngest(result, 0)
	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger.Log(r.Context(), level, "upload rejected", "status", status, "remote", r.RemoteAddr, "error", err)
	http.Error(w, msg, status)
}

func formValue(form *multipart.Form, key string) string {
	if form == nil || len(form.Value[key]) == 0 {
		return ""
	}
	return form.Value[key][0]
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
