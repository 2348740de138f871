package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/bamsammich/logsync/internal/addon"
	"github.com/bamsammich/logsync/internal/metrics"
	"github.com/bamsammich/logsync/internal/retry"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"golang.org/x/time/rate"
)

// ErrUploadRejected is wrapped by UploadError when the server answered with a
// non-2xx status.
var ErrUploadRejected = errors.New("upload rejected by server")

// UploadError reports a failed upload. The task is not requeued.
type UploadError struct {
	Path       string
	StatusCode int // 0 when no response was received
	Body       string
	Err        error
}

func (e *UploadError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upload %s: server responded %d: %s", e.Path, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("upload %s: %v", e.Path, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// SenderConfig controls uploads.
type SenderConfig struct {
	URL     string
	Key     string
	ToolKey string
	Naming  NamingOptions

	FS       afero.Fs
	Client   *http.Client
	Timeout  time.Duration  // per request; 0 means no timeout
	Limiter  *rate.Limiter  // nil means unlimited
	Location *time.Location // for date strings; nil means Local

	// Retries is the number of extra attempts after a network error or 5xx
	// response. Zero sends each file once.
	Retries   int
	RetryWait time.Duration

	Clock  clockwork.Clock
	Logger *slog.Logger
}

// Receipt is the server's confirmation of a stored upload.
type Receipt struct {
	Name      string     `json:"-"`
	Message   string     `json:"message"`
	AddonData addon.Data `json:"addonData"`
}

// Sender posts files to the ingestion server as multipart uploads.
type Sender struct {
	cfg    SenderConfig
	client *http.Client
	clock  clockwork.Clock
	logger *slog.Logger
}

// NewSender creates a sender, filling defaults for unset fields.
func NewSender(cfg SenderConfig) *Sender {
	if cfg.FS == nil {
		cfg.FS = afero.NewOsFs()
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = time.Second
	}
	s := &Sender{cfg: cfg, client: cfg.Client, clock: cfg.Clock, logger: cfg.Logger}
	if s.client == nil {
		s.client = &http.Client{}
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Send reads the task's file and uploads it. Failures come back as
// *UploadError.
func (s *Sender) Send(ctx context.Context, task UploadTask) (Receipt, error) {
	start := s.clock.Now()
	rec := task.Record

	content, err := afero.ReadFile(s.cfg.FS, rec.Path)
	if err != nil {
		metrics.RecordUpload(0, false, s.clock.Since(start))
		return Receipt{}, &UploadError{Path: rec.Path, Err: fmt.Errorf("read: %w", err)}
	}

	now := s.clock.Now().In(s.cfg.Location)
	name := UploadName(rec, s.cfg.Naming, now)
	meta := addon.Data{
		OriginalFilename: rec.Name,
		OriginalFilepath: rec.Path,
		OriginalFileext:  filepath.Ext(rec.Name),
		Tool:             s.cfg.ToolKey,
		Timestamp:        now.UnixMilli(),
		DateTime:         now.Format(addon.DateLayout),
		Key:              s.cfg.Key,
	}

	body, contentType, err := s.buildBody(name, content, meta)
	if err != nil {
		return Receipt{}, &UploadError{Path: rec.Path, Err: err}
	}

	rcfg := retry.Config{
		MaxAttempts: s.cfg.Retries + 1,
		InitialWait: s.cfg.RetryWait,
		MaxWait:     30 * s.cfg.RetryWait,
		Multiplier:  2,
		Jitter:      0.1,
		Clock:       s.clock,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			s.logger.Warn("upload failed, retrying", "path", rec.Path, "attempt", attempt, "wait", wait, "error", err)
		},
	}
	receipt, err := retry.DoWithResult(ctx, rcfg, func(ctx context.Context) (Receipt, error) {
		return s.post(ctx, rec.Path, body, contentType)
	})
	metrics.RecordUpload(int64(len(content)), err == nil, s.clock.Since(start))
	if err != nil {
		var ue *UploadError
		if !errors.As(err, &ue) {
			err = &UploadError{Path: rec.Path, Err: err}
		}
		return Receipt{}, err
	}

	receipt.Name = name
	return receipt, nil
}

func (s *Sender) buildBody(name string, content []byte, meta addon.Data) ([]byte, string, error) {
	metaJSON, err := meta.Encode()
	if err != nil {
		return nil, "", err
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		return nil, "", fmt.Errorf("create file part: %w", err)
	}
	if _, err := fw.Write(content); err != nil {
		return nil, "", fmt.Errorf("write file part: %w", err)
	}

	fields := [][2]string{
		{"addonData", metaJSON},
		{"tool_key", s.cfg.ToolKey},
		{"rename_with_date", strconv.FormatBool(s.cfg.Naming.RenameWithDate)},
		{"all_txt_ext", strconv.FormatBool(s.cfg.Naming.AllTxtExt)},
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", f[0], err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart body: %w", err)
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}

// post performs one attempt. Network errors and 5xx responses are marked
// retryable.
func (s *Sender) post(ctx context.Context, path string, body []byte, contentType string) (Receipt, error) {
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	var r io.Reader = bytes.NewReader(body)
	if s.cfg.Limiter != nil {
		r = newRateLimitedReader(ctx, r, s.cfg.Limiter)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, r)
	if err != nil {
		return Receipt{}, &UploadError{Path: path, Err: err}
	}
	req.ContentLength = int64(len(body))
	req.Header.Set("Content-Type", contentType)

	resp, err := s.client.Do(req)
	if err != nil {
		ue := &UploadError{Path: path, Err: err}
		if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Receipt{}, ue
		}
		return Receipt{}, retry.Retryable(ue)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		ue := &UploadError{
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       string(bytes.TrimSpace(respBody)),
			Err:        ErrUploadRejected,
		}
		if resp.StatusCode >= 500 {
			return Receipt{}, retry.Retryable(ue)
		}
		return Receipt{}, ue
	}

	var receipt Receipt
	if err := json.Unmarshal(respBody, &receipt); err != nil {
		s.logger.Debug("upload response is not JSON", "path", path, "error", err)
	}
	return receipt, nil
}
