package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bamsammich/logsync/internal/addon"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedUpload struct {
	filename string
	content  string
	fields   map[string]string
	meta     addon.Data
}

func captureServer(t *testing.T, status int, got chan<- capturedUpload) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		f, hdr, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		defer f.Close()
		body, _ := io.ReadAll(f)

		c := capturedUpload{filename: hdr.Filename, content: string(body), fields: map[string]string{}}
		for k, v := range r.MultipartForm.Value {
			c.fields[k] = v[0]
		}
		c.meta, err = addon.Parse(c.fields["addonData"])
		assert.NoError(t, err)
		got <- c

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"message":   "Successfully uploaded " + hdr.Filename,
			"addonData": c.meta.Redacted(),
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSender_MultipartBody(t *testing.T) {
	got := make(chan capturedUpload, 1)
	srv := captureServer(t, http.StatusOK, got)

	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/watch/day1/run.csv", "a,b,c\n", baseTime)
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 9, 19, 5, 7, 0, time.UTC))

	s := NewSender(SenderConfig{
		URL:      srv.URL + "/upload",
		Key:      "secret",
		ToolKey:  "alpha",
		FS:       fs,
		Timeout:  5 * time.Second,
		Location: time.UTC,
		Clock:    clock,
	})

	rec := FileRecord{Name: "run.csv", Path: "/watch/day1/run.csv", Dir: "day1", Size: 6}
	receipt, err := s.Send(context.Background(), UploadTask{Root: "/watch", Record: rec})
	require.NoError(t, err)
	assert.Equal(t, "day1-run.csv", receipt.Name)
	assert.Equal(t, "Successfully uploaded day1-run.csv", receipt.Message)

	c := <-got
	assert.Equal(t, "day1-run.csv", c.filename)
	assert.Equal(t, "a,b,c\n", c.content)
	assert.Equal(t, "alpha", c.fields["tool_key"])
	assert.Equal(t, "false", c.fields["rename_with_date"])
	assert.Equal(t, "false", c.fields["all_txt_ext"])

	assert.Equal(t, addon.Data{
		OriginalFilename: "run.csv",
		OriginalFilepath: "/watch/day1/run.csv",
		OriginalFileext:  ".csv",
		Tool:             "alpha",
		Timestamp:        clock.Now().UnixMilli(),
		DateTime:         "2024-03-09_19-05-07",
		Key:              "secret",
	}, c.meta)
}

func TestSender_NonSuccessIsUploadError(t *testing.T) {
	got := make(chan capturedUpload, 4)
	srv := captureServer(t, http.StatusForbidden, got)

	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/watch/a.log", "x", baseTime)
	s := NewSender(SenderConfig{URL: srv.URL, FS: fs, Retries: 3, RetryWait: time.Millisecond})

	_, err := s.Send(context.Background(), UploadTask{Record: FileRecord{Name: "a.log", Path: "/watch/a.log"}})
	require.Error(t, err)

	var ue *UploadError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, http.StatusForbidden, ue.StatusCode)
	assert.ErrorIs(t, err, ErrUploadRejected)
	assert.Len(t, got, 1, "4xx responses are not retried")
}

func TestSender_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"message":"ok"}`))
	}))
	defer srv.Close()

	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/watch/a.log", "x", baseTime)
	s := NewSender(SenderConfig{URL: srv.URL, FS: fs, Retries: 2, RetryWait: time.Millisecond})

	receipt, err := s.Send(context.Background(), UploadTask{Record: FileRecord{Name: "a.log", Path: "/watch/a.log"}})
	require.NoError(t, err)
	assert.Equal(t, "ok", receipt.Message)
	assert.Equal(t, int32(3), calls.Load())
}

func TestSender_NoRetriesByDefault(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/watch/a.log", "x", baseTime)
	s := NewSender(SenderConfig{URL: srv.URL, FS: fs})

	_, err := s.Send(context.Background(), UploadTask{Record: FileRecord{Name: "a.log", Path: "/watch/a.log"}})
	var ue *UploadError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, http.StatusInternalServerError, ue.StatusCode)
	assert.Equal(t, "boom", ue.Body)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSender_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/watch/a.log", "x", baseTime)
	s := NewSender(SenderConfig{URL: url, FS: fs, Timeout: time.Second})

	_, err := s.Send(context.Background(), UploadTask{Record: FileRecord{Name: "a.log", Path: "/watch/a.log"}})
	var ue *UploadError
	require.ErrorAs(t, err, &ue)
	assert.Zero(t, ue.StatusCode)
}

func TestSender_MissingFile(t *testing.T) {
	s := NewSender(SenderConfig{URL: "http://127.0.0.1:1", FS: afero.NewMemMapFs()})
	_, err := s.Send(context.Background(), UploadTask{Record: FileRecord{Name: "gone.log", Path: "/watch/gone.log"}})
	var ue *UploadError
	require.ErrorAs(t, err, &ue)
	assert.Contains(t, err.Error(), "read")
}

func TestSender_BandwidthLimited(t *testing.T) {
	got := make(chan capturedUpload, 1)
	srv := captureServer(t, http.StatusOK, got)

	fs := afero.NewMemMapFs()
	payload := make([]byte, 64<<10)
	for i := range payload {
		payload[i] = byte('a' + i%26)
	}
	writeFile(t, fs, "/watch/big.txt", string(payload), baseTime)

	s := NewSender(SenderConfig{URL: srv.URL, FS: fs, Limiter: NewBWLimiter(1 << 20)})
	_, err := s.Send(context.Background(), UploadTask{Record: FileRecord{Name: "big.txt", Path: "/watch/big.txt"}})
	require.NoError(t, err)
	assert.Equal(t, string(payload), (<-got).content)
}
