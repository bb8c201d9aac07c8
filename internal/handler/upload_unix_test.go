//go:build unix

package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"syscall"
	"testing"

	"github.com/labstack/echo/v4"
)

// lowerFileSizeLimit drops RLIMIT_FSIZE for the duration of the test so
// staging writes fail the way a full disk does.
func lowerFileSizeLimit(t *testing.T, limit uint64) {
	t.Helper()
	var old syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_FSIZE, &old); err != nil {
		t.Fatalf("Getrlimit: %v", err)
	}
	if err := syscall.Setrlimit(syscall.RLIMIT_FSIZE, &syscall.Rlimit{Cur: limit, Max: old.Max}); err != nil {
		t.Fatalf("Setrlimit: %v", err)
	}
	t.Cleanup(func() {
		if err := syscall.Setrlimit(syscall.RLIMIT_FSIZE, &old); err != nil {
			t.Fatalf("restore rlimit: %v", err)
		}
	})
}

func TestUploadHandler_DiskWriteFailure(t *testing.T) {
	var calls atomic.Int64
	upstream := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
	}))
	defer upstream.Close()

	cfg := testConfig(t, upstream.URL)
	h := newUploadHandler(t, cfg)

	buf, ct := multipartBody(t, "competitor", []uploadFile{{"report.pdf", strings.Repeat("x", 64<<10)}})
	req := httptest.NewRequest(http.MethodPost, "/api/upload-documents", buf)
	req.Header.Set(echo.HeaderContentType, ct)
	req.Header.Set("Authorization", "Bearer tok-1")
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(req, rec)

	lowerFileSizeLimit(t, 4096)

	if err := h.Handle(c); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	// A failed staging write is the proxy's fault and must surface as a
	// server error, never as a client one.
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
	body := decodeError(t, rec.Body.Bytes())
	if body["error"] != "Upload failed" {
		t.Errorf("error = %q, want %q", body["error"], "Upload failed")
	}
	if body["message"] != "could not stage upload" {
		t.Errorf("message = %q, want staging failure hint", body["message"])
	}

	if n := calls.Load(); n != 0 {
		t.Errorf("backend calls = %d, want 0", n)
	}
	if n := stagingEntries(t, cfg); n != 0 {
		t.Errorf("staging entries = %d, want 0 after staging failure", n)
	}
}
