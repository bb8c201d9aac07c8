package service

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pranav-buggana-cal/mba-290t/internal/client"
	"github.com/pranav-buggana-cal/mba-290t/internal/config"
	"github.com/pranav-buggana-cal/mba-290t/internal/model"
)

func newTestForwarder(t *testing.T, backendURL string) *Forwarder {
	t.Helper()
	cfg := &config.Config{
		Backend: config.BackendConfig{
			BaseURL:         backendURL,
			IdleConnections: 10,
		},
	}
	logger := discardLogger()
	f, err := NewForwarder(client.NewBackendClient(cfg, logger, nil), cfg, logger)
	if err != nil {
		t.Fatalf("NewForwarder: %v", err)
	}
	return f
}

func TestForwarder_ForwardToken(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %q, want POST", r.Method)
		}
		if r.URL.Path != "/token" {
			t.Errorf("path = %q, want /token", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
			t.Errorf("Content-Type = %q, want form-urlencoded", ct)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		if got := r.PostForm.Get("username"); got != "alice" {
			t.Errorf("username = %q, want alice", got)
		}
		if got := r.PostForm.Get("password"); got != "s3cret&odd=chars" {
			t.Errorf("password = %q, want the exact value", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-1","token_type":"bearer"}`))
	}))
	defer upstream.Close()

	f := newTestForwarder(t, upstream.URL)

	resp, err := f.ForwardToken(context.Background(), "alice", "s3cret&odd=chars")
	if err != nil {
		t.Fatalf("ForwardToken() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "tok-1") {
		t.Errorf("body = %q, want token payload", body)
	}
}

func TestForwarder_ForwardAnalysis(t *testing.T) {
	const query = "how does acme corp price their API tier?"

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/analyze-competitors" {
			t.Errorf("path = %q, want /analyze-competitors", r.URL.Path)
		}
		if got := r.URL.Query().Get("query"); got != query {
			t.Errorf("query = %q, want %q", got, query)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("Authorization = %q, want Bearer tok-1", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"analysis":"they price per seat"}`))
	}))
	defer upstream.Close()

	f := newTestForwarder(t, upstream.URL)

	resp, err := f.ForwardAnalysis(context.Background(), query, "Bearer tok-1")
	if err != nil {
		t.Fatalf("ForwardAnalysis() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", resp.StatusCode)
	}
}

func TestForwarder_ForwardUpload(t *testing.T) {
	type received struct {
		fileType string
		names    []string
		contents []string
		auth     string
	}
	var got received

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/upload-documents" {
			t.Errorf("path = %q, want /upload-documents", r.URL.Path)
		}
		got.auth = r.Header.Get("Authorization")

		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		got.fileType = r.FormValue("file_type")
		for _, fh := range r.MultipartForm.File["files"] {
			got.names = append(got.names, fh.Filename)
			src, err := fh.Open()
			if err != nil {
				t.Errorf("open part: %v", err)
				continue
			}
			data, _ := io.ReadAll(src)
			_ = src.Close()
			got.contents = append(got.contents, string(data))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message":"2 documents processed"}`))
	}))
	defer upstream.Close()

	s := newTestStager(t, 1024)
	mr := buildMultipart(t, []testPart{
		{field: "files", name: "plan.pdf", content: "plan body"},
		{field: "files", name: "notes.txt", content: "notes body"},
	})
	staged, _, err := s.Stage(mr)
	if err != nil {
		t.Fatalf("Stage() error = %v", err)
	}
	defer staged.Release()

	f := newTestForwarder(t, upstream.URL)

	resp, err := f.ForwardUpload(context.Background(), staged, FileTypeBusiness, "Bearer tok-1")
	if err != nil {
		t.Fatalf("ForwardUpload() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", resp.StatusCode)
	}
	if got.fileType != "business" {
		t.Errorf("file_type = %q, want business", got.fileType)
	}
	if got.auth != "Bearer tok-1" {
		t.Errorf("Authorization = %q, want Bearer tok-1", got.auth)
	}
	if len(got.names) != 2 || got.names[0] != "plan.pdf" || got.names[1] != "notes.txt" {
		t.Errorf("names = %v, want [plan.pdf notes.txt]", got.names)
	}
	if len(got.contents) != 2 || got.contents[0] != "plan body" || got.contents[1] != "notes body" {
		t.Errorf("contents = %v", got.contents)
	}
}

func TestForwarder_ForwardGeneric(t *testing.T) {
	// Deliberately unordered and pre-escaped: the backend must see these
	// bytes unchanged.
	const rawQuery = "b=2&a=1&sig=a%2Fb%3D"

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/download/report-7" {
			t.Errorf("path = %q, want /download/report-7", r.URL.Path)
		}
		if r.URL.RawQuery != rawQuery {
			t.Errorf("RawQuery = %q, want %q byte for byte", r.URL.RawQuery, rawQuery)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("Authorization = %q, want relayed", got)
		}
		if got := r.Header.Get("Connection"); got != "" {
			t.Errorf("Connection = %q, want dropped", got)
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", `attachment; filename="report-7.pdf"`)
		w.Header().Set("Access-Control-Allow-Origin", "https://backend.internal")
		_, _ = w.Write([]byte("%PDF-1.4 fake"))
	}))
	defer upstream.Close()

	f := newTestForwarder(t, upstream.URL)

	header := make(http.Header)
	header.Set("Authorization", "Bearer tok-1")
	header.Set("Connection", "keep-alive")

	resp, err := f.ForwardGeneric(&model.ProxyRequest{
		Ctx:      context.Background(),
		Method:   http.MethodGet,
		Path:     "/api/download/report-7",
		RawQuery: rawQuery,
		Header:   header,
		Body:     http.NoBody,
	})
	if err != nil {
		t.Fatalf("ForwardGeneric() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Disposition"); !strings.Contains(got, "report-7.pdf") {
		t.Errorf("Content-Disposition = %q, want pass-through", got)
	}
	// The backend's own CORS headers must not leak through; the proxy's
	// middleware is the only source of those.
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Access-Control-Allow-Origin = %q, want stripped", got)
	}
}

func TestForwarder_ForwardGenericRootPath(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			t.Errorf("path = %q, want /", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"message":"Competitor Analysis API"}`))
	}))
	defer upstream.Close()

	f := newTestForwarder(t, upstream.URL)

	resp, err := f.ForwardGeneric(&model.ProxyRequest{
		Ctx:    context.Background(),
		Method: http.MethodGet,
		Path:   "/api",
		Header: make(http.Header),
		Body:   http.NoBody,
	})
	if err != nil {
		t.Fatalf("ForwardGeneric() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", resp.StatusCode)
	}
}

func TestForwarder_ForwardGenericStreamsBody(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %q, want POST", r.Method)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"note":"hello"}` {
			t.Errorf("body = %q", body)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer upstream.Close()

	f := newTestForwarder(t, upstream.URL)

	header := make(http.Header)
	header.Set("Content-Type", "application/json")

	resp, err := f.ForwardGeneric(&model.ProxyRequest{
		Ctx:    context.Background(),
		Method: http.MethodPost,
		Path:   "/api/notes",
		Header: header,
		Body:   io.NopCloser(strings.NewReader(`{"note":"hello"}`)),
	})
	if err != nil {
		t.Fatalf("ForwardGeneric() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated {
		t.Errorf("StatusCode = %d, want 201", resp.StatusCode)
	}
}

func TestFilterRequestHeaders(t *testing.T) {
	src := make(http.Header)
	src.Set("Authorization", "Bearer tok-1")
	src.Set("Content-Type", "application/json")
	src.Set("Content-Length", "42")
	src.Set("Connection", "keep-alive")
	src.Set("X-Requested-With", "XMLHttpRequest")

	dst := filterRequestHeaders(src)

	if got := dst.Get("Authorization"); got != "Bearer tok-1" {
		t.Errorf("Authorization = %q, want relayed", got)
	}
	if got := dst.Get("X-Requested-With"); got != "XMLHttpRequest" {
		t.Errorf("X-Requested-With = %q, want relayed", got)
	}
	if got := dst.Get("Content-Length"); got != "" {
		t.Errorf("Content-Length = %q, want dropped", got)
	}
	if got := dst.Get("Connection"); got != "" {
		t.Errorf("Connection = %q, want dropped", got)
	}
	if got := dst.Get("User-Agent"); got != userAgent {
		t.Errorf("User-Agent = %q, want %q", got, userAgent)
	}
}
