package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"strings"

	"github.com/pranav-buggana-cal/mba-290t/internal/client"
	"github.com/pranav-buggana-cal/mba-290t/internal/config"
	"github.com/pranav-buggana-cal/mba-290t/internal/model"
)

const userAgent = "competitor-proxy/1.0"

// droppedRequestHeaders are never forwarded to the backend. Hop-by-hop
// headers are already stripped by middleware, but the Forwarder is also used
// directly and must not rely on that. Content-Length is dropped because the
// transport owns the outbound framing.
var droppedRequestHeaders = map[string]bool{
	"Host":                true,
	"Content-Length":      true,
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

// droppedResponseHeaders are stripped from backend responses. The proxy's
// own CORS middleware decides the Access-Control headers; a second set from
// the backend would conflict. Everything else (Content-Type,
// Content-Disposition, caching) passes through so downloads work unchanged.
var droppedResponseHeaders = map[string]bool{
	"Connection":        true,
	"Keep-Alive":        true,
	"Transfer-Encoding": true,
	"Upgrade":           true,
	"Trailer":           true,
}

// Forwarder builds backend requests for each route family and sends them
// through the BackendClient.
type Forwarder struct {
	client  *client.BackendClient
	cfg     *config.Config
	logger  *slog.Logger
	baseURL *url.URL
}

// NewForwarder creates a Forwarder for the configured backend.
func NewForwarder(c *client.BackendClient, cfg *config.Config, logger *slog.Logger) (*Forwarder, error) {
	u, err := url.Parse(cfg.Backend.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse backend base_url: %w", err)
	}

	return &Forwarder{
		client:  c,
		cfg:     cfg,
		logger:  logger.With("component", "forwarder"),
		baseURL: u,
	}, nil
}

// ForwardToken exchanges credentials for a token at POST /token. The
// credentials travel as a form body, exactly as the backend's OAuth2
// password flow expects. The caller owns the response body.
func (f *Forwarder) ForwardToken(ctx context.Context, username, password string) (*model.ProxyResponse, error) {
	form := url.Values{
		"username": {username},
		"password": {password},
	}

	header := make(http.Header)
	header.Set("Content-Type", "application/x-www-form-urlencoded")
	header.Set("Accept", "application/json")
	header.Set("User-Agent", userAgent)

	f.logger.Debug("forwarding token request", "user", username != "")

	resp, err := f.client.DoStream(ctx, http.MethodPost, f.buildURL("/token", ""), header, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("forward token request: %w", err)
	}

	resp.Header = filterResponseHeaders(resp.Header)
	return resp, nil
}

// ForwardAnalysis sends an analysis query to POST /analyze-competitors. The
// query travels as a URL parameter and the bearer token is relayed untouched.
// The caller owns the response body.
func (f *Forwarder) ForwardAnalysis(ctx context.Context, query, authorization string) (*model.ProxyResponse, error) {
	rawQuery := url.Values{"query": {query}}.Encode()

	header := make(http.Header)
	header.Set("Authorization", authorization)
	header.Set("Accept", "application/json")
	header.Set("User-Agent", userAgent)

	f.logger.Debug("forwarding analysis request", "query_len", len(query))

	resp, err := f.client.DoStream(ctx, http.MethodPost, f.buildURL("/analyze-competitors", rawQuery), header, nil)
	if err != nil {
		return nil, fmt.Errorf("forward analysis request: %w", err)
	}

	resp.Header = filterResponseHeaders(resp.Header)
	return resp, nil
}

// ForwardUpload re-encodes a staged upload as a fresh multipart body and
// sends it to POST /upload-documents. The staged files are streamed from
// disk through an in-memory pipe, so the full set is never buffered. The
// caller owns the response body and must Release the staged upload itself.
func (f *Forwarder) ForwardUpload(ctx context.Context, staged *StagedUpload, fileType, authorization string) (*model.ProxyResponse, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		err := writeUploadParts(mw, staged, fileType)
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	header := make(http.Header)
	header.Set("Authorization", authorization)
	header.Set("Content-Type", mw.FormDataContentType())
	header.Set("Accept", "application/json")
	header.Set("User-Agent", userAgent)

	f.logger.Debug("forwarding upload",
		"files", len(staged.Files),
		"file_type", fileType,
	)

	resp, err := f.client.DoStream(ctx, http.MethodPost, f.buildURL("/upload-documents", ""), header, pr)
	if err != nil {
		return nil, fmt.Errorf("forward upload request: %w", err)
	}

	resp.Header = filterResponseHeaders(resp.Header)
	return resp, nil
}

// ForwardGeneric passes any other /api request through to the backend with
// the /api prefix stripped. The raw query string is preserved byte for byte;
// re-encoding could reorder parameters or change escaping, and signed URLs
// do not survive that. The caller owns the response body.
func (f *Forwarder) ForwardGeneric(req *model.ProxyRequest) (*model.ProxyResponse, error) {
	path := strings.TrimPrefix(req.Path, "/api")
	if path == "" {
		path = "/"
	}

	header := filterRequestHeaders(req.Header)

	f.logger.Debug("forwarding request",
		"method", req.Method,
		"path", path,
	)

	resp, err := f.client.DoStream(req.Ctx, req.Method, f.buildURL(path, req.RawQuery), header, req.Body)
	if err != nil {
		return nil, fmt.Errorf("forward to backend: %w", err)
	}

	resp.Header = filterResponseHeaders(resp.Header)
	return resp, nil
}

// buildURL joins a backend-relative path onto the base URL without touching
// the raw query.
func (f *Forwarder) buildURL(path, rawQuery string) string {
	u := *f.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	u.RawQuery = rawQuery
	return u.String()
}

func filterRequestHeaders(src http.Header) http.Header {
	dst := make(http.Header)
	for key, vals := range src {
		if droppedRequestHeaders[http.CanonicalHeaderKey(key)] {
			continue
		}
		dst[http.CanonicalHeaderKey(key)] = vals
	}
	dst.Set("User-Agent", userAgent)
	return dst
}

func filterResponseHeaders(src http.Header) http.Header {
	dst := make(http.Header)
	for key, vals := range src {
		canonical := http.CanonicalHeaderKey(key)
		if droppedResponseHeaders[canonical] || strings.HasPrefix(canonical, "Access-Control-") {
			continue
		}
		dst[key] = vals
	}
	return dst
}

// writeUploadParts encodes the file_type field and every staged file into
// the multipart writer, streaming file contents from disk.
func writeUploadParts(mw *multipart.Writer, staged *StagedUpload, fileType string) error {
	if err := mw.WriteField("file_type", fileType); err != nil {
		return fmt.Errorf("write file_type field: %w", err)
	}

	for _, file := range staged.Files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename="%s"`, escapeQuotes(file.Name)))
		h.Set("Content-Type", file.ContentType)

		part, err := mw.CreatePart(h)
		if err != nil {
			return fmt.Errorf("create part %s: %w", file.Name, err)
		}

		src, err := os.Open(file.Path)
		if err != nil {
			return fmt.Errorf("open staged file %s: %w", file.Name, err)
		}
		_, err = io.Copy(part, src)
		if closeErr := src.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			return fmt.Errorf("stream staged file %s: %w", file.Name, err)
		}
	}

	return nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
