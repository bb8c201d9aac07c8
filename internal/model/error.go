package model

import "encoding/json"

// ProxyError is the normalized error body returned to callers. Every error
// that leaves the proxy, locally generated or mapped from a backend failure,
// is rendered in this shape.
type ProxyError struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Status  int    `json:"status,omitempty"`
}

// maxErrorBodyPreview bounds how much of an unparseable backend error body
// is surfaced to the caller.
const maxErrorBodyPreview = 200

// ExtractBackendMessage pulls a human-readable message out of a backend error
// body. FastAPI-style backends put it in "detail"; "message" and "error" are
// tried next. Unparseable bodies fall back to a truncated preview, and empty
// bodies to the supplied fallback.
func ExtractBackendMessage(body []byte, fallback string) string {
	if len(body) == 0 {
		return fallback
	}

	var payload struct {
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
		Error   string          `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if msg := rawToString(payload.Detail); msg != "" {
			return msg
		}
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}

	preview := string(body)
	if len(preview) > maxErrorBodyPreview {
		preview = preview[:maxErrorBodyPreview]
	}
	return preview
}

// rawToString renders a detail field that may be a plain string or a
// structured value (FastAPI validation errors are arrays of objects).
func rawToString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
