// Package httpx holds the request/response helpers every marketplace handler
// uses: JSON decoding and encoding, error mapping, query parameters and
// server-wide middleware.
package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/tringuyen-psa/shopify-shop-sub002/internal/apperr"
)

const maxBodyBytes = 1 << 20

func WithServerDefaults(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

func DecodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return apperr.Wrap(apperr.CodeInvalidInput, "unreadable request body", err)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return apperr.Invalid("empty request body")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return apperr.Invalid("invalid JSON payload")
	}
	return nil
}

func WriteJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func StatusOf(code apperr.Code) int {
	switch code {
	case apperr.CodeNotFound:
		return http.StatusNotFound
	case apperr.CodeConflict:
		return http.StatusConflict
	case apperr.CodeUnauthorized:
		return http.StatusUnauthorized
	case apperr.CodeForbidden:
		return http.StatusForbidden
	case apperr.CodeInvalidInput:
		return http.StatusBadRequest
	case apperr.CodeExpired:
		return http.StatusGone
	case apperr.CodeUpstream:
		return http.StatusBadGateway
	case apperr.CodeRateLimit:
		return http.StatusTooManyRequests
	case apperr.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WriteError maps err to a status and writes {"error","code"}. Internal
// errors are logged and their detail withheld from the client.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperr.CodeOf(err)
	status := StatusOf(code)
	msg := err.Error()
	var ae *apperr.Error
	if errors.As(err, &ae) {
		msg = ae.Message
	} else if code == apperr.CodeNotFound {
		msg = "not found"
	}
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err.Error())
		if code == apperr.CodeInternal {
			msg = "internal error"
		}
	}
	WriteJSON(w, status, map[string]any{"error": msg, "code": code})
}

func MethodNotAllowed(w http.ResponseWriter) {
	WriteJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
}

func IntParam(r *http.Request, key string, def, min, max int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}

func Query(r *http.Request, key string) string {
	return strings.TrimSpace(r.URL.Query().Get(key))
}

// Limit is the standard page size parameter: default 50, clamped to 1..200.
func Limit(r *http.Request) int {
	return IntParam(r, "limit", 50, 1, 200)
}

// Item writes the single-entity envelope used by all mutating endpoints.
func Item(w http.ResponseWriter, code int, item any, topic string) {
	WriteJSON(w, code, map[string]any{"item": item, "event_topic": topic})
}
