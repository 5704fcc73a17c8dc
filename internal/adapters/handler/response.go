// Package handler implements HTTP request handlers
// Following Hexagonal Architecture: Adapters translate HTTP to domain logic
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"rulekeeper/internal/core/domain"
	"rulekeeper/internal/core/ports"
)

// Envelope is the JSON structure returned to every API client:
// {"error": <int>, "message": <string>, "data"?: <any>}.
// Error code 0 means success.
type Envelope struct {
	Error   int    `json:"error"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// IsValid reports whether the envelope can be sent as-is. A valid
// envelope carries at least one of data/message.
func (e *Envelope) IsValid() bool {
	return e != nil && (e.Data != nil || e.Message != "")
}

// Success wraps a payload in a zero-error envelope
func Success(data any) *Envelope {
	return &Envelope{Error: 0, Data: data}
}

// ErrorEnvelope builds an envelope for an internal error code
func ErrorEnvelope(code int) *Envelope {
	return &Envelope{Error: code, Message: domain.Describe(code)}
}

// Sender writes response envelopes and records request outcomes. All
// of its configuration is injected; there is no process-wide state.
type Sender struct {
	logger *slog.Logger
	audit  ports.AuditRepository // optional, may be nil
	pretty bool
	prefix string // version prefix stripped from logged paths, e.g. "/v1"
}

// NewSender creates a response sender.
// pretty selects 3-space-indented output with a trailing newline.
func NewSender(logger *slog.Logger, audit ports.AuditRepository, apiVersion string, pretty bool) *Sender {
	prefix := ""
	if apiVersion != "" {
		prefix = "/" + strings.Trim(apiVersion, "/")
	}
	return &Sender{
		logger: logger,
		audit:  audit,
		pretty: pretty,
		prefix: prefix,
	}
}

// Send validates the envelope, decides the final status, logs the
// request outcome and writes the response.
//
// Replacement rules:
//   - nil/invalid envelope, or status outside [100,600) => internal
//     error envelope (code 3), status 500
//   - error codes 1-9 are internal failures => status forced to 500
//
// The body is written at most once: if an earlier write already put
// headers on the wire, only the log entries are emitted.
func (s *Sender) Send(w http.ResponseWriter, r *http.Request, payload *Envelope, status int) {
	if status == 0 {
		status = http.StatusOK
	}

	if !payload.IsValid() || status < 100 || status >= 600 {
		payload = ErrorEnvelope(domain.ErrCodeInternal)
		status = http.StatusInternalServerError
	}

	if payload.Error >= 1 && payload.Error <= 9 {
		status = http.StatusInternalServerError
	}

	body, err := s.serialize(payload)
	if err != nil {
		// The replacement envelope holds only scalars and cannot fail
		payload = ErrorEnvelope(8)
		status = http.StatusInternalServerError
		body, _ = s.serialize(payload)
	}

	s.logRequest(r, status, payload.Error)

	if status != http.StatusOK {
		s.logger.Debug("Response body",
			"status", status,
			"body", string(body),
		)
	}

	if headersSent(w) {
		s.logger.Warn("Response already written, skipping body",
			"path", r.URL.Path,
			"status", status,
		)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		s.logger.Error("Failed to write response body",
			"error", err,
			"path", r.URL.Path,
		)
	}
}

// BadRequest sends a 400 envelope for an internal error code, with
// optional extra detail appended to the looked-up description.
func (s *Sender) BadRequest(w http.ResponseWriter, r *http.Request, code int, extra string) {
	message := domain.Describe(code)
	if extra != "" {
		message = message + ". " + extra
	}
	s.Send(w, r, &Envelope{Error: code, Message: message}, http.StatusBadRequest)
}

// SendError maps a service error onto an envelope and status. Coded
// errors keep their code; the HTTP status follows the code family.
// Anything uncoded collapses to the generic internal error.
func (s *Sender) SendError(w http.ResponseWriter, r *http.Request, err error) {
	var coded *domain.CodedError
	if !errors.As(err, &coded) {
		s.logger.Error("Unhandled service error", "error", err, "path", r.URL.Path)
		s.Send(w, r, ErrorEnvelope(domain.ErrCodeInternal), http.StatusInternalServerError)
		return
	}

	status := http.StatusInternalServerError
	switch {
	case coded.Code == domain.ErrCodeFileNotFound:
		status = http.StatusNotFound
	case coded.Code >= 600 && coded.Code < 700:
		status = http.StatusBadRequest
	case coded.Code == domain.ErrCodeInvalidStatus,
		coded.Code == domain.ErrCodeInvalidLevel,
		coded.Code == domain.ErrCodeInvalidField:
		status = http.StatusBadRequest
	}

	s.Send(w, r, &Envelope{Error: coded.Code, Message: coded.Error()}, status)
}

// LogSuccess emits the standard request log entry without writing a
// body. Used when the response bytes were streamed directly.
func (s *Sender) LogSuccess(r *http.Request) {
	s.logRequest(r, http.StatusOK, 0)
}

// serialize encodes the envelope, pretty (3-space indent, trailing
// newline) or compact per the injected flag
func (s *Sender) serialize(payload *Envelope) ([]byte, error) {
	if s.pretty {
		body, err := json.MarshalIndent(payload, "", "   ")
		if err != nil {
			return nil, err
		}
		return append(body, '\n'), nil
	}
	return json.Marshal(payload)
}

// logRequest emits the one-line request outcome and queues the audit
// record. The audit insert must never block or fail the response, so
// it runs in a recovered goroutine (fire and forget).
func (s *Sender) logRequest(r *http.Request, status, errorCode int) {
	path := s.strippedPath(r)

	s.logger.Info("Request handled",
		"client", r.RemoteAddr,
		"method", r.Method,
		"path", path,
		"status", status,
		"error", errorCode,
	)

	if s.audit == nil {
		return
	}

	rec := &domain.RequestRecord{
		ID:        uuid.NewString(),
		Client:    r.RemoteAddr,
		Method:    r.Method,
		Path:      path,
		Status:    status,
		ErrorCode: errorCode,
		CreatedAt: time.Now(),
	}

	go func() {
		defer func() {
			if p := recover(); p != nil {
				s.logger.Error("PANIC in audit save", "panic", p)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.audit.SaveRequest(ctx, rec); err != nil {
			s.logger.Error("Failed to save audit record (async)", "error", err)
		}
	}()
}

// strippedPath removes the API version prefix from the request path
// for logging and auditing
func (s *Sender) strippedPath(r *http.Request) string {
	path := r.URL.Path
	if s.prefix != "" && strings.HasPrefix(path, s.prefix) {
		trimmed := strings.TrimPrefix(path, s.prefix)
		if trimmed == "" {
			trimmed = "/"
		}
		path = trimmed
	}
	return path
}

// headersSent reports whether a handler upstream already wrote the
// response headers. Requires the writer-wrapping middleware.
func headersSent(w http.ResponseWriter) bool {
	if ww, ok := w.(middleware.WrapResponseWriter); ok {
		return ww.BytesWritten() > 0 || ww.Status() != 0
	}
	return false
}
