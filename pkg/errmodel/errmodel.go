// Package errmodel defines the compact, categorised error used at every
// boundary of the query pipeline (tool registry, executor, renderer, HTTP).
package errmodel

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.opentelemetry.io/otel/trace"
)

// Categories group codes by where a failure came from.
const (
	CategoryValidation = "validation"
	CategoryTool       = "tool"
	CategoryNetwork    = "network"
	CategorySystem     = "system"
)

// Stable error codes surfaced to callers.
const (
	CodeUnknownTool      = "unknown_tool"
	CodeDuplicateTool    = "duplicate_tool"
	CodeInvalidToolSpec  = "invalid_tool_spec"
	CodeInvalidIntent    = "invalid_intent"
	CodeInvalidParameter = "invalid_parameter"
	CodeStoreUnavailable = "store_unavailable"
	CodeFormatMismatch   = "format_mismatch"
	CodeNotFound         = "not_found"
	CodeInternal         = "internal"
)

const (
	maxMessage = 512
	maxValue   = 256
)

// Error is the one error shape seen by callers of the executor, the
// renderer and the HTTP and MCP surfaces.
type Error struct {
	Category string         `json:"category"`
	Code     string         `json:"code"`
	Message  string         `json:"message"`
	Context  map[string]any `json:"context,omitempty"`
	Causes   []Error        `json:"causes,omitempty"`
}

func (e *Error) Error() string {
	switch {
	case e == nil:
		return ""
	case e.Code == "":
		return e.Message
	}
	return e.Code + ": " + e.Message
}

// New builds an Error. Long messages and context values are clipped; each
// non-nil cause is flattened into Causes.
func New(category, code, message string, ctx map[string]any, causes ...error) *Error {
	e := &Error{Category: category, Code: code, Message: clip(message, maxMessage)}
	if len(ctx) > 0 {
		e.Context = clipContext(ctx)
	}
	for _, c := range causes {
		if c != nil {
			e.Causes = append(e.Causes, *From(c))
		}
	}
	return e
}

// From returns the *Error inside err, or wraps err as system/internal.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Category: CategorySystem, Code: CodeInternal, Message: clip(err.Error(), maxMessage)}
}

func Validation(code, message string, ctx map[string]any) *Error {
	return New(CategoryValidation, code, message, ctx)
}

func System(code, message string, ctx map[string]any, cause error) *Error {
	return New(CategorySystem, code, message, ctx, cause)
}

// UnknownTool reports an intent or lookup naming a tool that is not registered.
func UnknownTool(name string) *Error {
	return New(CategoryTool, CodeUnknownTool, "tool is not registered", map[string]any{"tool": name})
}

func DuplicateTool(name string) *Error {
	return Validation(CodeDuplicateTool, "tool already registered", map[string]any{"tool": name})
}

// InvalidIntent rejects a turn before execution.
func InvalidIntent(message string, ctx map[string]any) *Error {
	return Validation(CodeInvalidIntent, message, ctx)
}

func InvalidParameter(tool, param, message string) *Error {
	return Validation(CodeInvalidParameter, message, map[string]any{"tool": tool, "parameter": param})
}

// StoreUnavailable wraps a repository failure.
func StoreUnavailable(tool string, cause error) *Error {
	return New(CategoryNetwork, CodeStoreUnavailable, "vulnerability store call failed", map[string]any{"tool": tool}, cause)
}

func FormatMismatch(format, shape string) *Error {
	return Validation(CodeFormatMismatch, "format does not apply to this result", map[string]any{"format": format, "shape": shape})
}

var codeStatus = map[string]int{
	CodeNotFound:         http.StatusNotFound,
	CodeDuplicateTool:    http.StatusConflict,
	CodeFormatMismatch:   http.StatusUnprocessableEntity,
	CodeUnknownTool:      http.StatusBadRequest,
	CodeStoreUnavailable: http.StatusServiceUnavailable,
}

var categoryStatus = map[string]int{
	CategoryValidation: http.StatusBadRequest,
	CategoryTool:       http.StatusBadGateway,
	CategoryNetwork:    http.StatusBadGateway,
}

// HTTPStatus picks the response status for e: a code-specific status when
// one exists, then the category's, then 500.
func HTTPStatus(e *Error) int {
	if e == nil {
		return http.StatusInternalServerError
	}
	if s, ok := codeStatus[e.Code]; ok {
		return s
	}
	if s, ok := categoryStatus[e.Category]; ok {
		return s
	}
	return http.StatusInternalServerError
}

type envelope struct {
	Error   *Error `json:"error"`
	TraceID string `json:"trace_id"`
}

// WriteHTTP answers r with err as a JSON envelope, tagged with the trace id
// of the request span when there is one.
func WriteHTTP(w http.ResponseWriter, r *http.Request, err error) {
	e := From(err)
	if e == nil {
		e = System(CodeInternal, "unknown error", nil, nil)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(HTTPStatus(e))
	_ = json.NewEncoder(w).Encode(envelope{Error: e, TraceID: TraceID(r)})
}

// TraceID returns the trace id carried by the request context, or "".
func TraceID(r *http.Request) string {
	if r == nil {
		return ""
	}
	if sc := trace.SpanContextFromContext(r.Context()); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// HasCode reports whether err carries the given stable code.
func HasCode(err error, code string) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

// clip shortens s to at most n runes, marking the cut with "...".
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}

func clipContext(ctx map[string]any) map[string]any {
	out := make(map[string]any, len(ctx))
	for k, v := range ctx {
		switch t := v.(type) {
		case string:
			out[k] = clip(t, maxValue)
		case bool, int, int64, float64:
			out[k] = t
		default:
			if b, err := json.Marshal(t); err == nil {
				out[k] = clip(string(b), maxValue)
			} else {
				out[k] = t
			}
		}
	}
	return out
}
