package tool

import (
	"errors"
	"reflect"

	"github.com/castleinc/cveagent/pkg/errmodel"
)

// ErrNoResult is returned by handlers when the query matched nothing.
var ErrNoResult = errors.New("no result")

// Status is the outcome of one execution.
type Status string

const (
	StatusOK       Status = "ok"
	StatusNotFound Status = "not_found"
	StatusError    Status = "error"
)

// Result is the envelope every execution produces. Data is set only for
// StatusOK and Error only for StatusError.
type Result struct {
	Status  Status          `json:"status"`
	Tool    string          `json:"tool_name"`
	Data    any             `json:"data,omitempty"`
	Error   *errmodel.Error `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`
}

func OK(tool string, data any) Result {
	return Result{Status: StatusOK, Tool: tool, Data: data}
}

func NotFound(tool, msg string) Result {
	return Result{Status: StatusNotFound, Tool: tool, Message: msg}
}

func Failed(tool string, err error) Result {
	ce := errmodel.From(err)
	return Result{Status: StatusError, Tool: tool, Error: ce, Message: ce.Message}
}

// IsEmpty reports whether a handler payload carries nothing to show: nil,
// or an empty slice or map.
func IsEmpty(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
