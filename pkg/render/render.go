// Package render turns tool results into one of a fixed set of presentation
// formats. Rendering is a pure function of the result: the same result and
// format always produce the same content.
package render

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/castleinc/cveagent/pkg/cve"
	"github.com/castleinc/cveagent/pkg/errmodel"
	"github.com/castleinc/cveagent/pkg/tool"
)

// Format is a presentation format.
type Format string

const (
	Detailed Format = "detailed"
	Summary  Format = "summary"
	List     Format = "list"
	JSON     Format = "json"
	Markdown Format = "markdown"
)

// Formats is the closed set of supported formats.
var Formats = []Format{Detailed, Summary, List, JSON, Markdown}

// ParseFormat accepts a format name case-insensitively.
func ParseFormat(s string) (Format, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, f := range Formats {
		if string(f) == s {
			return f, true
		}
	}
	return "", false
}

// Output is a rendered document.
type Output struct {
	Format  Format `json:"format"`
	Content string `json:"content"`
}

// Payload shapes.
const (
	ShapeSingle = "single"
	ShapeMulti  = "multi"
	ShapeOther  = "other"
)

// ShapeOf classifies a result payload.
func ShapeOf(data any) string {
	switch data.(type) {
	case cve.Record, *cve.Record:
		return ShapeSingle
	case cve.RecordList, []cve.Record, cve.Statistics, *cve.Statistics:
		return ShapeMulti
	default:
		return ShapeOther
	}
}

// Default picks the format used when neither caller nor intent asked for one.
func Default(data any) Format {
	switch ShapeOf(data) {
	case ShapeSingle:
		return Detailed
	case ShapeMulti:
		return List
	}
	return JSON
}

//go:embed templates/*.tmpl
var templateFS embed.FS

var funcs = template.FuncMap{
	"severityBadge": severityBadge,
	"date":          date,
	"score":         func(f float64) string { return fmt.Sprintf("%.1f", f) },
	"join":          strings.Join,
	"inc":           func(i int) int { return i + 1 },
	"truncate":      truncate,
	"cell":          cell,
}

// Renderer holds the parsed templates. It is safe for concurrent use.
type Renderer struct {
	tmpl *template.Template
}

// New parses the embedded templates.
func New() (*Renderer, error) {
	t, err := template.New("render").Funcs(funcs).ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return &Renderer{tmpl: t}, nil
}

// MustNew is New for package initialisation.
func MustNew() *Renderer {
	r, err := New()
	if err != nil {
		panic(err)
	}
	return r
}

// Render produces the document for res in format f. Non-ok results render as
// a not-found or error document in every format. A format that does not fit
// the payload (list on a single record, detailed or summary on several)
// returns a format_mismatch error together with an error document, so the
// caller always has something to show.
func (r *Renderer) Render(res tool.Result, f Format) (Output, error) {
	f, ok := ParseFormat(string(f))
	if !ok {
		err := errmodel.Validation(errmodel.CodeInvalidParameter, "unknown render format", map[string]any{"format": string(f)})
		return r.Error(err, JSON), err
	}
	if res.Status != tool.StatusOK {
		return r.status(res, f)
	}

	shape := ShapeOf(res.Data)
	if f == JSON {
		b, err := json.MarshalIndent(res.Data, "", "  ")
		if err != nil {
			ce := errmodel.System(errmodel.CodeInternal, "result is not serialisable", map[string]any{"tool": res.Tool}, err)
			return r.Error(ce, f), ce
		}
		return Output{Format: f, Content: string(b)}, nil
	}

	var name string
	switch f {
	case Detailed, Summary:
		if shape != ShapeSingle {
			return r.mismatch(f, shape)
		}
		name = string(f)
	case List:
		switch shape {
		case ShapeSingle, ShapeOther:
			return r.mismatch(f, shape)
		}
		name = "list_records"
		if isStatistics(res.Data) {
			name = "list_statistics"
		}
	case Markdown:
		switch {
		case shape == ShapeSingle:
			name = "markdown_record"
		case isStatistics(res.Data):
			name = "markdown_statistics"
		case shape == ShapeMulti:
			name = "markdown_records"
		default:
			return r.mismatch(f, shape)
		}
	}
	return r.exec(name, f, deref(res.Data))
}

// Error renders err as an error document in format f. It is used for turns
// that never reached the executor.
func (r *Renderer) Error(err error, f Format) Output {
	ce := errmodel.From(err)
	if ce == nil {
		ce = errmodel.System(errmodel.CodeInternal, "unknown error", nil, nil)
	}
	out, _ := r.status(tool.Result{Status: tool.StatusError, Error: ce, Message: ce.Message}, f)
	return out
}

func (r *Renderer) status(res tool.Result, f Format) (Output, error) {
	if pf, ok := ParseFormat(string(f)); ok {
		f = pf
	} else {
		f = JSON
	}
	msg := res.Message
	code := ""
	if res.Error != nil {
		code = res.Error.Code
		if msg == "" {
			msg = res.Error.Message
		}
	}
	if msg == "" {
		msg = "no records matched"
	}
	if f == JSON {
		doc := struct {
			Status  tool.Status     `json:"status"`
			Tool    string          `json:"tool_name,omitempty"`
			Message string          `json:"message"`
			Error   *errmodel.Error `json:"error,omitempty"`
		}{res.Status, res.Tool, msg, res.Error}
		b, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return Output{Format: f, Content: fmt.Sprintf(`{"status":%q}`, res.Status)}, nil
		}
		return Output{Format: f, Content: string(b)}, nil
	}
	prefix := "text_"
	if f == Markdown {
		prefix = "markdown_"
	}
	kind := "error"
	if res.Status == tool.StatusNotFound {
		kind = "not_found"
	}
	return r.exec(prefix+kind, f, struct{ Code, Message string }{code, msg})
}

func (r *Renderer) mismatch(f Format, shape string) (Output, error) {
	err := errmodel.FormatMismatch(string(f), shape)
	return r.Error(err, f), err
}

func (r *Renderer) exec(name string, f Format, data any) (Output, error) {
	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		ce := errmodel.System(errmodel.CodeInternal, "template failed", map[string]any{"template": name}, err)
		return Output{Format: f, Content: "Error [internal]: " + ce.Message + "\n"}, ce
	}
	return Output{Format: f, Content: buf.String()}, nil
}

func isStatistics(v any) bool {
	switch v.(type) {
	case cve.Statistics, *cve.Statistics:
		return true
	}
	return false
}

func deref(v any) any {
	switch t := v.(type) {
	case *cve.Record:
		return *t
	case *cve.Statistics:
		return *t
	case []cve.Record:
		return cve.RecordList(t)
	}
	return v
}

var badges = map[string]string{
	"CRITICAL": "🔴",
	"HIGH":     "🟠",
	"MEDIUM":   "🟡",
	"LOW":      "🟢",
}

func severityBadge(v any) string {
	if b, ok := badges[strings.ToUpper(fmt.Sprint(v))]; ok {
		return b
	}
	return "⚪"
}

func date(t time.Time) string {
	if t.IsZero() {
		return "N/A"
	}
	return t.UTC().Format(time.DateOnly)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n])) + "..."
}

// cell makes s safe inside a markdown table cell.
func cell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.Join(strings.Fields(s), " ")
}
