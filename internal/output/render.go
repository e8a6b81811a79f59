package output

import (
	"encoding/json"
	"fmt"
	"io"
)

// Format selects how responses are rendered.
type Format int

const (
	FormatText Format = iota
	FormatJSON
)

// Writer renders success and error responses.
type Writer struct {
	format Format
	out    io.Writer
	errOut io.Writer
}

// Options configures a Writer.
type Options struct {
	Format Format
	Writer io.Writer
	ErrOut io.Writer
}

// New creates a Writer.
func New(opts Options) *Writer {
	return &Writer{format: opts.Format, out: opts.Writer, errOut: opts.ErrOut}
}

// OK renders a success payload. In text mode, data is printed as-is when
// it is a string, otherwise as indented JSON.
func (w *Writer) OK(data any) error {
	if w.format == FormatJSON {
		enc := json.NewEncoder(w.out)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"data": data})
	}
	if s, ok := data.(string); ok {
		_, err := fmt.Fprintln(w.out, s)
		return err
	}
	enc := json.NewEncoder(w.out)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

// Err renders an error response to the error stream.
func (w *Writer) Err(err error) error {
	e := AsError(err)
	if w.format == FormatJSON {
		enc := json.NewEncoder(w.errOut)
		enc.SetIndent("", "  ")
		payload := map[string]any{
			"error": map[string]any{
				"code":    e.Code,
				"message": e.Message,
			},
		}
		if e.Hint != "" {
			payload["error"].(map[string]any)["hint"] = e.Hint
		}
		return enc.Encode(payload)
	}
	if e.Hint != "" {
		_, werr := fmt.Fprintf(w.errOut, "Error: %s\n%s\n", e.Message, e.Hint)
		return werr
	}
	_, werr := fmt.Fprintf(w.errOut, "Error: %s\n", e.Message)
	return werr
}
