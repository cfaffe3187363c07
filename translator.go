package scripthost

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"
)

// Fallback message for objects that carry no error report.
const unknownExceptionMessage = "uncaught exception: unknown (can't convert to string)"

// noFilename stands in for a missing filename in error reports.
const noFilename = "none"

// ScriptError describes an uncaught script exception.
type ScriptError struct {
	Message  string
	Filename string
	Line     uint32
	Column   uint32
	// Located is set for reports derived from an error object; string
	// exceptions carry only a message.
	Located bool
}

// Error returns the diagnostic line.
func (e *ScriptError) Error() string {
	if e.Located {
		return fmt.Sprintf("Error at %s:%d:%d %s", e.Filename, e.Line, e.Column, e.Message)
	}
	return "Error: " + e.Message
}

// Report drains the pending exception of the context and writes a
// diagnostic for it. It returns nil when nothing is pending. Thrown values
// that have no readable form fail with KindUnsupportedException unless the
// runtime stringifies primitives.
func (c *Context) Report() (*ScriptError, error) {
	ex, ok := c.runtime.engine.PendingException()
	if !ok {
		return nil, nil
	}

	var se *ScriptError
	switch ex.Kind {
	case ThrownObject:
		if ex.Report != nil {
			r := *ex.Report
			if r.Filename == "" {
				r.Filename = noFilename
			}
			if r.Line == 1 && c.global != nil {
				r.Column = c.global.scriptColumn(r.Filename, r.Column)
			}
			r.Located = true
			se = &r
		} else {
			se = &ScriptError{Message: unknownExceptionMessage, Located: true}
		}
	case ThrownString:
		se = &ScriptError{Message: ex.Text}
	default:
		if !c.runtime.opts.StringifyPrimitives {
			err := &Error{
				Kind:   KindUnsupportedException,
				Op:     "report",
				Detail: fmt.Sprintf("uncaught exception: failed to stringify primitive (%s)", ex.Type),
				Fatal:  true,
			}
			Logger().Debug("unsupported exception", zap.String("type", ex.Type))
			fmt.Fprintln(c.diag, "Error: "+err.Detail)
			return nil, err
		}
		se = &ScriptError{Message: ex.Text}
	}

	c.write(se)
	return se, nil
}

func (c *Context) write(se *ScriptError) {
	line := se.Error()
	if c.runtime.opts.Color {
		line = diagnosticStyle(c.diag).Render(line)
	}
	fmt.Fprintln(c.diag, line)

	if c.runtime.opts.Snippet && se.Located && c.global != nil {
		if src, ok := c.global.Source(se.Filename); ok {
			io.WriteString(c.diag, renderSnippet(src, int(se.Line), int(se.Column)))
		}
	}
}

func diagnosticStyle(w io.Writer) lipgloss.Style {
	return lipgloss.NewRenderer(w).NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FF6B6B"))
}

// renderSnippet prints the error line with one line of context on each side
// and a caret under the 1-based column.
func renderSnippet(src string, line, col int) string {
	lines := strings.Split(src, "\n")
	if line < 1 || line > len(lines) {
		return ""
	}
	if col < 1 {
		col = 1
	}

	start, end := line-1, line+1
	if start < 1 {
		start = 1
	}
	if end > len(lines) {
		end = len(lines)
	}
	width := len(fmt.Sprint(end))

	var b strings.Builder
	for n := start; n <= end; n++ {
		fmt.Fprintf(&b, "  %*d | %s\n", width, n, lines[n-1])
		if n == line {
			fmt.Fprintf(&b, "  %*s | %s^\n", width, "", strings.Repeat(" ", col-1))
		}
	}
	return b.String()
}
