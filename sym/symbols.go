// Package sym defines the glyphs pulseq prints in CLI output and log lines.
// These symbols are stable across CLI, logs, and documentation.
package sym

// Queue lifecycle glyphs.
const (
	Pulse      = "꩜" // queue activity: dispatch, processing, retries
	PulseOpen  = "✿" // worker start
	PulseClose = "❀" // worker stop
	DB         = "⊔" // database/storage layer
	AM         = "≡" // configuration
)

// entry describes one glyph for `pulseq --help` and docs.
type entry struct {
	glyph       string
	label       string
	description string
}

var registry = []entry{
	{Pulse, "pulse", "Queue activity: dispatch, processing, retries"},
	{PulseOpen, "opening", "Worker startup"},
	{PulseClose, "closing", "Graceful worker shutdown"},
	{DB, "db", "Database/storage layer"},
	{AM, "am", "Configuration"},
}

// Label returns the short label for a glyph, or "" if it is unknown.
func Label(glyph string) string {
	for _, e := range registry {
		if e.glyph == glyph {
			return e.label
		}
	}
	return ""
}

// Description returns the human-readable description for a glyph.
func Description(glyph string) string {
	for _, e := range registry {
		if e.glyph == glyph {
			return e.description
		}
	}
	return ""
}

// All returns every glyph in display order.
func All() []string {
	out := make([]string, 0, len(registry))
	for _, e := range registry {
		out = append(out, e.glyph)
	}
	return out
}
