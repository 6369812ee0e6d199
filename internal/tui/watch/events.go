package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/worldclone/internal/events"
	"github.com/mattjoyce/worldclone/internal/lifecycle"
)

const maxEventLog = 200

// eventLines renders the event log, newest first, for the viewport.
func eventLines(eventLog []events.Event, theme Theme) string {
	if len(eventLog) == 0 {
		return theme.Dim.Render("Waiting for events...")
	}
	lines := make([]string, 0, len(eventLog))
	for _, e := range eventLog {
		lines = append(lines, formatEvent(e, theme))
	}
	return strings.Join(lines, "\n")
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Format("15:04:05"))

	var typeStyle lipgloss.Style
	switch e.Type {
	case lifecycle.EventLoaded:
		typeStyle = theme.StatusReady
	case lifecycle.EventStarted, lifecycle.EventProgress:
		typeStyle = theme.StatusCopying
	case lifecycle.EventDeleted:
		typeStyle = theme.StatusFailed
	case lifecycle.EventCompleted:
		typeStyle = theme.Highlight
		if strings.Contains(string(e.Data), `"ok":false`) {
			typeStyle = theme.StatusFailed
		}
	default:
		typeStyle = theme.Dim
	}

	typeName := typeStyle.Render(fmt.Sprintf("%-16s", e.Type))
	return fmt.Sprintf("%s %s %s", ts, typeName, extractEventDesc(e))
}

func extractEventDesc(e events.Event) string {
	data := make(map[string]any)
	_ = json.Unmarshal(e.Data, &data)

	var parts []string
	if id, ok := data["identity"].(string); ok {
		parts = append(parts, id)
	}
	if src, ok := data["source"].(string); ok && src != "" {
		parts = append(parts, "from "+src)
	}
	if pct, ok := data["percent"].(float64); ok {
		parts = append(parts, fmt.Sprintf("%d%%", int(pct)))
	}
	if kind, ok := data["kind"].(string); ok && kind != "" {
		parts = append(parts, kind)
	}

	if len(parts) == 0 {
		raw := string(e.Data)
		if len(raw) > 60 {
			raw = raw[:60] + "..."
		}
		return raw
	}
	return strings.Join(parts, " ")
}
