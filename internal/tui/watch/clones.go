package watch

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/mattjoyce/worldclone/internal/events"
	"github.com/mattjoyce/worldclone/internal/lifecycle"
)

// CloneState tracks one clone as seen through the event stream.
type CloneState struct {
	Identity string
	Owner    string
	Source   string
	State    string
	Percent  int
	Tiles    int
	Copied   int
	Skipped  int
	Bytes    int64
	Failure  string
	Started  time.Time
	Updated  time.Time
}

const stateFailed = "failed"

type payload struct {
	Identity string `json:"identity"`
	Owner    string `json:"owner"`
	Source   string `json:"source"`
	Percent  int    `json:"percent"`
	Tiles    int    `json:"tiles"`
	OK       bool   `json:"ok"`
	Kind     string `json:"kind"`
	Copied   int    `json:"copied"`
	Skipped  int    `json:"skipped"`
	Bytes    int64  `json:"bytes"`
}

// updateCloneState folds one event into clones.
func updateCloneState(clones map[string]*CloneState, e events.Event) {
	var p payload
	if err := json.Unmarshal(e.Data, &p); err != nil || p.Identity == "" {
		return
	}

	c, ok := clones[p.Identity]
	if !ok {
		c = &CloneState{Identity: p.Identity}
		clones[p.Identity] = c
	}
	if p.Owner != "" {
		c.Owner = p.Owner
	}
	c.Updated = e.At

	switch e.Type {
	case lifecycle.EventStarted:
		c.State = string(lifecycle.StateCopying)
		c.Source = p.Source
		c.Tiles = p.Tiles
		c.Percent = 0
		c.Failure = ""
		c.Started = e.At
	case lifecycle.EventProgress:
		c.State = string(lifecycle.StateCopying)
		// Progress never goes backwards within one copy.
		if p.Percent > c.Percent {
			c.Percent = p.Percent
		}
	case lifecycle.EventCompleted:
		c.Copied, c.Skipped, c.Bytes = p.Copied, p.Skipped, p.Bytes
		if !p.OK {
			c.State = stateFailed
			c.Failure = p.Kind
		}
	case lifecycle.EventLoaded:
		c.State = string(lifecycle.StateReady)
		c.Percent = 100
	case lifecycle.EventUnloaded:
		c.State = string(lifecycle.StateUnloaded)
	case lifecycle.EventDeleted:
		c.State = string(lifecycle.StateAbsent)
		c.Percent = 0
	}
}

// sortedClones orders copying clones first, then by identity.
func sortedClones(clones map[string]*CloneState) []*CloneState {
	out := make([]*CloneState, 0, len(clones))
	for _, c := range clones {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		ai := out[i].State == string(lifecycle.StateCopying)
		aj := out[j].State == string(lifecycle.StateCopying)
		if ai != aj {
			return ai
		}
		return out[i].Identity < out[j].Identity
	})
	return out
}

func newBar(theme Theme) progress.Model {
	return progress.New(
		progress.WithGradient(theme.BarFrom, theme.BarTo),
		progress.WithoutPercentage(),
	)
}

func renderClones(clones map[string]*CloneState, selected int, bar progress.Model, theme Theme, width int) string {
	innerWidth := width - 4

	if len(clones) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("CLONES"),
			theme.Dim.Render("  No clone activity yet..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	nameWidth := 24
	bar.Width = max(10, innerWidth-nameWidth-50)

	lines := []string{theme.Title.Render("CLONES")}
	for i, c := range sortedClones(clones) {
		name := fmt.Sprintf("%-*s", nameWidth, truncate(c.Identity, nameWidth))
		if i == selected {
			name = theme.Selected.Render(name)
		}
		line := fmt.Sprintf(" %s %s %s %3d%%  %s",
			name,
			stateStyle(c.State, theme).Render(fmt.Sprintf("%-9s", c.State)),
			bar.ViewAs(float64(c.Percent)/100),
			c.Percent,
			detail(c),
		)
		lines = append(lines, line)
	}
	return theme.Border.Width(innerWidth).Render(strings.Join(lines, "\n"))
}

func detail(c *CloneState) string {
	switch {
	case c.Failure != "":
		return c.Failure
	case c.State == string(lifecycle.StateCopying) && c.Tiles > 0:
		return fmt.Sprintf("%d tiles from %s", c.Tiles, c.Source)
	case c.Bytes > 0:
		return humanize.Bytes(uint64(c.Bytes))
	}
	return ""
}

func stateStyle(state string, theme Theme) lipgloss.Style {
	switch state {
	case string(lifecycle.StateReady):
		return theme.StatusReady
	case string(lifecycle.StateCopying):
		return theme.StatusCopying
	case stateFailed:
		return theme.StatusFailed
	default:
		return theme.StatusUnloaded
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
