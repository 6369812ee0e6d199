package lifecycle

import (
	"github.com/mattjoyce/worldclone/internal/copier"
	"github.com/mattjoyce/worldclone/internal/events"
)

const (
	EventStarted   = "clone.started"
	EventProgress  = "clone.progress"
	EventCompleted = "clone.completed"
	EventLoaded    = "clone.loaded"
	EventUnloaded  = "clone.unloaded"
	EventDeleted   = "clone.deleted"
)

// ProgressSink publishes copy progress on hub as clone.progress events.
func ProgressSink(hub *events.Hub) copier.Sink {
	return copier.SinkFunc(func(identity string, pct int) {
		hub.Publish(EventProgress, map[string]any{
			"identity": identity,
			"percent":  pct,
		})
	})
}
