package conflict

import (
	"time"

	"github.com/rpggio/tasksync/internal/domain/task"
)

// DefaultWindow is the collision window used when none is configured.
const DefaultWindow = 5000 * time.Millisecond

// Detect reports whether local and incoming are concurrent edits of the same
// task: both carry a modification marker and the markers lie within window
// of each other. Identical content never conflicts. Detect(a, b, w) always
// equals Detect(b, a, w).
func Detect(local, incoming task.Snapshot, window time.Duration) bool {
	if local.ID == "" || local.ID != incoming.ID {
		return false
	}
	if local.ModifiedAt == 0 || incoming.ModifiedAt == 0 {
		return false
	}
	if local.SameContent(incoming) {
		return false
	}
	diff := local.ModifiedAt - incoming.ModifiedAt
	if diff < 0 {
		diff = -diff
	}
	return diff <= window.Milliseconds()
}

// Detector binds a collision window to Detect.
type Detector struct {
	Window time.Duration
}

// Detect applies the configured window, falling back to DefaultWindow.
func (d Detector) Detect(local, incoming task.Snapshot) bool {
	window := d.Window
	if window <= 0 {
		window = DefaultWindow
	}
	return Detect(local, incoming, window)
}
