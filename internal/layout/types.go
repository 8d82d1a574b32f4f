package layout

import (
	"time"

	"github.com/nupi-ai/edbridge/internal/editor"
)

// Trigger identifies why a layout pass ran.
type Trigger string

const (
	// TriggerInitial runs once when an editor is constructed.
	TriggerInitial Trigger = "initial"
	// TriggerResize runs on every host window resize signal.
	TriggerResize Trigger = "resize"
)

// SizeSource answers the host's current viewport size. hostcap.Capabilities
// satisfies it.
type SizeSource interface {
	Width() int
	Height() int
}

// Target is anything that can be laid out. Code and diff editors satisfy it.
type Target interface {
	Layout(d editor.Dimension)
	LayoutInfo() editor.Dimension
}

// Request captures one layout signal. A nil Size means ask the host.
type Request struct {
	Trigger Trigger
	Size    *editor.Dimension
	SentAt  time.Time
}

// Decision is the outcome of a layout pass.
type Decision struct {
	Trigger   Trigger          `json:"trigger"`
	Size      editor.Dimension `json:"size"`
	Targets   int              `json:"targets"`
	Notes     []string         `json:"notes,omitempty"`
	AppliedAt time.Time        `json:"appliedAt"`
}
