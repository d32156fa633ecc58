// Package generator drives the remote image-generation workflow.
package generator

import (
	"context"
	"fmt"
)

// EventKind discriminates generator events.
type EventKind int

const (
	EventProgress EventKind = iota
	EventError
	EventDone
)

func (k EventKind) String() string {
	switch k {
	case EventProgress:
		return "progress"
	case EventError:
		return "error"
	case EventDone:
		return "done"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// UnknownPercent marks a progress event without a completion estimate.
const UnknownPercent = -1

// Event is one item of a generation stream. Percent and Message are set for
// progress, Detail for errors and Result for the terminal Done event.
type Event struct {
	Kind    EventKind
	Percent int
	Message string
	Detail  string
	Result  any
}

// Input is the parameter set sent to the workflow.
type Input struct {
	TextField     string  `json:"text_field"`
	GuidanceScale float64 `json:"guidance_scale"`
	Prompt        string  `json:"prompt"`
	MainImage     string  `json:"main_image"`
	LoraScale     float64 `json:"lora_scale"`
	LoraPath      string  `json:"lora_path"`
}

// Style holds the fixed workflow settings that every Input shares.
type Style struct {
	Prompt        string
	GuidanceScale float64
	LoraScale     float64
	LoraPath      string
}

// DefaultStyle matches the red-marker sketch look of the installation.
var DefaultStyle = Style{
	Prompt:        "Generate the object in the style of SK3TCHING on a white background. Use only white background and red marker pen.",
	GuidanceScale: 5.0,
	LoraScale:     1.3,
	LoraPath:      "kratadata/red-marker",
}

// InputFor builds the workflow input for a labeled, uploaded image.
func (s Style) InputFor(label, imageURL string) Input {
	return Input{
		TextField:     label,
		GuidanceScale: s.GuidanceScale,
		Prompt:        fmt.Sprintf("%s. Focus on the %s.", s.Prompt, label),
		MainImage:     imageURL,
		LoraScale:     s.LoraScale,
		LoraPath:      s.LoraPath,
	}
}

// Generator uploads source images and streams generation runs.
//
// The channel returned by Stream yields any number of progress events
// followed by exactly one Error or Done, then closes. If ctx is canceled the
// channel closes without a terminal event.
type Generator interface {
	Upload(ctx context.Context, data []byte, filename, contentType string) (string, error)
	Stream(ctx context.Context, in Input) (<-chan Event, error)
}
