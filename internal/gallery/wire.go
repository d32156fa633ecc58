package gallery

import (
	"github.com/kratadata/quartier-atlas/internal/districts"
	"github.com/kratadata/quartier-atlas/internal/geo"
	"github.com/kratadata/quartier-atlas/internal/pipeline"
)

// Quartier is the district as the frontend expects it.
type Quartier struct {
	Name   string `json:"name"`
	Nummer int    `json:"nummer"`
	Label  string `json:"label"`
}

func quartierOf(d districts.District) Quartier {
	return Quartier{Name: d.Name, Nummer: d.ID, Label: d.DisplayLabel()}
}

type progressMessage struct {
	Type     string `json:"type"`
	Progress int    `json:"progress"`
	Message  string `json:"message"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type resultMessage struct {
	Type           string        `json:"type"`
	ImageURL       string        `json:"imageUrl"`
	DetectedObject string        `json:"detectedObject"`
	Quartier       Quartier      `json:"quartier"`
	GPS            *geo.GeoPoint `json:"gps"`
}

// message converts a pipeline event to its stream payload.
func message(ev pipeline.Event) any {
	switch ev.Kind {
	case pipeline.EventResult:
		r := ev.Result
		return resultMessage{
			Type:           "result",
			ImageURL:       r.ImageURL,
			DetectedObject: r.Label,
			Quartier:       quartierOf(r.District),
			GPS:            r.GPS,
		}
	case pipeline.EventError:
		return errorMessage{Type: "error", Message: ev.Message}
	default:
		return progressMessage{Type: "progress", Progress: ev.Percent, Message: ev.Message}
	}
}
