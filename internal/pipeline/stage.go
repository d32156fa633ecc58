package pipeline

import (
	"errors"
	"fmt"
)

// Stage is the position of a request in the generation lifecycle.
type Stage int

const (
	StageReceived Stage = iota
	StageNormalizing
	StageLocatingDistrict
	StageLabeling
	StageUploading
	StageGenerating
	StageFinalizing
	StageDone
	StageFailed
)

var stageNames = [...]string{
	StageReceived:         "received",
	StageNormalizing:      "normalizing",
	StageLocatingDistrict: "locating_district",
	StageLabeling:         "labeling",
	StageUploading:        "uploading",
	StageGenerating:       "generating",
	StageFinalizing:       "finalizing",
	StageDone:             "done",
	StageFailed:           "failed",
}

func (s Stage) String() string {
	if s >= 0 && int(s) < len(stageNames) {
		return stageNames[s]
	}
	return fmt.Sprintf("Stage(%d)", int(s))
}

// Terminal reports whether no further transition is allowed.
func (s Stage) Terminal() bool {
	return s == StageDone || s == StageFailed
}

// ErrInvalidTransition is returned when a stage change skips ahead, goes
// backwards or leaves a terminal stage.
var ErrInvalidTransition = errors.New("invalid stage transition")

// next checks that to may follow from.
func next(from, to Stage) error {
	switch {
	case from.Terminal():
		return fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, from)
	case to == StageFailed:
		return nil
	case to != from+1:
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
