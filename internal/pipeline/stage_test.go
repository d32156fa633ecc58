package pipeline

import (
	"errors"
	"testing"
)

func TestStageTransitions(t *testing.T) {
	r := &Request{}
	order := []Stage{
		StageNormalizing, StageLocatingDistrict, StageLabeling, StageUploading,
		StageGenerating, StageFinalizing, StageDone,
	}
	for _, s := range order {
		if err := r.advance(s); err != nil {
			t.Fatalf("advance to %s: %v", s, err)
		}
	}
	if err := r.advance(StageFailed); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("leaving Done should fail, got %v", err)
	}
}

func TestStageRejectsSkipsAndRewinds(t *testing.T) {
	r := &Request{}
	if err := r.advance(StageLabeling); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("skip: %v", err)
	}
	r.advance(StageNormalizing)
	r.advance(StageLocatingDistrict)
	if err := r.advance(StageNormalizing); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("rewind: %v", err)
	}
	if err := r.advance(StageFailed); err != nil {
		t.Errorf("fail from non-terminal: %v", err)
	}
	if err := r.advance(StageFailed); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("fail twice: %v", err)
	}
}

func TestStageString(t *testing.T) {
	if StageLocatingDistrict.String() != "locating_district" || Stage(42).String() != "Stage(42)" {
		t.Error("unexpected stage names")
	}
}
