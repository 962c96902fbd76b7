package tryon

import (
	"fmt"
	"strings"
	"time"
)

type ClothingSelection struct {
	Top       *UploadedFile
	Bottom    *UploadedFile
	Accessory *UploadedFile
}

type Slot string

const (
	SlotTop       Slot = "top"
	SlotBottom    Slot = "bottom"
	SlotAccessory Slot = "accessory"
)

func ParseSlot(value string) (Slot, error) {
	switch Slot(strings.ToLower(strings.TrimSpace(value))) {
	case SlotTop:
		return SlotTop, nil
	case SlotBottom:
		return SlotBottom, nil
	case SlotAccessory:
		return SlotAccessory, nil
	}
	return "", fmt.Errorf("unknown garment slot %q", value)
}

type GarmentMode string

const (
	TwoPiece GarmentMode = "two-piece"
	OnePiece GarmentMode = "one-piece"
)

func ParseGarmentMode(value string) (GarmentMode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "two-piece", "two", "2":
		return TwoPiece, nil
	case "one-piece", "one", "1":
		return OnePiece, nil
	}
	return "", fmt.Errorf("unknown garment mode %q", value)
}

type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// State is the in-memory record of one page: the self photo, the garment
// slots and the outcome of the latest run. It is not safe for concurrent
// use; callers serialize access (see session.Store).
type State struct {
	Self     *UploadedFile
	Clothing ClothingSelection
	Mode     GarmentMode

	Images   []string
	Error    string
	Loading  bool
	Progress string
	Status   Status

	UpdatedAt time.Time

	run uint64
}

func NewState() State {
	return State{
		Mode:      TwoPiece,
		Status:    StatusIdle,
		UpdatedAt: time.Now(),
	}
}

// SetSelf replaces (or, with nil, clears) the self photo. Results and the
// error of earlier runs no longer match the photo and are dropped.
func (s *State) SetSelf(f *UploadedFile) {
	s.Self = f
	s.Images = nil
	s.Error = ""
	s.touch()
}

func (s *State) SetGarment(slot Slot, f *UploadedFile) {
	switch slot {
	case SlotTop:
		s.Clothing.Top = f
	case SlotBottom:
		s.Clothing.Bottom = f
	case SlotAccessory:
		s.Clothing.Accessory = f
	}
	s.touch()
}

func (s *State) ClearGarment(slot Slot) {
	s.SetGarment(slot, nil)
}

// SetMode switches garment mode. Switching to one-piece always clears the
// bottom slot, whoever triggers the switch.
func (s *State) SetMode(mode GarmentMode) {
	s.Mode = mode
	if mode == OnePiece {
		s.Clothing.Bottom = nil
	}
	s.touch()
}

// Reset returns to the initial state. A run still in flight keeps going but
// its results are discarded by FinishRun.
func (s *State) Reset() {
	run := s.run
	*s = NewState()
	s.run = run + 1
}

// BeginRun validates the selection and marks a new run as started.
func (s *State) BeginRun() (uint64, error) {
	if s.Loading {
		return 0, ErrRunInProgress
	}
	if err := Validate(s.Self, s.Clothing); err != nil {
		s.Error = err.Error()
		s.touch()
		return 0, err
	}

	s.run++
	s.Loading = true
	s.Status = StatusRunning
	s.Error = ""
	s.Images = nil
	s.Progress = ""
	s.touch()
	return s.run, nil
}

func (s *State) SetProgress(run uint64, message string) bool {
	if run != s.run || !s.Loading {
		return false
	}
	s.Progress = message
	s.touch()
	return true
}

// FinishRun records the outcome of run. It reports false when the run was
// superseded by a reset and nothing was recorded.
func (s *State) FinishRun(run uint64, images []string, err error) bool {
	if run != s.run || !s.Loading {
		return false
	}

	s.Loading = false
	s.Progress = ""
	if err != nil {
		s.Status = StatusFailed
		s.Error = err.Error()
		s.Images = nil
	} else {
		s.Status = StatusSucceeded
		s.Error = ""
		s.Images = append([]string(nil), images...)
	}
	s.touch()
	return true
}

// Run returns the id of the latest run.
func (s *State) Run() uint64 {
	return s.run
}

// Snapshot returns a copy that can be read without holding the owner's lock.
func (s State) Snapshot() State {
	out := s
	out.Images = append([]string(nil), s.Images...)
	return out
}

// CanGenerate mirrors the enabled state of the Generate trigger.
func (s State) CanGenerate() bool {
	return s.Self != nil && s.Clothing.Top != nil && !s.Loading
}

// NextEmptySlot names the slot a captionless upload should fill, or "" when
// everything is set. "self" denotes the self photo.
func (s State) NextEmptySlot() string {
	switch {
	case s.Self == nil:
		return "self"
	case s.Clothing.Top == nil:
		return string(SlotTop)
	case s.Mode == TwoPiece && s.Clothing.Bottom == nil:
		return string(SlotBottom)
	case s.Clothing.Accessory == nil:
		return string(SlotAccessory)
	}
	return ""
}

func (s *State) touch() {
	s.UpdatedAt = time.Now()
}

// Validate is the pre-flight check run before any model call.
func Validate(self *UploadedFile, clothing ClothingSelection) error {
	if self == nil {
		return ErrMissingPhoto
	}
	if clothing.Top == nil {
		return ErrMissingGarment
	}
	return nil
}
