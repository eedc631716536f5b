package acquire

import "fmt"

// State is the acquisition state of an Engine.
type State int

const (
	StateInit State = iota
	StateFind
	StateTrack
	StateResolved
	StateAbandoned
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateFind:
		return "FIND"
	case StateTrack:
		return "TRACK"
	case StateResolved:
		return "RESOLVED"
	case StateAbandoned:
		return "ABANDONED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether the attempt has finished.
func (s State) Terminal() bool {
	return s == StateResolved || s == StateAbandoned
}
