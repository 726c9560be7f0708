package draft

// State is the save state of a draft. Representing it as one enum instead of
// independent dirty/saving booleans keeps illegal combinations (saving while
// clean with no prior save) unrepresentable.
type State int

const (
	StateClean State = iota
	StateDirty
	StateSaving
)

func (s State) String() string {
	switch s {
	case StateClean:
		return "clean"
	case StateDirty:
		return "dirty"
	case StateSaving:
		return "saving"
	default:
		return "unknown"
	}
}
