package search

// State is a position in the per-request search lifecycle:
// Idle -> Expanding -> (Converged | BudgetExhausted | Cancelled) -> Sealed.
type State int

const (
	Idle State = iota
	Expanding
	Converged
	BudgetExhausted
	Cancelled
	Sealed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Expanding:
		return "expanding"
	case Converged:
		return "converged"
	case BudgetExhausted:
		return "budget_exhausted"
	case Cancelled:
		return "cancelled"
	case Sealed:
		return "sealed"
	default:
		return "unknown"
	}
}

// Terminal reports whether s ends expansion.
func (s State) Terminal() bool {
	return s == Converged || s == BudgetExhausted || s == Cancelled
}

// canTransition lists the legal state changes.
func canTransition(from, to State) bool {
	switch from {
	case Idle:
		return to == Expanding || to == Cancelled
	case Expanding:
		return to.Terminal()
	case Converged, BudgetExhausted, Cancelled:
		return to == Sealed
	default:
		return false
	}
}
