package orders

// Status enumerates order lifecycle states.
type Status string

const (
	StatusNew       Status = "New"
	StatusUpdate    Status = "Update"
	StatusSubmitted Status = "Submitted"
	// StatusPartiallyFilled is accepted by the lifecycle but no fill model emits it yet.
	StatusPartiallyFilled Status = "PartiallyFilled"
	StatusFilled          Status = "Filled"
	StatusCanceled        Status = "Canceled"
	StatusNone            Status = "None"
	StatusInvalid         Status = "Invalid"
)

// IsTerminal reports whether no further transition is permitted.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusInvalid:
		return true
	}
	return false
}

// IsOpen reports whether the order still awaits evaluation.
func (s Status) IsOpen() bool {
	switch s {
	case StatusSubmitted, StatusUpdate, StatusPartiallyFilled:
		return true
	}
	return false
}

var transitions = map[Status][]Status{
	StatusNew:             {StatusSubmitted, StatusInvalid},
	StatusSubmitted:       {StatusFilled, StatusPartiallyFilled, StatusCanceled, StatusUpdate},
	StatusUpdate:          {StatusSubmitted, StatusFilled, StatusPartiallyFilled, StatusCanceled, StatusUpdate},
	StatusPartiallyFilled: {StatusPartiallyFilled, StatusFilled, StatusCanceled, StatusUpdate},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
