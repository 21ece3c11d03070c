package model

var transitions = map[Status][]Status{
	StatusPending:     {StatusConfirmed, StatusCancelled},
	StatusConfirmed:   {StatusCompleted, StatusCancelled, StatusRescheduled},
	StatusRescheduled: {StatusConfirmed, StatusCancelled},
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled, StatusRescheduled:
		return true
	}
	return false
}

func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (p PaymentStatus) Valid() bool {
	return p == PaymentUnpaid || p == PaymentDepositPaid || p == PaymentFullyPaid
}
