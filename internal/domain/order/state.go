package order

// orderState implements the state pattern for order lifecycle transitions.
type orderState interface {
	Status() Status
	Confirm(o *Order) (orderState, error)
	Cancel(o *Order) (orderState, error)
	Fulfill(o *Order, complete bool) (orderState, error)
}

func stateFor(s Status) orderState {
	switch s {
	case StatusDraft:
		return draftState{}
	case StatusUnconfirmed:
		return unconfirmedState{}
	case StatusUnfulfilled:
		return unfulfilledState{}
	case StatusPartiallyFulfilled:
		return partiallyFulfilledState{}
	case StatusFulfilled:
		return fulfilledState{}
	default:
		return canceledState{}
	}
}

func fulfilled(complete bool) orderState {
	if complete {
		return fulfilledState{}
	}
	return partiallyFulfilledState{}
}

type draftState struct{}

func (draftState) Status() Status { return StatusDraft }

// Confirm completes a draft straight to unfulfilled.
func (draftState) Confirm(*Order) (orderState, error) { return unfulfilledState{}, nil }

func (draftState) Cancel(*Order) (orderState, error) { return nil, ErrInvalidStateTransition }

func (draftState) Fulfill(*Order, bool) (orderState, error) { return nil, ErrInvalidStateTransition }

type unconfirmedState struct{}

func (unconfirmedState) Status() Status { return StatusUnconfirmed }

func (unconfirmedState) Confirm(*Order) (orderState, error) { return unfulfilledState{}, nil }

func (unconfirmedState) Cancel(*Order) (orderState, error) { return canceledState{}, nil }

func (unconfirmedState) Fulfill(*Order, bool) (orderState, error) {
	return nil, ErrInvalidStateTransition
}

type unfulfilledState struct{}

func (unfulfilledState) Status() Status { return StatusUnfulfilled }

func (unfulfilledState) Confirm(*Order) (orderState, error) { return nil, ErrInvalidStateTransition }

func (unfulfilledState) Cancel(*Order) (orderState, error) { return canceledState{}, nil }

func (unfulfilledState) Fulfill(_ *Order, complete bool) (orderState, error) {
	return fulfilled(complete), nil
}

type partiallyFulfilledState struct{}

func (partiallyFulfilledState) Status() Status { return StatusPartiallyFulfilled }

func (partiallyFulfilledState) Confirm(*Order) (orderState, error) {
	return nil, ErrInvalidStateTransition
}

func (partiallyFulfilledState) Cancel(*Order) (orderState, error) {
	return nil, ErrInvalidStateTransition
}

func (partiallyFulfilledState) Fulfill(_ *Order, complete bool) (orderState, error) {
	return fulfilled(complete), nil
}

type fulfilledState struct{}

func (fulfilledState) Status() Status { return StatusFulfilled }

func (fulfilledState) Confirm(*Order) (orderState, error) { return nil, ErrInvalidStateTransition }

func (fulfilledState) Cancel(*Order) (orderState, error) { return nil, ErrInvalidStateTransition }

func (fulfilledState) Fulfill(*Order, bool) (orderState, error) {
	return nil, ErrInvalidStateTransition
}

type canceledState struct{}

func (canceledState) Status() Status { return StatusCanceled }

func (canceledState) Confirm(*Order) (orderState, error) { return nil, ErrInvalidStateTransition }

func (canceledState) Cancel(*Order) (orderState, error) { return nil, ErrInvalidStateTransition }

func (canceledState) Fulfill(*Order, bool) (orderState, error) {
	return nil, ErrInvalidStateTransition
}
