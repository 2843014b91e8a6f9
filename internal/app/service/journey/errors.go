package journey

import (
	"errors"
	"fmt"

	"github.com/fatflowers/settle/internal/app/service/apperr"
	"github.com/fatflowers/settle/pkg/types"
)

var (
	// ErrIntentTerminal is returned when a new attempt targets an intent that already settled.
	ErrIntentTerminal = errors.New("journey: intent already in a terminal status")
	// ErrInvalidTransition is returned for a status change the state machine forbids.
	ErrInvalidTransition = errors.New("journey: invalid status transition")
)

func transitionError(from, to types.PaymentStatus) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

func errInvalidSort(field string) error {
	return apperr.Validation("sort_by", fmt.Sprintf("cannot sort by %q", field))
}

func errInvalidFilter(err error) error {
	return apperr.Validation("filters", err.Error())
}
