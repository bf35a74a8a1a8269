package order

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kiwari-pos/engine/internal/apperr"
	"github.com/kiwari-pos/engine/internal/enum"
	"github.com/kiwari-pos/engine/internal/model"
)

// Errors returned by the state machine.
var (
	ErrReasonRequired = fmt.Errorf("void reason is required: %w", apperr.ErrValidation)
	ErrRoleNotAllowed = fmt.Errorf("role not allowed for this transition: %w", apperr.ErrValidation)
	ErrUnknownStatus  = fmt.Errorf("unknown order status: %w", apperr.ErrValidation)
)

// TransitionError reports a transition outside the allowed set.
// It matches apperr.ErrInvalidTransition with errors.Is.
type TransitionError struct {
	From model.OrderStatus
	To   model.OrderStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot transition from %s to %s", e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == apperr.ErrInvalidTransition
}

// allowedTransitions defines the forward path. Voided is handled separately
// since it is reachable from every non-terminal state.
var allowedTransitions = map[model.OrderStatus]model.OrderStatus{
	model.OrderPending:   model.OrderPreparing,
	model.OrderPreparing: model.OrderReady,
	model.OrderReady:     model.OrderCompleted,
}

// transitionRoles lists who may request each target status. OWNER and
// MANAGER are allowed everywhere and are not repeated here.
var transitionRoles = map[model.OrderStatus][]string{
	model.OrderPreparing: {enum.UserRoleKitchen},
	model.OrderReady:     {enum.UserRoleKitchen},
	model.OrderCompleted: {enum.UserRoleKitchen, enum.UserRoleWaiter, enum.UserRoleCashier},
	model.OrderVoided:    {enum.UserRoleCashier},
}

// CanTransition reports whether from -> to is in the allowed set.
func CanTransition(from, to model.OrderStatus) bool {
	if to == model.OrderVoided {
		return from.Valid() && !from.Terminal()
	}
	next, ok := allowedTransitions[from]
	return ok && next == to
}

// Validate checks a requested transition without applying it.
// An empty role skips the role check (used for server-confirmed state).
func Validate(from, to model.OrderStatus, role, reason string) error {
	if !to.Valid() {
		return fmt.Errorf("%q: %w", to, ErrUnknownStatus)
	}
	if !CanTransition(from, to) {
		return &TransitionError{From: from, To: to}
	}
	if to == model.OrderVoided && strings.TrimSpace(reason) == "" {
		return ErrReasonRequired
	}
	if role != "" && !roleAllowed(role, to) {
		return fmt.Errorf("%s -> %s by %s: %w", from, to, role, ErrRoleNotAllowed)
	}
	return nil
}

// Transition applies to on o if Validate allows it. On error o is unchanged.
func Transition(o *model.Order, to model.OrderStatus, role, reason string) error {
	if err := Validate(o.Status, to, role, reason); err != nil {
		return err
	}
	o.Status = to
	if to == model.OrderVoided {
		o.VoidReason = strings.TrimSpace(reason)
	}
	return nil
}

// Next returns the forward successor of s, if any.
func Next(s model.OrderStatus) (model.OrderStatus, bool) {
	next, ok := allowedTransitions[s]
	return next, ok
}

// IsInvalidTransition reports whether err came from a rejected transition.
func IsInvalidTransition(err error) bool {
	return errors.Is(err, apperr.ErrInvalidTransition)
}

func roleAllowed(role string, to model.OrderStatus) bool {
	if role == enum.UserRoleOwner || role == enum.UserRoleManager {
		return true
	}
	for _, r := range transitionRoles[to] {
		if r == role {
			return true
		}
	}
	return false
}
