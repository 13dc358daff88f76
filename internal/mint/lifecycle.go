package mint

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/camly/backend/internal/apperr"
	"github.com/camly/backend/internal/models"
)

// ErrConcurrentRequest reports that the user already has an open mint request.
var ErrConcurrentRequest = errors.New("concurrent_request")

var transitions = map[models.MintStatus][]models.MintStatus{
	models.MintPending:  {models.MintApproved, models.MintRejected},
	models.MintApproved: {models.MintMinted, models.MintFailed},
}

// CanTransition reports whether a request may move from one status to another.
func CanTransition(from, to models.MintStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionError is wrapped in an apperr state error for illegal moves.
type TransitionError struct {
	RequestID uuid.UUID
	From      models.MintStatus
	To        models.MintStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("mint request %s cannot move from %s to %s", e.RequestID, e.From, e.To)
}

// transition moves m to status `to` and then runs apply. On an illegal move m
// is left untouched.
func transition(m *models.MintRequest, to models.MintStatus, apply func(*models.MintRequest)) error {
	if !CanTransition(m.Status, to) {
		return apperr.Wrap(apperr.KindState, &TransitionError{RequestID: m.ID, From: m.Status, To: to},
			"request is %s and cannot become %s", m.Status.Label(), to.Label())
	}
	m.Status = to
	if apply != nil {
		apply(m)
	}
	return nil
}
