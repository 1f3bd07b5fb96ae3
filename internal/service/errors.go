package service

import (
	"errors"
	"fmt"

	"course-bot/internal/models"
	"course-bot/internal/store"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrInvalidState     = errors.New("invalid state")
	ErrAmbiguous        = errors.New("ambiguous request")
)

// AmbiguousError carries the purchases a bare cancel could refer to
type AmbiguousError struct {
	Candidates []models.Purchase
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("%d pending purchases, specify which one", len(e.Candidates))
}

func (e *AmbiguousError) Is(target error) bool {
	return target == ErrAmbiguous
}

// InvalidStateError reports the status that blocked a transition
type InvalidStateError struct {
	PurchaseID int64
	Status     models.Status
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("purchase %d is %s", e.PurchaseID, e.Status)
}

func (e *InvalidStateError) Is(target error) bool {
	return target == ErrInvalidState
}

// mapStoreErr translates ledger errors into engine errors
func mapStoreErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, store.ErrStatusConflict):
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	default:
		return err
	}
}
