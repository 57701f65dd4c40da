// Package membership answers whether a user may take part in a trip's chat.
package membership

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrTripNotFound = errors.New("trip not found")
	ErrNotMember    = errors.New("not a member of this trip")
)

// Oracle is backed by the trip-membership data. A soft-deleted trip must
// report TripExists == false.
type Oracle interface {
	TripExists(ctx context.Context, tripID uuid.UUID) (bool, error)
	IsMember(ctx context.Context, tripID, userID uuid.UUID) (bool, error)
}

// Check returns nil when userID may join tripID's chat, ErrTripNotFound or
// ErrNotMember when it may not, and a wrapped error when the oracle failed.
func Check(ctx context.Context, o Oracle, tripID, userID uuid.UUID) error {
	exists, err := o.TripExists(ctx, tripID)
	if err != nil {
		return fmt.Errorf("membership: trip lookup: %w", err)
	}
	if !exists {
		return ErrTripNotFound
	}

	member, err := o.IsMember(ctx, tripID, userID)
	if err != nil {
		return fmt.Errorf("membership: member lookup: %w", err)
	}
	if !member {
		return ErrNotMember
	}
	return nil
}
