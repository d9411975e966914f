/*
Package records persists deposit records.

Every Store implementation provides compare-and-set updates: Update writes
only if the stored version equals the version of the given record, and
fails with ErrConflict otherwise. The lifecycle manager relies on this to
let a single caller move a record into the resolving state.
*/
package records

import (
	"context"
	"sort"

	"github.com/iov-one/claimsend"
	"github.com/iov-one/claimsend/errors"
	"github.com/iov-one/claimsend/ledger"
)

// Store keeps records. Returned records are copies owned by the caller.
type Store interface {
	// Create persists a new record with version 1. It fails with
	// ErrDuplicate if the id or the token is taken.
	Create(ctx context.Context, r *Record) error

	// GetByID fails with ErrNotFound for unknown ids.
	GetByID(ctx context.Context, id string) (*Record, error)

	// GetByToken fails with ErrNotFound for unknown tokens.
	GetByToken(ctx context.Context, token string) (*Record, error)

	// ListBySender returns the records of a sender, oldest first.
	ListBySender(ctx context.Context, sender claimsend.Address) ([]*Record, error)

	// ListByState returns the records in a state, oldest first.
	ListByState(ctx context.Context, state State) ([]*Record, error)

	// Update replaces the record if the stored version equals r.Version
	// and increments r.Version. It fails with ErrConflict if the record
	// changed in between and with ErrNotFound if it does not exist.
	Update(ctx context.Context, r *Record) error
}

// Mutate loads a record, applies fn and writes the result. It does not
// retry: a concurrent update makes it fail with ErrConflict.
func Mutate(ctx context.Context, s Store, id string, fn func(*Record) error) (*Record, error) {
	r, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(r); err != nil {
		return nil, err
	}
	if err := r.Validate(); err != nil {
		return nil, errors.Wrap(errors.ErrModel, err.Error())
	}
	if err := s.Update(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// UpdateState moves a record from one state to another. Terminal payouts
// record the confirming operation and the address paid.
func UpdateState(ctx context.Context, s Store, id string, from, to State, confirmingOp ledger.TxID, resolvedTo claimsend.Address, now claimsend.UnixTime) (*Record, error) {
	return Mutate(ctx, s, id, func(r *Record) error {
		if r.State != from {
			return errors.Wrapf(errors.ErrState, "record is %s, not %s", r.State, from)
		}
		r.State = to
		if to != StateResolving {
			r.Resolving = nil
		}
		if to.IsPaidOut() {
			r.ConfirmingOp = confirmingOp
			r.ResolvedTo = resolvedTo
			r.ResolvedAt = now
		}
		return nil
	})
}

// RotateToken replaces the token of a record and moves its deadline. It
// returns the new token. A non nil check can refuse the stored record.
func RotateToken(ctx context.Context, s Store, id string, expiresAt claimsend.UnixTime, check func(*Record) error) (*Record, string, error) {
	token, err := NewToken()
	if err != nil {
		return nil, "", err
	}
	r, err := Mutate(ctx, s, id, func(r *Record) error {
		if check != nil {
			if err := check(r); err != nil {
				return err
			}
		}
		r.Token = token
		r.ExpiresAt = expiresAt
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return r, token, nil
}

func sortRecords(rs []*Record) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].CreatedAt != rs[j].CreatedAt {
			return rs[i].CreatedAt < rs[j].CreatedAt
		}
		return rs[i].ID < rs[j].ID
	})
}
