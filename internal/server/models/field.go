package models

import (
	"errors"
	"fmt"

	"github.com/dmitrijs2005/vaultcore/internal/common"
)

type fieldOp int

const (
	opUnchanged fieldOp = iota
	opSet
	opClear
)

// Field is a per-field update instruction: leave the stored value alone,
// set it, or clear it. The zero value is Unchanged.
type Field[T any] struct {
	op    fieldOp
	value T
}

// Unchanged leaves the stored value as is.
func Unchanged[T any]() Field[T] { return Field[T]{} }

// SetTo replaces the stored value with v.
func SetTo[T any](v T) Field[T] { return Field[T]{op: opSet, value: v} }

// Cleared removes the stored value (NULL).
func Cleared[T any]() Field[T] { return Field[T]{op: opClear} }

func (f Field[T]) IsUnchanged() bool { return f.op == opUnchanged }
func (f Field[T]) IsSet() bool       { return f.op == opSet }
func (f Field[T]) IsCleared() bool   { return f.op == opClear }

// Value returns the new value and true if f is SetTo.
func (f Field[T]) Value() (T, bool) {
	return f.value, f.op == opSet
}

func (f Field[T]) String() string {
	switch f.op {
	case opSet:
		return "SetTo"
	case opClear:
		return "Cleared"
	default:
		return "Unchanged"
	}
}

// CredentialUpdate describes a change to a CredentialRecord.
type CredentialUpdate struct {
	PasswordHash  Field[string]
	PersonalSalt  Field[string]
	WrappedDEK    Field[string]
	MFASecret     Field[string]
	State         Field[CredentialState]
	DEKGeneration Field[int64]
}

var errEmptyUpdate = errors.New("empty credential update")

// Validate enforces that the credential triple changes all together or not
// at all, and that only MFASecret may be cleared.
func (u CredentialUpdate) Validate() error {
	triple := []interface{ IsSet() bool }{u.PasswordHash, u.PersonalSalt, u.WrappedDEK}
	set := 0
	for _, f := range triple {
		if f.IsSet() {
			set++
		}
	}
	if set != 0 && set != len(triple) {
		return common.ErrPartialCredentialUpdate
	}
	if u.PasswordHash.IsCleared() || u.PersonalSalt.IsCleared() || u.WrappedDEK.IsCleared() {
		return common.ErrPartialCredentialUpdate
	}
	if u.State.IsCleared() || u.DEKGeneration.IsCleared() {
		return fmt.Errorf("state and dek generation cannot be cleared")
	}
	if st, ok := u.State.Value(); ok && !st.Valid() {
		return fmt.Errorf("unknown state %q", st)
	}
	if st, ok := u.State.Value(); ok && st == StateRotationInProgress {
		return fmt.Errorf("state %q is not persisted", st)
	}
	if set == 0 && u.MFASecret.IsUnchanged() && u.State.IsUnchanged() && u.DEKGeneration.IsUnchanged() {
		return errEmptyUpdate
	}
	return nil
}
