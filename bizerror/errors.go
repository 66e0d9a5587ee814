package bizerror

import (
	"context"
	"errors"
	"fmt"
)

type Kind int

const (
	Unknown Kind = iota
	NotFound
	Conflict
	Forbidden
	InvalidInput
	Expired
	StorageFailure
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case Conflict:
		return "conflict"
	case Forbidden:
		return "forbidden"
	case InvalidInput:
		return "invalid_input"
	case Expired:
		return "expired"
	case StorageFailure:
		return "storage_failure"
	default:
		return "unknown"
	}
}

var (
	ErrNotFound     = errors.New("common.not_found")
	ErrConflict     = errors.New("common.conflict")
	ErrForbidden    = errors.New("security.forbidden")
	ErrInvalidInput = errors.New("common.bad_param")
	ErrExpired      = errors.New("common.expired")
)

var (
	ErrGroupNotFound  = &ErrBiz{Code: "group.not_found", Cause: ErrNotFound}
	ErrNotMember      = &ErrBiz{Code: "group.not_member", Cause: ErrNotFound}
	ErrAlreadyRemoved = &ErrBiz{Code: "group.member_already_removed", Cause: ErrNotFound}
	ErrNoAudience     = &ErrBiz{Code: "group.no_audience", Cause: ErrNotFound}

	ErrNameTaken     = &ErrBiz{Code: "group.name_taken", Cause: ErrConflict}
	ErrAlreadyMember = &ErrBiz{Code: "group.already_member", Cause: ErrConflict}

	ErrNotLeader       = &ErrBiz{Code: "group.not_leader", Cause: ErrForbidden}
	ErrLeaderRemoval   = &ErrBiz{Code: "group.leader_removal", Cause: ErrForbidden}
	ErrSelfTarget      = &ErrBiz{Code: "group.self_target", Cause: ErrForbidden}
	ErrDisbandRequired = &ErrBiz{Code: "group.disband_required", Cause: ErrForbidden}

	ErrInvalidName        = &ErrBiz{Code: "group.invalid_name", Cause: ErrInvalidInput}
	ErrInvalidDescription = &ErrBiz{Code: "group.invalid_description", Cause: ErrInvalidInput}

	ErrNoInvite      = &ErrBiz{Code: "invite.not_found", Cause: ErrNotFound}
	ErrInviteStale   = &ErrBiz{Code: "invite.group_gone", Cause: ErrNotFound}
	ErrInvitePending = &ErrBiz{Code: "invite.pending", Cause: ErrConflict}
	ErrInviteExpired = &ErrBiz{Code: "invite.expired", Cause: ErrExpired}

	ErrNoConfirmation      = &ErrBiz{Code: "confirmation.not_found", Cause: ErrNotFound}
	ErrConfirmationExpired = &ErrBiz{Code: "confirmation.expired", Cause: ErrExpired}
)

// ErrInvalidConfirmation marks a confirmation whose preconditions no longer
// hold at commit time. It is matched through ErrStaleConfirmation.
var ErrInvalidConfirmation = errors.New("confirmation.invalid")

type ErrBiz struct {
	Code  string
	Cause error
}

func (e *ErrBiz) Error() string {
	return e.Code
}

func (e *ErrBiz) Unwrap() error {
	return e.Cause
}

type ErrStaleConfirmation struct {
	Cause error
}

func (e *ErrStaleConfirmation) Error() string {
	if e.Cause != nil {
		return ErrInvalidConfirmation.Error() + ": " + e.Cause.Error()
	}
	return ErrInvalidConfirmation.Error()
}

func (e *ErrStaleConfirmation) Unwrap() error {
	return e.Cause
}

func (e *ErrStaleConfirmation) Is(target error) bool {
	return target == ErrInvalidConfirmation
}

type ErrStorage struct {
	Op    string
	Cause error
}

func (e *ErrStorage) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("storage failure on %s: %v", e.Op, e.Cause)
	}
	return "storage failure on " + e.Op
}

func (e *ErrStorage) Unwrap() error {
	return e.Cause
}

// Storage wraps an I/O failure of op. Business errors pass through unchanged.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	var storageErr *ErrStorage
	if errors.As(err, &storageErr) {
		return err
	}
	if KindOf(err) != Unknown && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &ErrStorage{Op: op, Cause: err}
}

func KindOf(err error) Kind {
	if err == nil {
		return Unknown
	}
	var storageErr *ErrStorage
	switch {
	case errors.As(err, &storageErr):
		return StorageFailure
	case errors.Is(err, ErrNotFound):
		return NotFound
	case errors.Is(err, ErrConflict):
		return Conflict
	case errors.Is(err, ErrForbidden):
		return Forbidden
	case errors.Is(err, ErrInvalidInput):
		return InvalidInput
	case errors.Is(err, ErrExpired):
		return Expired
	}
	return Unknown
}

func Code(err error) string {
	var biz *ErrBiz
	if errors.As(err, &biz) {
		return biz.Code
	}
	if err == nil {
		return ""
	}
	return "common.internal_error"
}

func IsStaleConfirmation(err error) bool {
	return errors.Is(err, ErrInvalidConfirmation)
}
