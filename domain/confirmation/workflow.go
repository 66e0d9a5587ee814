// Package confirmation gates irreversible group actions behind a second
// step: propose, then confirm within the TTL to commit.
package confirmation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"guildkeep/bizerror"
	"guildkeep/common"
	"guildkeep/domain"
	"guildkeep/domain/group"
	"guildkeep/domain/membership"

	"github.com/fundwit/go-commons/types"
	"github.com/sirupsen/logrus"
)

const DefaultTTL = 60 * time.Second

type Workflow struct {
	repo   *group.Repository
	groups *membership.Service
	ttl    time.Duration
	now    func() time.Time
}

func NewWorkflow(repo *group.Repository, groups *membership.Service, ttl time.Duration) *Workflow {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Workflow{repo: repo, groups: groups, ttl: ttl, now: time.Now}
}

func (w *Workflow) WithClock(now func() time.Time) *Workflow {
	c := *w
	c.now = now
	return &c
}

func (w *Workflow) TTL() time.Duration {
	return w.ttl
}

// Propose validates action for actorID and stores it, replacing any pending
// confirmation of the same kind.
func (w *Workflow) Propose(ctx context.Context, actorID types.ID, action domain.Action) (*domain.Confirmation, error) {
	if err := w.precheck(ctx, actorID, action); err != nil {
		return nil, err
	}
	c := domain.NewConfirmation(actorID, action, w.now().Add(w.ttl))
	if err := w.repo.AddConfirmation(ctx, &c); err != nil {
		return nil, err
	}

	common.Log.WithFields(logrus.Fields{
		"actorId": actorID, "kind": c.Kind, "groupId": action.TargetGroup(), "expiresAt": c.ExpiresAt,
	}).Info("confirmation proposed")
	return &c, nil
}

func (w *Workflow) ProposeDisband(ctx context.Context, leaderID types.ID) (*domain.Confirmation, error) {
	g, err := w.groups.GroupLedBy(ctx, leaderID)
	if err != nil {
		return nil, err
	}
	return w.Propose(ctx, leaderID, domain.Disband{GroupID: g.ID})
}

// Leave removes the actor from its group. A sole leader cannot leave an
// empty group behind, so the leave becomes a disband proposal the actor has
// to confirm; the returned confirmation is then non-nil.
func (w *Workflow) Leave(ctx context.Context, actorID types.ID) (*membership.LeaveResult, *domain.Confirmation, error) {
	result, err := w.groups.Leave(ctx, actorID)
	if !errors.Is(err, bizerror.ErrDisbandRequired) {
		return result, nil, err
	}
	c, err := w.ProposeDisband(ctx, actorID)
	if err != nil {
		return nil, nil, err
	}
	return &membership.LeaveResult{GroupID: *c.GroupID}, c, nil
}

func (w *Workflow) ProposeRename(ctx context.Context, leaderID types.ID, newName string) (*domain.Confirmation, error) {
	g, err := w.groups.GroupLedBy(ctx, leaderID)
	if err != nil {
		return nil, err
	}
	return w.Propose(ctx, leaderID, domain.Rename{GroupID: g.ID, NewName: newName})
}

func (w *Workflow) ProposeAdminRename(ctx context.Context, adminID, groupID types.ID, newName string) (*domain.Confirmation, error) {
	return w.Propose(ctx, adminID, domain.AdminRename{GroupID: groupID, NewName: newName})
}

func (w *Workflow) precheck(ctx context.Context, actorID types.ID, action domain.Action) error {
	switch a := action.(type) {
	case domain.Disband:
		g, err := w.groups.GroupLedBy(ctx, actorID)
		if err != nil {
			return err
		}
		if g.ID != a.GroupID {
			return bizerror.ErrNotLeader
		}
	case domain.Rename:
		g, err := w.groups.CheckRename(ctx, actorID, a.NewName)
		if err != nil {
			return err
		}
		if g.ID != a.GroupID {
			return bizerror.ErrNotLeader
		}
	case domain.AdminRename:
		if _, err := w.groups.CheckAdminRename(ctx, a.GroupID, a.NewName); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: unsupported action %T", bizerror.ErrInvalidInput, action)
	}
	return nil
}

// Confirm commits the pending action of kind for actorID. An expired
// confirmation is purged and reported as ErrConfirmationExpired. When the
// action no longer holds, the confirmation is purged and the failure is
// wrapped in *bizerror.ErrStaleConfirmation. Storage failures leave the
// confirmation in place.
func (w *Workflow) Confirm(ctx context.Context, actorID types.ID, kind domain.ConfirmationKind) (domain.Action, error) {
	c, err := w.repo.GetConfirmation(ctx, actorID, kind)
	if err != nil {
		return nil, err
	}
	if c.ExpiredAt(w.now()) {
		if _, err := w.repo.RemoveConfirmation(ctx, actorID, kind); err != nil {
			return nil, err
		}
		return nil, bizerror.ErrConfirmationExpired
	}
	action, err := c.Action()
	if err != nil {
		return nil, w.reject(ctx, c, fmt.Errorf("%w: %v", bizerror.ErrInvalidInput, err))
	}

	err = w.repo.Transaction(ctx, func(tx *group.Repository) error {
		removed, err := tx.RemoveConfirmation(ctx, actorID, kind)
		if err != nil {
			return err
		}
		if !removed {
			return bizerror.ErrNoConfirmation
		}
		return commit(ctx, w.groups.WithRepository(tx), actorID, action)
	})
	switch {
	case err == nil:
	case bizerror.KindOf(err) == bizerror.StorageFailure, err == bizerror.ErrNoConfirmation:
		return nil, err
	default:
		return nil, w.reject(ctx, c, err)
	}

	common.Log.WithFields(logrus.Fields{"actorId": actorID, "kind": kind, "groupId": action.TargetGroup()}).Info("confirmation committed")
	return action, nil
}

func commit(ctx context.Context, groups *membership.Service, actorID types.ID, action domain.Action) error {
	switch a := action.(type) {
	case domain.Disband:
		return groups.Disband(ctx, actorID, a.GroupID)
	case domain.Rename:
		_, err := groups.Rename(ctx, actorID, a.GroupID, a.NewName)
		return err
	case domain.AdminRename:
		_, err := groups.AdminRename(ctx, a.GroupID, a.NewName)
		return err
	}
	return fmt.Errorf("%w: unsupported action %T", bizerror.ErrInvalidInput, action)
}

func (w *Workflow) reject(ctx context.Context, c *domain.Confirmation, cause error) error {
	if _, err := w.repo.RemoveConfirmation(ctx, c.ActorID, c.Kind); err != nil {
		return err
	}
	common.Log.WithFields(logrus.Fields{"actorId": c.ActorID, "kind": c.Kind, "cause": cause}).Warn("stale confirmation rejected")
	return &bizerror.ErrStaleConfirmation{Cause: cause}
}

// Pending returns the live confirmation of kind, purging it when expired.
func (w *Workflow) Pending(ctx context.Context, actorID types.ID, kind domain.ConfirmationKind) (*domain.Confirmation, error) {
	c, err := w.repo.GetConfirmation(ctx, actorID, kind)
	if err != nil {
		return nil, err
	}
	if c.ExpiredAt(w.now()) {
		if _, err := w.repo.RemoveConfirmation(ctx, actorID, kind); err != nil {
			return nil, err
		}
		return nil, bizerror.ErrNoConfirmation
	}
	return c, nil
}

func (w *Workflow) Cancel(ctx context.Context, actorID types.ID, kind domain.ConfirmationKind) (bool, error) {
	return w.repo.RemoveConfirmation(ctx, actorID, kind)
}

func (w *Workflow) CancelAll(ctx context.Context, actorID types.ID) (int64, error) {
	return w.repo.RemoveConfirmations(ctx, actorID)
}

// Sweep removes every confirmation past its deadline.
func (w *Workflow) Sweep(ctx context.Context) (int64, error) {
	removed, err := w.repo.RemoveExpiredConfirmations(ctx, w.now())
	if err != nil {
		common.Log.WithError(err).Error("confirmation sweep failed")
		return 0, err
	}
	common.Log.WithFields(logrus.Fields{"removed": removed}).Info("expired confirmations swept")
	return removed, nil
}
