// Package invite issues time-boxed invitations into a group.
package invite

import (
	"context"
	"errors"
	"time"

	"guildkeep/bizerror"
	"guildkeep/common"
	"guildkeep/domain"
	"guildkeep/domain/group"
	"guildkeep/domain/membership"

	"github.com/fundwit/go-commons/types"
	"github.com/sirupsen/logrus"
)

const DefaultTTL = time.Hour

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

// Issue invites inviteeID into the group led by leaderID. An expired invite
// still waiting for the sweep does not block a new one.
func (w *Workflow) Issue(ctx context.Context, leaderID, inviteeID types.ID) (*domain.Invite, error) {
	if leaderID == inviteeID {
		return nil, bizerror.ErrSelfTarget
	}
	g, err := w.groups.GroupLedBy(ctx, leaderID)
	if err != nil {
		return nil, err
	}
	if _, err := w.repo.GetMemberGroupID(ctx, inviteeID); err == nil {
		return nil, bizerror.ErrAlreadyMember
	} else if !errors.Is(err, bizerror.ErrNotMember) {
		return nil, err
	}

	now := w.now()
	if existing, err := w.repo.GetInvite(ctx, inviteeID); err == nil {
		if !existing.ExpiredAt(now, w.ttl) {
			return nil, bizerror.ErrInvitePending
		}
		if _, err := w.repo.RemoveInvite(ctx, inviteeID); err != nil {
			return nil, err
		}
	} else if !errors.Is(err, bizerror.ErrNoInvite) {
		return nil, err
	}

	inv := &domain.Invite{InviteeID: inviteeID, GroupID: g.ID, InviterID: leaderID, IssuedAt: now}
	if err := w.repo.AddInvite(ctx, inv); err != nil {
		return nil, err
	}

	common.Log.WithFields(logrus.Fields{"groupId": g.ID, "inviterId": leaderID, "inviteeId": inviteeID}).Info("invite issued")
	return inv, nil
}

// Accept joins the invitee to the inviting group. Every precondition is
// re-checked inside one transaction: the invite is live, the invitee joined
// no group meanwhile and the group still exists. Stale invites are removed.
func (w *Workflow) Accept(ctx context.Context, inviteeID types.ID) (*domain.Group, error) {
	inv, err := w.repo.GetInvite(ctx, inviteeID)
	if err != nil {
		return nil, err
	}
	if inv.ExpiredAt(w.now(), w.ttl) {
		return nil, w.discard(ctx, inv, bizerror.ErrInviteExpired)
	}

	var joined *domain.Group
	err = w.repo.Transaction(ctx, func(tx *group.Repository) error {
		removed, err := tx.RemoveInvite(ctx, inviteeID)
		if err != nil {
			return err
		}
		if !removed {
			return bizerror.ErrNoInvite
		}
		if _, err := tx.GetMemberGroupID(ctx, inviteeID); err == nil {
			return bizerror.ErrAlreadyMember
		} else if !errors.Is(err, bizerror.ErrNotMember) {
			return err
		}
		if err := w.groups.WithRepository(tx).AddMember(ctx, inv.GroupID, inviteeID); err != nil {
			if errors.Is(err, bizerror.ErrGroupNotFound) {
				return bizerror.ErrInviteStale
			}
			return err
		}
		joined, err = tx.GetGroupByID(ctx, inv.GroupID)
		return err
	})
	switch {
	case err == nil:
	case errors.Is(err, bizerror.ErrInviteStale), errors.Is(err, bizerror.ErrAlreadyMember):
		return nil, w.discard(ctx, inv, err)
	default:
		return nil, err
	}

	common.Log.WithFields(logrus.Fields{"groupId": inv.GroupID, "memberId": inviteeID}).Info("invite accepted")
	return joined, nil
}

func (w *Workflow) discard(ctx context.Context, inv *domain.Invite, cause error) error {
	if _, err := w.repo.RemoveInvite(ctx, inv.InviteeID); err != nil {
		return err
	}
	common.Log.WithFields(logrus.Fields{"groupId": inv.GroupID, "inviteeId": inv.InviteeID, "cause": cause}).Warn("stale invite discarded")
	return cause
}

// Decline drops the invitee's pending invite.
func (w *Workflow) Decline(ctx context.Context, inviteeID types.ID) (bool, error) {
	return w.repo.RemoveInvite(ctx, inviteeID)
}

// Cancel withdraws an invite issued into the group led by leaderID.
func (w *Workflow) Cancel(ctx context.Context, leaderID, inviteeID types.ID) (bool, error) {
	g, err := w.groups.GroupLedBy(ctx, leaderID)
	if err != nil {
		return false, err
	}
	inv, err := w.repo.GetInvite(ctx, inviteeID)
	if err != nil {
		return false, err
	}
	if inv.GroupID != g.ID {
		return false, bizerror.ErrNoInvite
	}
	return w.repo.RemoveInvite(ctx, inviteeID)
}

// PendingFor returns the live invite of the member; expired ones count as absent.
func (w *Workflow) PendingFor(ctx context.Context, inviteeID types.ID) (*domain.Invite, error) {
	inv, err := w.repo.GetInvite(ctx, inviteeID)
	if err != nil {
		return nil, err
	}
	if inv.ExpiredAt(w.now(), w.ttl) {
		return nil, bizerror.ErrNoInvite
	}
	return inv, nil
}

func (w *Workflow) InvitesOf(ctx context.Context, groupID types.ID) ([]domain.Invite, error) {
	invites, err := w.repo.ListInvitesOfGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	now := w.now()
	live := invites[:0]
	for _, inv := range invites {
		if !inv.ExpiredAt(now, w.ttl) {
			live = append(live, inv)
		}
	}
	return live, nil
}

// Sweep removes invites older than the TTL and reports how many were removed.
func (w *Workflow) Sweep(ctx context.Context) (int64, error) {
	removed, err := w.repo.RemoveExpiredInvites(ctx, w.now().Add(-w.ttl))
	if err != nil {
		common.Log.WithError(err).Error("invite sweep failed")
		return 0, err
	}
	common.Log.WithFields(logrus.Fields{"removed": removed}).Info("expired invites swept")
	return removed, nil
}
