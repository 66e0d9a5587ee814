package group

import (
	"context"
	"time"

	"guildkeep/bizerror"
	"guildkeep/domain"

	"github.com/fundwit/go-commons/types"
	"github.com/jinzhu/gorm"
)

// AddInvite fails with ErrInvitePending when the invitee already holds one.
func (r *Repository) AddInvite(ctx context.Context, inv *domain.Invite) error {
	db, err := r.conn(ctx)
	if err != nil {
		return bizerror.Storage("add invite", err)
	}
	inv.IssuedAt = dbTimeCeil(inv.IssuedAt)
	if err := db.Create(inv).Error; err != nil {
		if isUniqueViolation(err) {
			return bizerror.ErrInvitePending
		}
		return bizerror.Storage("add invite", err)
	}
	return nil
}

func (r *Repository) GetInvite(ctx context.Context, inviteeID types.ID) (*domain.Invite, error) {
	db, err := r.conn(ctx)
	if err != nil {
		return nil, bizerror.Storage("get invite", err)
	}
	var inv domain.Invite
	if err := db.Where("invitee_id = ?", inviteeID).First(&inv).Error; err != nil {
		if gorm.IsRecordNotFoundError(err) {
			return nil, bizerror.ErrNoInvite
		}
		return nil, bizerror.Storage("get invite", err)
	}
	return &inv, nil
}

func (r *Repository) ListInvitesOfGroup(ctx context.Context, groupID types.ID) ([]domain.Invite, error) {
	db, err := r.conn(ctx)
	if err != nil {
		return nil, bizerror.Storage("list invites", err)
	}
	invites := []domain.Invite{}
	if err := db.Where("group_id = ?", groupID).Order("issued_at ASC").Find(&invites).Error; err != nil {
		return nil, bizerror.Storage("list invites", err)
	}
	return invites, nil
}

func (r *Repository) RemoveInvite(ctx context.Context, inviteeID types.ID) (bool, error) {
	db, err := r.conn(ctx)
	if err != nil {
		return false, bizerror.Storage("remove invite", err)
	}
	res := db.Where("invitee_id = ?", inviteeID).Delete(&domain.Invite{})
	if res.Error != nil {
		return false, bizerror.Storage("remove invite", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *Repository) RemoveInvitesOfGroup(ctx context.Context, groupID types.ID) (int64, error) {
	db, err := r.conn(ctx)
	if err != nil {
		return 0, bizerror.Storage("remove group invites", err)
	}
	res := db.Where("group_id = ?", groupID).Delete(&domain.Invite{})
	if res.Error != nil {
		return 0, bizerror.Storage("remove group invites", res.Error)
	}
	return res.RowsAffected, nil
}

// RemoveExpiredInvites deletes invites issued strictly before cutoff.
func (r *Repository) RemoveExpiredInvites(ctx context.Context, cutoff time.Time) (int64, error) {
	db, err := r.conn(ctx)
	if err != nil {
		return 0, bizerror.Storage("remove expired invites", err)
	}
	res := db.Where("issued_at < ?", dbTime(cutoff)).Delete(&domain.Invite{})
	if res.Error != nil {
		return 0, bizerror.Storage("remove expired invites", res.Error)
	}
	return res.RowsAffected, nil
}
