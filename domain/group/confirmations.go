package group

import (
	"context"
	"time"

	"guildkeep/bizerror"
	"guildkeep/domain"

	"github.com/fundwit/go-commons/types"
	"github.com/jinzhu/gorm"
)

// AddConfirmation replaces any pending confirmation of the same actor and kind.
func (r *Repository) AddConfirmation(ctx context.Context, c *domain.Confirmation) error {
	c.ExpiresAt = dbTimeCeil(c.ExpiresAt)
	return r.Transaction(ctx, func(tx *Repository) error {
		db, err := tx.conn(ctx)
		if err != nil {
			return bizerror.Storage("add confirmation", err)
		}
		if err := db.Where("actor_id = ? AND kind = ?", c.ActorID, c.Kind).Delete(&domain.Confirmation{}).Error; err != nil {
			return bizerror.Storage("add confirmation", err)
		}
		if err := db.Create(c).Error; err != nil {
			return bizerror.Storage("add confirmation", err)
		}
		return nil
	})
}

func (r *Repository) GetConfirmation(ctx context.Context, actorID types.ID, kind domain.ConfirmationKind) (*domain.Confirmation, error) {
	db, err := r.conn(ctx)
	if err != nil {
		return nil, bizerror.Storage("get confirmation", err)
	}
	var c domain.Confirmation
	if err := db.Where("actor_id = ? AND kind = ?", actorID, kind).First(&c).Error; err != nil {
		if gorm.IsRecordNotFoundError(err) {
			return nil, bizerror.ErrNoConfirmation
		}
		return nil, bizerror.Storage("get confirmation", err)
	}
	return &c, nil
}

func (r *Repository) RemoveConfirmation(ctx context.Context, actorID types.ID, kind domain.ConfirmationKind) (bool, error) {
	db, err := r.conn(ctx)
	if err != nil {
		return false, bizerror.Storage("remove confirmation", err)
	}
	res := db.Where("actor_id = ? AND kind = ?", actorID, kind).Delete(&domain.Confirmation{})
	if res.Error != nil {
		return false, bizerror.Storage("remove confirmation", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// RemoveConfirmations drops every pending confirmation of the actor.
func (r *Repository) RemoveConfirmations(ctx context.Context, actorID types.ID) (int64, error) {
	return r.deleteConfirmations(ctx, "remove actor confirmations", "actor_id = ?", actorID)
}

func (r *Repository) RemoveConfirmationsOfGroup(ctx context.Context, groupID types.ID) (int64, error) {
	return r.deleteConfirmations(ctx, "remove group confirmations", "group_id = ?", groupID)
}

// RemoveExpiredConfirmations deletes confirmations whose deadline is strictly
// before cutoff.
func (r *Repository) RemoveExpiredConfirmations(ctx context.Context, cutoff time.Time) (int64, error) {
	return r.deleteConfirmations(ctx, "remove expired confirmations", "expires_at < ?", dbTime(cutoff))
}

func (r *Repository) deleteConfirmations(ctx context.Context, op string, query string, args ...interface{}) (int64, error) {
	db, err := r.conn(ctx)
	if err != nil {
		return 0, bizerror.Storage(op, err)
	}
	res := db.Where(query, args...).Delete(&domain.Confirmation{})
	if res.Error != nil {
		return 0, bizerror.Storage(op, res.Error)
	}
	return res.RowsAffected, nil
}
