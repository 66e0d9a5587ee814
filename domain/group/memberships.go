package group

import (
	"context"
	"time"

	"guildkeep/bizerror"
	"guildkeep/domain"

	"github.com/fundwit/go-commons/types"
	"github.com/jinzhu/gorm"
)

// AddMember is idempotent for a member already in groupID and fails with
// ErrAlreadyMember when the member belongs to another group.
func (r *Repository) AddMember(ctx context.Context, groupID, memberID types.ID) error {
	db, err := r.conn(ctx)
	if err != nil {
		return bizerror.Storage("add member", err)
	}
	if current, err := memberGroup(db, memberID); err != nil {
		return bizerror.Storage("add member", err)
	} else if current != 0 {
		if current == groupID {
			return nil
		}
		return bizerror.ErrAlreadyMember
	}

	m := domain.Membership{MemberID: memberID, GroupID: groupID, JoinTime: dbTime(time.Now())}
	if err := db.Create(&m).Error; err != nil {
		if isUniqueViolation(err) {
			if current, _ := memberGroup(db, memberID); current == groupID {
				return nil
			}
			return bizerror.ErrAlreadyMember
		}
		return bizerror.Storage("add member", err)
	}
	return nil
}

// RemoveMember reports false when the member was not in the group.
func (r *Repository) RemoveMember(ctx context.Context, groupID, memberID types.ID) (bool, error) {
	db, err := r.conn(ctx)
	if err != nil {
		return false, bizerror.Storage("remove member", err)
	}
	res := db.Where("group_id = ? AND member_id = ?", groupID, memberID).Delete(&domain.Membership{})
	if res.Error != nil {
		return false, bizerror.Storage("remove member", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *Repository) IsMember(ctx context.Context, groupID, memberID types.ID) (bool, error) {
	db, err := r.conn(ctx)
	if err != nil {
		return false, bizerror.Storage("is member", err)
	}
	var count int
	if err := db.Model(&domain.Membership{}).Where("group_id = ? AND member_id = ?", groupID, memberID).Count(&count).Error; err != nil {
		return false, bizerror.Storage("is member", err)
	}
	return count > 0, nil
}

// GetMemberGroupID fails with ErrNotMember when the member has no group.
func (r *Repository) GetMemberGroupID(ctx context.Context, memberID types.ID) (types.ID, error) {
	db, err := r.conn(ctx)
	if err != nil {
		return 0, bizerror.Storage("get member group", err)
	}
	gid, err := memberGroup(db, memberID)
	if err != nil {
		return 0, bizerror.Storage("get member group", err)
	}
	if gid == 0 {
		return 0, bizerror.ErrNotMember
	}
	return gid, nil
}

func (r *Repository) Members(ctx context.Context, groupID types.ID) ([]types.ID, error) {
	db, err := r.conn(ctx)
	if err != nil {
		return nil, bizerror.Storage("list members", err)
	}
	members, err := membersOf(db, groupID)
	if err != nil {
		return nil, bizerror.Storage("list members", err)
	}
	return members, nil
}

func memberGroup(db *gorm.DB, memberID types.ID) (types.ID, error) {
	var m domain.Membership
	if err := db.Where("member_id = ?", memberID).First(&m).Error; err != nil {
		if gorm.IsRecordNotFoundError(err) {
			return 0, nil
		}
		return 0, err
	}
	return m.GroupID, nil
}
