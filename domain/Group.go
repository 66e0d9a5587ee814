package domain

import (
	"strings"
	"time"

	"github.com/fundwit/go-commons/types"
)

// Group is the root aggregate. Members is resolved from the membership table
// and always contains LeaderID for a persisted group.
type Group struct {
	ID          types.ID  `json:"id" gorm:"primary_key" sql:"type:BIGINT UNSIGNED NOT NULL"`
	Name        string    `json:"name" sql:"type:VARCHAR(64) NOT NULL"`
	NameKey     string    `json:"-" gorm:"unique_index:uni_group_name_key" sql:"type:VARCHAR(64) NOT NULL"`
	LeaderID    types.ID  `json:"leaderId" gorm:"index:idx_group_leader" sql:"type:BIGINT UNSIGNED NOT NULL"`
	Description string    `json:"description" sql:"type:VARCHAR(255) NOT NULL DEFAULT ''"`
	CreateTime  time.Time `json:"createTime" gorm:"not null"`

	Members []types.ID `json:"members" gorm:"-"`
}

func (Group) TableName() string {
	return "guild_groups"
}

func (g *Group) HasMember(memberID types.ID) bool {
	for _, m := range g.Members {
		if m == memberID {
			return true
		}
	}
	return false
}

// Membership relates a member to the single group it belongs to. MemberID is
// the primary key, so the store itself rejects a second membership.
type Membership struct {
	MemberID types.ID  `json:"memberId" gorm:"primary_key" sql:"type:BIGINT UNSIGNED NOT NULL"`
	GroupID  types.ID  `json:"groupId" gorm:"index:idx_membership_group" sql:"type:BIGINT UNSIGNED NOT NULL"`
	JoinTime time.Time `json:"joinTime" gorm:"not null"`
}

func (Membership) TableName() string {
	return "group_memberships"
}

func NameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
