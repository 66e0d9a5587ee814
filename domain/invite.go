package domain

import (
	"time"

	"github.com/fundwit/go-commons/types"
)

// Invite is keyed by the invitee: at most one outstanding invite per member.
type Invite struct {
	InviteeID types.ID  `json:"inviteeId" gorm:"primary_key" sql:"type:BIGINT UNSIGNED NOT NULL"`
	GroupID   types.ID  `json:"groupId" gorm:"index:idx_invite_group" sql:"type:BIGINT UNSIGNED NOT NULL"`
	InviterID types.ID  `json:"inviterId" sql:"type:BIGINT UNSIGNED NOT NULL"`
	IssuedAt  time.Time `json:"issuedAt" gorm:"not null;index:idx_invite_issued"`
}

func (Invite) TableName() string {
	return "group_invites"
}

// ExpiredAt reports whether more than ttl elapsed between issue and now.
func (i *Invite) ExpiredAt(now time.Time, ttl time.Duration) bool {
	return now.Sub(i.IssuedAt) > ttl
}
