package domain

import (
	"fmt"
	"time"

	"github.com/fundwit/go-commons/types"
)

type ConfirmationKind string

const (
	KindDisband     ConfirmationKind = "disband"
	KindRename      ConfirmationKind = "rename"
	KindAdminRename ConfirmationKind = "admin-rename"
)

// Action is the committed intent behind a pending confirmation.
// Implementations: Disband, Rename, AdminRename.
type Action interface {
	Kind() ConfirmationKind
	TargetGroup() types.ID
}

type Disband struct {
	GroupID types.ID
}

func (a Disband) Kind() ConfirmationKind { return KindDisband }

func (a Disband) TargetGroup() types.ID { return a.GroupID }

type Rename struct {
	GroupID types.ID
	NewName string
}

func (a Rename) Kind() ConfirmationKind { return KindRename }

func (a Rename) TargetGroup() types.ID { return a.GroupID }

type AdminRename struct {
	GroupID types.ID
	NewName string
}

func (a AdminRename) Kind() ConfirmationKind { return KindAdminRename }

func (a AdminRename) TargetGroup() types.ID { return a.GroupID }

// Confirmation is the persisted form of a pending action, one row per
// (actor, kind). The payload lives in typed columns.
type Confirmation struct {
	ActorID   types.ID         `json:"actorId" gorm:"primary_key" sql:"type:BIGINT UNSIGNED NOT NULL"`
	Kind      ConfirmationKind `json:"kind" gorm:"primary_key" sql:"type:VARCHAR(32) NOT NULL"`
	GroupID   *types.ID        `json:"groupId,omitempty" gorm:"index:idx_confirmation_group" sql:"type:BIGINT UNSIGNED NULL"`
	NewName   string           `json:"newName,omitempty" sql:"type:VARCHAR(64) NOT NULL DEFAULT ''"`
	ExpiresAt time.Time        `json:"expiresAt" gorm:"not null;index:idx_confirmation_expires"`
}

func (Confirmation) TableName() string {
	return "group_confirmations"
}

func NewConfirmation(actorID types.ID, action Action, expiresAt time.Time) Confirmation {
	c := Confirmation{ActorID: actorID, Kind: action.Kind(), ExpiresAt: expiresAt}
	if gid := action.TargetGroup(); gid != 0 {
		c.GroupID = &gid
	}
	switch a := action.(type) {
	case Rename:
		c.NewName = a.NewName
	case AdminRename:
		c.NewName = a.NewName
	}
	return c
}

func (c *Confirmation) Action() (Action, error) {
	var gid types.ID
	if c.GroupID != nil {
		gid = *c.GroupID
	}
	switch c.Kind {
	case KindDisband:
		return Disband{GroupID: gid}, nil
	case KindRename:
		return Rename{GroupID: gid, NewName: c.NewName}, nil
	case KindAdminRename:
		return AdminRename{GroupID: gid, NewName: c.NewName}, nil
	}
	return nil, fmt.Errorf("unknown confirmation kind %q", c.Kind)
}

// ExpiredAt is true once now is strictly after ExpiresAt.
func (c *Confirmation) ExpiredAt(now time.Time) bool {
	return now.After(c.ExpiresAt)
}
