package audience

import (
	"context"
	"errors"

	"guildkeep/bizerror"
	"guildkeep/session"

	"github.com/fundwit/go-commons/types"
)

// MemberGroups resolves the group of a member.
type MemberGroups interface {
	GetMemberGroupID(ctx context.Context, memberID types.ID) (types.ID, error)
}

// Router sends plain chat of members in group chat mode to their group.
type Router struct {
	cache  *Cache
	modes  *session.ChatModes
	groups MemberGroups
}

func NewRouter(cache *Cache, modes *session.ChatModes, groups MemberGroups) *Router {
	return &Router{cache: cache, modes: modes, groups: groups}
}

// Route reports whether the message was taken over by group chat. A member
// who left the group falls back to public chat and loses the mode.
func (r *Router) Route(ctx context.Context, senderID types.ID, message string) (bool, error) {
	if !r.modes.Enabled(senderID) {
		return false, nil
	}
	groupID, err := r.groups.GetMemberGroupID(ctx, senderID)
	if errors.Is(err, bizerror.ErrNotMember) {
		r.modes.Clear(senderID)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if _, err := r.cache.Broadcast(ctx, groupID, message); err != nil {
		return true, err
	}
	return true, nil
}
