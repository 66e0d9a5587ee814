package session

import (
	"strconv"
	"time"

	"github.com/fundwit/go-commons/types"
	"github.com/patrickmn/go-cache"
)

const ChatModeExpiration = 24 * time.Hour

// ChatModes remembers, per member, whether plain chat goes to the group
// instead of the public channel. It is owned by the presentation layer and
// forgotten after ChatModeExpiration without use.
type ChatModes struct {
	modes *cache.Cache
}

func NewChatModes(expiration time.Duration) *ChatModes {
	if expiration <= 0 {
		expiration = ChatModeExpiration
	}
	return &ChatModes{modes: cache.New(expiration, time.Minute)}
}

func chatKey(memberID types.ID) string {
	return strconv.FormatUint(uint64(memberID), 10)
}

func (c *ChatModes) Enabled(memberID types.ID) bool {
	v, found := c.modes.Get(chatKey(memberID))
	if !found {
		return false
	}
	enabled, ok := v.(bool)
	if ok && enabled {
		// refresh the idle expiration
		c.modes.SetDefault(chatKey(memberID), true)
	}
	return ok && enabled
}

func (c *ChatModes) Set(memberID types.ID, enabled bool) {
	if !enabled {
		c.modes.Delete(chatKey(memberID))
		return
	}
	c.modes.SetDefault(chatKey(memberID), true)
}

// Toggle flips the chat mode and returns the new value.
func (c *ChatModes) Toggle(memberID types.ID) bool {
	enabled := !c.Enabled(memberID)
	c.Set(memberID, enabled)
	return enabled
}

func (c *ChatModes) Clear(memberID types.ID) {
	c.modes.Delete(chatKey(memberID))
}
