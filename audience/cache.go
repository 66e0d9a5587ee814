// Package audience resolves which members of a group can currently receive
// a message, without a storage round-trip per broadcast.
package audience

import (
	"context"
	"strconv"
	"sync"
	"time"

	"guildkeep/bizerror"
	"guildkeep/common"
	"guildkeep/domain"
	"guildkeep/event"

	"github.com/fundwit/go-commons/types"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

const DefaultRefreshPeriod = 5 * time.Minute

// GroupSource is the storage side of the cache.
type GroupSource interface {
	ListAllGroups(ctx context.Context) ([]domain.Group, error)
	GetGroupByID(ctx context.Context, id types.ID) (*domain.Group, error)
}

// Host is the game server side: who is online and how to reach them.
// Deliver implementations marshal onto whatever context the host requires.
type Host interface {
	Online(memberID types.ID) bool
	Deliver(memberID types.ID, message string) error
}

// Cache maps a group to its member roster. Entries expire after twice the
// refresh period, are rebuilt wholesale by Refresh, filled on a miss and
// dropped on every membership change event.
//
// A roster loaded before an invalidation of its group is never stored: every
// invalidation is stamped, and loads compare the stamp with the one current
// when they started reading.
type Cache struct {
	source  GroupSource
	host    Host
	entries *cache.Cache

	mu      sync.Mutex
	stamp   uint64
	dropped map[string]uint64
}

func NewCache(source GroupSource, host Host, refreshPeriod time.Duration) *Cache {
	if refreshPeriod <= 0 {
		refreshPeriod = DefaultRefreshPeriod
	}
	return &Cache{
		source:  source,
		host:    host,
		entries: cache.New(2*refreshPeriod, refreshPeriod),
		dropped: map[string]uint64{},
	}
}

func (c *Cache) currentStamp() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stamp
}

// store caches members unless the group was invalidated after since.
// Callers hold c.mu.
func (c *Cache) store(k string, members []types.ID, since uint64) {
	if c.dropped[k] > since {
		return
	}
	c.entries.Set(k, append([]types.ID(nil), members...), cache.DefaultExpiration)
}

func key(groupID types.ID) string {
	return strconv.FormatUint(uint64(groupID), 10)
}

// Refresh reloads every group and replaces the whole cache content.
func (c *Cache) Refresh(ctx context.Context) error {
	since := c.currentStamp()
	groups, err := c.source.ListAllGroups(ctx)
	if err != nil {
		common.Log.WithError(err).Error("audience refresh failed")
		return err
	}

	c.mu.Lock()
	fresh := make(map[string]struct{}, len(groups))
	for _, g := range groups {
		k := key(g.ID)
		fresh[k] = struct{}{}
		c.store(k, g.Members, since)
	}
	for k := range c.entries.Items() {
		if _, ok := fresh[k]; !ok {
			c.entries.Delete(k)
		}
	}
	for k := range c.dropped {
		if _, ok := fresh[k]; !ok {
			delete(c.dropped, k)
		}
	}
	c.mu.Unlock()
	common.Log.WithFields(logrus.Fields{"groups": len(groups)}).Debug("audience cache refreshed")
	return nil
}

// Members returns a copy of the cached roster of the group, loading it on a
// miss.
func (c *Cache) Members(ctx context.Context, groupID types.ID) ([]types.ID, error) {
	k := key(groupID)
	if v, found := c.entries.Get(k); found {
		return append([]types.ID(nil), v.([]types.ID)...), nil
	}
	since := c.currentStamp()
	g, err := c.source.GetGroupByID(ctx, groupID)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.store(k, g.Members, since)
	c.mu.Unlock()
	return append([]types.ID(nil), g.Members...), nil
}

// Audience returns the members of the group that are online right now.
func (c *Cache) Audience(ctx context.Context, groupID types.ID) ([]types.ID, error) {
	members, err := c.Members(ctx, groupID)
	if err != nil {
		return nil, err
	}
	online := make([]types.ID, 0, len(members))
	for _, m := range members {
		if c.host.Online(m) {
			online = append(online, m)
		}
	}
	return online, nil
}

// Broadcast delivers message to every reachable member and reports how many
// received it. ErrNoAudience means the group exists but nobody is online.
func (c *Cache) Broadcast(ctx context.Context, groupID types.ID, message string) (int, error) {
	audience, err := c.Audience(ctx, groupID)
	if err != nil {
		return 0, err
	}
	if len(audience) == 0 {
		return 0, bizerror.ErrNoAudience
	}
	delivered := 0
	for _, m := range audience {
		if err := c.host.Deliver(m, message); err != nil {
			common.Log.WithFields(logrus.Fields{"groupId": groupID, "memberId": m}).WithError(err).Warn("delivery failed")
			continue
		}
		delivered++
	}
	return delivered, nil
}

func (c *Cache) Invalidate(groupID types.ID) {
	k := key(groupID)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stamp++
	c.dropped[k] = c.stamp
	c.entries.Delete(k)
}

func (c *Cache) Size() int {
	return c.entries.ItemCount()
}

// HandleEvent drops the cached roster of a group whose membership changed.
func (c *Cache) HandleEvent(e *event.GroupEvent) *event.HandleResult {
	if !e.Category.MembershipChanged() {
		return nil
	}
	c.Invalidate(e.GroupID)
	return &event.HandleResult{Success: true, HandlerIdentifier: "audience-cache", Message: string(e.Category)}
}
