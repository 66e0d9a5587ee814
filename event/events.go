package event

import (
	"sync"
	"time"

	"github.com/fundwit/go-commons/types"
	"github.com/sirupsen/logrus"
)

type Category string

const (
	GroupCreated       Category = "GROUP_CREATED"
	GroupDisbanded     Category = "GROUP_DISBANDED"
	GroupRenamed       Category = "GROUP_RENAMED"
	DescriptionChanged Category = "DESCRIPTION_CHANGED"
	LeaderChanged      Category = "LEADER_CHANGED"
	MemberJoined       Category = "MEMBER_JOINED"
	MemberLeft         Category = "MEMBER_LEFT"
	MemberKicked       Category = "MEMBER_KICKED"
)

// MembershipChanged reports whether the roster of the group may differ after e.
func (c Category) MembershipChanged() bool {
	switch c {
	case GroupCreated, GroupDisbanded, MemberJoined, MemberLeft, MemberKicked:
		return true
	}
	return false
}

type GroupEvent struct {
	Category  Category
	GroupID   types.ID
	MemberID  types.ID
	ActorID   types.ID
	Timestamp time.Time
}

/*
return nil if not support
*/
type Handler func(e *GroupEvent) *HandleResult

type HandleResult struct {
	Success           bool
	Message           string
	HandlerIdentifier string
}

type Dispatcher struct {
	mu       sync.RWMutex
	handlers []Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

func (d *Dispatcher) Register(h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, h)
}

// Publish invokes every handler in registration order. A nil dispatcher
// drops the event.
func (d *Dispatcher) Publish(e *GroupEvent) []HandleResult {
	results := []HandleResult{}
	if d == nil {
		return results
	}
	d.mu.RLock()
	handlers := append([]Handler(nil), d.handlers...)
	d.mu.RUnlock()

	for _, handler := range handlers {
		logrus.Debug("pre handle event ", e.Category)
		r := handler(e)
		if r == nil {
			continue
		}
		results = append(results, *r)

		if r.Success {
			logrus.Debug("post handle event. ", r)
		} else {
			logrus.Error("post handler error. ", r)
		}
	}
	return results
}
