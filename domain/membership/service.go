package membership

import (
	"context"
	"errors"
	"time"

	"guildkeep/bizerror"
	"guildkeep/common"
	"guildkeep/domain"
	"guildkeep/domain/group"
	"guildkeep/event"
	"guildkeep/idgen"

	"github.com/fundwit/go-commons/types"
	"github.com/sirupsen/logrus"
	"github.com/sony/sonyflake"
)

// Service keeps the group invariants true over the repository: the leader
// is a member, a member belongs to one group, a group is never empty.
// Advisory checks run before a write; the store's unique keys settle races.
type Service struct {
	repo     *group.Repository
	rules    domain.Rules
	events   *event.Dispatcher
	idWorker *sonyflake.Sonyflake
	now      func() time.Time
}

func NewService(repo *group.Repository, rules domain.Rules, events *event.Dispatcher) *Service {
	return &Service{
		repo:     repo,
		rules:    rules,
		events:   events,
		idWorker: idgen.NewWorker(),
		now:      time.Now,
	}
}

// WithRepository returns a copy of s operating on repo, typically a
// transaction-bound repository of a caller's workflow.
func (s *Service) WithRepository(repo *group.Repository) *Service {
	c := *s
	c.repo = repo
	return &c
}

func (s *Service) WithClock(now func() time.Time) *Service {
	c := *s
	c.now = now
	return &c
}

func (s *Service) Rules() domain.Rules {
	return s.rules
}

func (s *Service) publish(tx *group.Repository, category event.Category, groupID, memberID, actorID types.ID) {
	e := &event.GroupEvent{Category: category, GroupID: groupID, MemberID: memberID, ActorID: actorID, Timestamp: s.now()}
	tx.AfterCommit(func() {
		s.events.Publish(e)
	})
}

func (s *Service) Create(ctx context.Context, actorID types.ID, name string) (*domain.Group, error) {
	if err := s.rules.ValidateName(name); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetMemberGroupID(ctx, actorID); err == nil {
		return nil, bizerror.ErrAlreadyMember
	} else if !errors.Is(err, bizerror.ErrNotMember) {
		return nil, err
	}
	if _, err := s.repo.GetGroupByName(ctx, name, true); err == nil {
		return nil, bizerror.ErrNameTaken
	} else if !errors.Is(err, bizerror.ErrGroupNotFound) {
		return nil, err
	}

	g := &domain.Group{ID: idgen.NextID(s.idWorker), Name: name, LeaderID: actorID, CreateTime: s.now()}
	err := s.repo.Transaction(ctx, func(tx *group.Repository) error {
		if err := tx.CreateGroup(ctx, g); err != nil {
			return err
		}
		if err := tx.AddMember(ctx, g.ID, actorID); err != nil {
			return err
		}
		s.publish(tx, event.GroupCreated, g.ID, actorID, actorID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	g.Members = []types.ID{actorID}

	common.Log.WithFields(logrus.Fields{"groupId": g.ID, "name": g.Name, "leaderId": actorID}).Info("group created")
	return g, nil
}

type LeaveResult struct {
	GroupID types.ID
	// NewLeaderID is set when the leader left and leadership moved.
	NewLeaderID types.ID
}

// Leave removes the actor from its group. A leader hands leadership to the
// member with the lowest id first; a sole leader must disband instead.
func (s *Service) Leave(ctx context.Context, actorID types.ID) (*LeaveResult, error) {
	result := &LeaveResult{}
	err := s.repo.Transaction(ctx, func(tx *group.Repository) error {
		gid, err := tx.GetMemberGroupID(ctx, actorID)
		if err != nil {
			return err
		}
		g, err := tx.GetGroupByID(ctx, gid)
		if err != nil {
			return err
		}
		result.GroupID = g.ID

		if g.LeaderID == actorID {
			successor := successorOf(g, actorID)
			if successor == 0 {
				return bizerror.ErrDisbandRequired
			}
			g.LeaderID = successor
			if _, err := tx.UpdateGroup(ctx, g); err != nil {
				return err
			}
			result.NewLeaderID = successor
			s.publish(tx, event.LeaderChanged, g.ID, successor, actorID)
		}

		removed, err := tx.RemoveMember(ctx, g.ID, actorID)
		if err != nil {
			return err
		}
		if !removed {
			return bizerror.ErrAlreadyRemoved
		}
		s.publish(tx, event.MemberLeft, g.ID, actorID, actorID)
		return nil
	})
	if err != nil {
		return nil, err
	}

	common.Log.WithFields(logrus.Fields{"groupId": result.GroupID, "memberId": actorID, "newLeaderId": result.NewLeaderID}).Info("member left group")
	return result, nil
}

// successorOf picks the lowest member id other than leaderID, 0 if none.
func successorOf(g *domain.Group, leaderID types.ID) types.ID {
	var successor types.ID
	for _, m := range g.Members {
		if m == leaderID {
			continue
		}
		if successor == 0 || m < successor {
			successor = m
		}
	}
	return successor
}

// Kick removes target from the group led by leaderID.
func (s *Service) Kick(ctx context.Context, leaderID, targetID types.ID) error {
	if leaderID == targetID {
		return bizerror.ErrSelfTarget
	}
	var groupID types.ID
	err := s.repo.Transaction(ctx, func(tx *group.Repository) error {
		g, err := s.ledBy(ctx, tx, leaderID)
		if err != nil {
			return err
		}
		groupID = g.ID
		// a target gone from the group lost a race with its own leave
		if !g.HasMember(targetID) {
			return bizerror.ErrAlreadyRemoved
		}
		removed, err := tx.RemoveMember(ctx, g.ID, targetID)
		if err != nil {
			return err
		}
		if !removed {
			return bizerror.ErrAlreadyRemoved
		}
		s.publish(tx, event.MemberKicked, g.ID, targetID, leaderID)
		return nil
	})
	if err != nil {
		return err
	}

	common.Log.WithFields(logrus.Fields{"groupId": groupID, "memberId": targetID, "actorId": leaderID}).Info("member kicked")
	return nil
}

// AddMember joins memberID to groupID. The group row stays locked until
// commit, so a concurrent disband cannot leave the membership orphaned.
func (s *Service) AddMember(ctx context.Context, groupID, memberID types.ID) error {
	return s.repo.Transaction(ctx, func(tx *group.Repository) error {
		if _, err := tx.GetGroupForUpdate(ctx, groupID); err != nil {
			return err
		}
		if err := tx.AddMember(ctx, groupID, memberID); err != nil {
			return err
		}
		s.publish(tx, event.MemberJoined, groupID, memberID, memberID)
		return nil
	})
}

// RemoveMember removes a non-leader member. The leader cannot be removed
// directly; it has to leave, transfer leadership or disband.
func (s *Service) RemoveMember(ctx context.Context, groupID, memberID types.ID) (bool, error) {
	removed := false
	err := s.repo.Transaction(ctx, func(tx *group.Repository) error {
		g, err := tx.GetGroupByID(ctx, groupID)
		if err != nil {
			return err
		}
		if g.LeaderID == memberID {
			return bizerror.ErrLeaderRemoval
		}
		if removed, err = tx.RemoveMember(ctx, groupID, memberID); err != nil {
			return err
		}
		if removed {
			s.publish(tx, event.MemberLeft, groupID, memberID, 0)
		}
		return nil
	})
	return removed, err
}

func (s *Service) ledBy(ctx context.Context, tx *group.Repository, leaderID types.ID) (*domain.Group, error) {
	g, err := tx.GetGroupByLeader(ctx, leaderID)
	if errors.Is(err, bizerror.ErrGroupNotFound) {
		return nil, bizerror.ErrNotLeader
	}
	return g, err
}
