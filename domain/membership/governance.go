package membership

import (
	"context"
	"errors"

	"guildkeep/bizerror"
	"guildkeep/common"
	"guildkeep/domain"
	"guildkeep/domain/group"
	"guildkeep/event"

	"github.com/fundwit/go-commons/types"
	"github.com/sirupsen/logrus"
)

// CheckRename validates a rename of the group led by leaderID without
// writing anything. Confirmations call it when proposing.
func (s *Service) CheckRename(ctx context.Context, leaderID types.ID, newName string) (*domain.Group, error) {
	g, err := s.ledBy(ctx, s.repo, leaderID)
	if err != nil {
		return nil, err
	}
	if err := s.checkName(ctx, s.repo, g.ID, newName); err != nil {
		return nil, err
	}
	return g, nil
}

// CheckAdminRename validates a rename of any group.
func (s *Service) CheckAdminRename(ctx context.Context, groupID types.ID, newName string) (*domain.Group, error) {
	g, err := s.repo.GetGroupByID(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if err := s.checkName(ctx, s.repo, g.ID, newName); err != nil {
		return nil, err
	}
	return g, nil
}

func (s *Service) checkName(ctx context.Context, repo *group.Repository, groupID types.ID, newName string) error {
	if err := s.rules.ValidateName(newName); err != nil {
		return err
	}
	existing, err := repo.GetGroupByName(ctx, newName, true)
	if errors.Is(err, bizerror.ErrGroupNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if existing.ID != groupID {
		return bizerror.ErrNameTaken
	}
	return nil
}

// Rename commits a rename of groupID by its leader. Every precondition is
// checked again here, whatever was checked when the rename was proposed.
func (s *Service) Rename(ctx context.Context, leaderID, groupID types.ID, newName string) (*domain.Group, error) {
	return s.rename(ctx, leaderID, groupID, newName, true)
}

func (s *Service) AdminRename(ctx context.Context, groupID types.ID, newName string) (*domain.Group, error) {
	return s.rename(ctx, 0, groupID, newName, false)
}

func (s *Service) rename(ctx context.Context, actorID, groupID types.ID, newName string, leaderOnly bool) (*domain.Group, error) {
	var g *domain.Group
	err := s.repo.Transaction(ctx, func(tx *group.Repository) error {
		var err error
		if g, err = tx.GetGroupByID(ctx, groupID); err != nil {
			return err
		}
		if leaderOnly && g.LeaderID != actorID {
			return bizerror.ErrNotLeader
		}
		if err := s.checkName(ctx, tx, g.ID, newName); err != nil {
			return err
		}
		g.Name = newName
		if _, err := tx.UpdateGroup(ctx, g); err != nil {
			return err
		}
		s.publish(tx, event.GroupRenamed, g.ID, 0, actorID)
		return nil
	})
	if err != nil {
		return nil, err
	}

	common.Log.WithFields(logrus.Fields{"groupId": g.ID, "name": newName, "actorId": actorID}).Info("group renamed")
	return g, nil
}

func (s *Service) SetDescription(ctx context.Context, leaderID types.ID, description string) (*domain.Group, error) {
	if err := s.rules.ValidateDescription(description); err != nil {
		return nil, err
	}
	var g *domain.Group
	err := s.repo.Transaction(ctx, func(tx *group.Repository) error {
		var err error
		if g, err = s.ledBy(ctx, tx, leaderID); err != nil {
			return err
		}
		g.Description = description
		if _, err := tx.UpdateGroup(ctx, g); err != nil {
			return err
		}
		s.publish(tx, event.DescriptionChanged, g.ID, 0, leaderID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}

// TransferLeadership hands the group led by leaderID to another member.
func (s *Service) TransferLeadership(ctx context.Context, leaderID, newLeaderID types.ID) (*domain.Group, error) {
	if leaderID == newLeaderID {
		return nil, bizerror.ErrSelfTarget
	}
	var g *domain.Group
	err := s.repo.Transaction(ctx, func(tx *group.Repository) error {
		var err error
		if g, err = s.ledBy(ctx, tx, leaderID); err != nil {
			return err
		}
		return s.setLeader(ctx, tx, g, newLeaderID, leaderID)
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}

func (s *Service) AdminSetLeader(ctx context.Context, groupID, newLeaderID types.ID) (*domain.Group, error) {
	var g *domain.Group
	err := s.repo.Transaction(ctx, func(tx *group.Repository) error {
		var err error
		if g, err = tx.GetGroupByID(ctx, groupID); err != nil {
			return err
		}
		return s.setLeader(ctx, tx, g, newLeaderID, 0)
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}

func (s *Service) setLeader(ctx context.Context, tx *group.Repository, g *domain.Group, newLeaderID, actorID types.ID) error {
	if !g.HasMember(newLeaderID) {
		return bizerror.ErrNotMember
	}
	if g.LeaderID == newLeaderID {
		return nil
	}
	previous := g.LeaderID
	g.LeaderID = newLeaderID
	if _, err := tx.UpdateGroup(ctx, g); err != nil {
		return err
	}
	s.publish(tx, event.LeaderChanged, g.ID, newLeaderID, actorID)

	common.Log.WithFields(logrus.Fields{"groupId": g.ID, "previousLeaderId": previous, "leaderId": newLeaderID}).Info("leadership transferred")
	return nil
}

// Disband deletes the group led by leaderID together with its memberships,
// pending invites and confirmations.
func (s *Service) Disband(ctx context.Context, leaderID, groupID types.ID) error {
	return s.disband(ctx, leaderID, groupID, true)
}

func (s *Service) AdminDisband(ctx context.Context, groupID types.ID) error {
	return s.disband(ctx, 0, groupID, false)
}

func (s *Service) disband(ctx context.Context, actorID, groupID types.ID, leaderOnly bool) error {
	var invites, confirmations int64
	err := s.repo.Transaction(ctx, func(tx *group.Repository) error {
		g, err := tx.GetGroupForUpdate(ctx, groupID)
		if err != nil {
			return err
		}
		if leaderOnly && g.LeaderID != actorID {
			return bizerror.ErrNotLeader
		}
		if invites, err = tx.RemoveInvitesOfGroup(ctx, g.ID); err != nil {
			return err
		}
		if confirmations, err = tx.RemoveConfirmationsOfGroup(ctx, g.ID); err != nil {
			return err
		}
		deleted, err := tx.DeleteGroup(ctx, g.ID)
		if err != nil {
			return err
		}
		if !deleted {
			return bizerror.ErrGroupNotFound
		}
		s.publish(tx, event.GroupDisbanded, g.ID, 0, actorID)
		return nil
	})
	if err != nil {
		return err
	}

	common.Log.WithFields(logrus.Fields{
		"groupId": groupID, "actorId": actorID, "invites": invites, "confirmations": confirmations,
	}).Info("group disbanded")
	return nil
}
