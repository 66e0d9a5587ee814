package membership

import (
	"context"

	"guildkeep/domain"

	"github.com/fundwit/go-commons/types"
)

func (s *Service) Group(ctx context.Context, groupID types.ID) (*domain.Group, error) {
	return s.repo.GetGroupByID(ctx, groupID)
}

// FindGroup looks a group up by name, ignoring case.
func (s *Service) FindGroup(ctx context.Context, name string) (*domain.Group, error) {
	return s.repo.GetGroupByName(ctx, name, true)
}

func (s *Service) GroupOf(ctx context.Context, memberID types.ID) (*domain.Group, error) {
	gid, err := s.repo.GetMemberGroupID(ctx, memberID)
	if err != nil {
		return nil, err
	}
	return s.repo.GetGroupByID(ctx, gid)
}

func (s *Service) GroupLedBy(ctx context.Context, leaderID types.ID) (*domain.Group, error) {
	return s.ledBy(ctx, s.repo, leaderID)
}

func (s *Service) ListGroups(ctx context.Context) ([]domain.Group, error) {
	return s.repo.ListAllGroups(ctx)
}
