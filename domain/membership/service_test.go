package membership_test

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"guildkeep/bizerror"
	"guildkeep/domain"
	"guildkeep/domain/group"
	"guildkeep/domain/membership"
	"guildkeep/event"
	"guildkeep/testinfra"

	"github.com/fundwit/go-commons/types"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Service", func() {
	var (
		testDatabase *testinfra.TestDatabase
		repo         *group.Repository
		svc          *membership.Service
		ctx          context.Context
		events       []event.GroupEvent
		mu           sync.Mutex
	)

	BeforeEach(func() {
		testDatabase = testinfra.StartTestDatabase("guildkeep")
		Expect(group.Migrate(testDatabase.DS)).To(Succeed())
		repo = group.NewRepository(testDatabase.DS)
		ctx = context.Background()

		events = nil
		dispatcher := event.NewDispatcher()
		dispatcher.Register(func(e *event.GroupEvent) *event.HandleResult {
			mu.Lock()
			defer mu.Unlock()
			events = append(events, *e)
			return &event.HandleResult{Success: true, HandlerIdentifier: "recorder"}
		})
		svc = membership.NewService(repo, domain.DefaultRules, dispatcher)
	})
	AfterEach(func() {
		testinfra.StopTestDatabase(testDatabase)
	})

	categories := func() []event.Category {
		mu.Lock()
		defer mu.Unlock()
		out := []event.Category{}
		for _, e := range events {
			out = append(out, e.Category)
		}
		return out
	}

	newGroup := func(leader types.ID, name string, members ...types.ID) *domain.Group {
		g, err := svc.Create(ctx, leader, name)
		Expect(err).To(BeNil())
		for _, m := range members {
			Expect(svc.AddMember(ctx, g.ID, m)).To(Succeed())
		}
		return g
	}

	Describe("Create", func() {
		It("should create a group led by its only member", func() {
			g, err := svc.Create(ctx, 1, "Knights")
			Expect(err).To(BeNil())
			Expect(g.ID).ToNot(BeZero())
			Expect(g.LeaderID).To(Equal(types.ID(1)))
			Expect(g.Members).To(Equal([]types.ID{1}))

			byID, err := svc.Group(ctx, g.ID)
			Expect(err).To(BeNil())
			Expect(byID.Name).To(Equal("Knights"))

			byName, err := svc.FindGroup(ctx, "KNIGHTS")
			Expect(err).To(BeNil())
			Expect(byName.ID).To(Equal(g.ID))

			byLeader, err := svc.GroupLedBy(ctx, 1)
			Expect(err).To(BeNil())
			Expect(byLeader.ID).To(Equal(g.ID))

			Expect(categories()).To(Equal([]event.Category{event.GroupCreated}))
		})

		It("should validate the name", func() {
			_, err := svc.Create(ctx, 1, "ab")
			Expect(bizerror.KindOf(err)).To(Equal(bizerror.InvalidInput))
			_, err = svc.Create(ctx, 1, "knights of ni!")
			Expect(errors.Is(err, bizerror.ErrInvalidName)).To(BeTrue())
			Expect(categories()).To(BeEmpty())
		})

		It("should reject a taken name and a member of another group", func() {
			newGroup(1, "Knights")

			_, err := svc.Create(ctx, 2, "knights")
			Expect(err).To(Equal(bizerror.ErrNameTaken))
			_, err = svc.Create(ctx, 1, "Rogues")
			Expect(err).To(Equal(bizerror.ErrAlreadyMember))

			groups, err := svc.ListGroups(ctx)
			Expect(err).To(BeNil())
			Expect(groups).To(HaveLen(1))
		})
	})

	Describe("AddMember and RemoveMember", func() {
		It("should be idempotent and protect the leader", func() {
			g := newGroup(1, "Knights", 2)
			Expect(svc.AddMember(ctx, g.ID, 2)).To(Succeed())

			removed, err := svc.RemoveMember(ctx, g.ID, 1)
			Expect(err).To(Equal(bizerror.ErrLeaderRemoval))
			Expect(bizerror.KindOf(err)).To(Equal(bizerror.Forbidden))
			Expect(removed).To(BeFalse())

			removed, err = svc.RemoveMember(ctx, g.ID, 2)
			Expect(err).To(BeNil())
			Expect(removed).To(BeTrue())
			removed, err = svc.RemoveMember(ctx, g.ID, 2)
			Expect(err).To(BeNil())
			Expect(removed).To(BeFalse())

			reloaded, err := svc.Group(ctx, g.ID)
			Expect(err).To(BeNil())
			Expect(reloaded.Members).To(Equal([]types.ID{1}))
		})

		It("should not join a member to a missing group", func() {
			err := svc.AddMember(ctx, 404, 2)
			Expect(errors.Is(err, bizerror.ErrGroupNotFound)).To(BeTrue())
			_, err = svc.GroupOf(ctx, 2)
			Expect(errors.Is(err, bizerror.ErrNotMember)).To(BeTrue())
		})
	})

	Describe("Leave", func() {
		It("should hand leadership to the lowest member id", func() {
			g := newGroup(5, "Knights", 9, 7)

			result, err := svc.Leave(ctx, 5)
			Expect(err).To(BeNil())
			Expect(result.GroupID).To(Equal(g.ID))
			Expect(result.NewLeaderID).To(Equal(types.ID(7)))

			reloaded, err := svc.Group(ctx, g.ID)
			Expect(err).To(BeNil())
			Expect(reloaded.LeaderID).To(Equal(types.ID(7)))
			Expect(reloaded.Members).To(Equal([]types.ID{7, 9}))
			Expect(categories()).To(ContainElements(event.LeaderChanged, event.MemberLeft))
		})

		It("should require a sole leader to disband", func() {
			newGroup(5, "Knights")
			_, err := svc.Leave(ctx, 5)
			Expect(err).To(Equal(bizerror.ErrDisbandRequired))
		})

		It("should fail for a member without group", func() {
			_, err := svc.Leave(ctx, 5)
			Expect(errors.Is(err, bizerror.ErrNotMember)).To(BeTrue())
		})
	})

	Describe("Kick", func() {
		It("should let only the leader remove other members", func() {
			g := newGroup(1, "Knights", 2, 3)
			newGroup(4, "Rogues")

			Expect(svc.Kick(ctx, 1, 1)).To(Equal(bizerror.ErrSelfTarget))
			Expect(svc.Kick(ctx, 2, 3)).To(Equal(bizerror.ErrNotLeader))
			Expect(svc.Kick(ctx, 1, 4)).To(Equal(bizerror.ErrAlreadyRemoved))

			Expect(svc.Kick(ctx, 1, 3)).To(Succeed())
			reloaded, err := svc.Group(ctx, g.ID)
			Expect(err).To(BeNil())
			Expect(reloaded.Members).To(Equal([]types.ID{1, 2}))
			Expect(categories()).To(ContainElement(event.MemberKicked))
		})

		It("should report a member who left first as already removed", func() {
			newGroup(1, "Knights", 2)
			_, err := svc.Leave(ctx, 2)
			Expect(err).To(BeNil())

			err = svc.Kick(ctx, 1, 2)
			Expect(err).To(Equal(bizerror.ErrAlreadyRemoved))
			Expect(bizerror.KindOf(err)).To(Equal(bizerror.NotFound))
		})
	})

	Describe("governance", func() {
		It("should rename and reject names held by another group", func() {
			g := newGroup(1, "Knights")
			newGroup(2, "Rogues")

			renamed, err := svc.Rename(ctx, 1, g.ID, "Paladins")
			Expect(err).To(BeNil())
			Expect(renamed.Name).To(Equal("Paladins"))

			_, err = svc.Rename(ctx, 1, g.ID, "ROGUES")
			Expect(err).To(Equal(bizerror.ErrNameTaken))
			_, err = svc.Rename(ctx, 2, g.ID, "Templars")
			Expect(err).To(Equal(bizerror.ErrNotLeader))

			// a case-only change of its own name is allowed
			renamed, err = svc.Rename(ctx, 1, g.ID, "PALADINS")
			Expect(err).To(BeNil())
			Expect(renamed.Name).To(Equal("PALADINS"))

			renamed, err = svc.AdminRename(ctx, g.ID, "Templars")
			Expect(err).To(BeNil())
			Expect(renamed.Name).To(Equal("Templars"))
		})

		It("should check a rename without writing", func() {
			g := newGroup(1, "Knights")
			checked, err := svc.CheckRename(ctx, 1, "Paladins")
			Expect(err).To(BeNil())
			Expect(checked.ID).To(Equal(g.ID))

			_, err = svc.CheckRename(ctx, 2, "Paladins")
			Expect(err).To(Equal(bizerror.ErrNotLeader))
			_, err = svc.CheckAdminRename(ctx, 404, "Paladins")
			Expect(errors.Is(err, bizerror.ErrGroupNotFound)).To(BeTrue())

			reloaded, err := svc.Group(ctx, g.ID)
			Expect(err).To(BeNil())
			Expect(reloaded.Name).To(Equal("Knights"))
		})

		It("should set a bounded description", func() {
			newGroup(1, "Knights")
			g, err := svc.SetDescription(ctx, 1, "we say ni")
			Expect(err).To(BeNil())
			Expect(g.Description).To(Equal("we say ni"))

			_, err = svc.SetDescription(ctx, 1, "a description far longer than allowed")
			Expect(errors.Is(err, bizerror.ErrInvalidDescription)).To(BeTrue())
		})

		It("should transfer leadership to members only", func() {
			g := newGroup(1, "Knights", 2)
			_, err := svc.TransferLeadership(ctx, 1, 1)
			Expect(err).To(Equal(bizerror.ErrSelfTarget))
			_, err = svc.TransferLeadership(ctx, 1, 3)
			Expect(err).To(Equal(bizerror.ErrNotMember))

			updated, err := svc.TransferLeadership(ctx, 1, 2)
			Expect(err).To(BeNil())
			Expect(updated.LeaderID).To(Equal(types.ID(2)))

			updated, err = svc.AdminSetLeader(ctx, g.ID, 1)
			Expect(err).To(BeNil())
			Expect(updated.LeaderID).To(Equal(types.ID(1)))
		})

		It("should disband with every dependent row", func() {
			g := newGroup(1, "Knights", 2)
			Expect(repo.AddInvite(ctx, &domain.Invite{InviteeID: 3, GroupID: g.ID, InviterID: 1, IssuedAt: g.CreateTime})).To(Succeed())
			c := domain.NewConfirmation(1, domain.Rename{GroupID: g.ID, NewName: "Paladins"}, g.CreateTime)
			Expect(repo.AddConfirmation(ctx, &c)).To(Succeed())

			Expect(svc.Disband(ctx, 2, g.ID)).To(Equal(bizerror.ErrNotLeader))
			Expect(svc.Disband(ctx, 1, g.ID)).To(Succeed())

			_, err := svc.Group(ctx, g.ID)
			Expect(errors.Is(err, bizerror.ErrGroupNotFound)).To(BeTrue())
			for _, m := range []types.ID{1, 2} {
				_, err = svc.GroupOf(ctx, m)
				Expect(errors.Is(err, bizerror.ErrNotMember)).To(BeTrue())
			}
			_, err = repo.GetInvite(ctx, 3)
			Expect(errors.Is(err, bizerror.ErrNoInvite)).To(BeTrue())
			_, err = repo.GetConfirmation(ctx, 1, domain.KindRename)
			Expect(errors.Is(err, bizerror.ErrNoConfirmation)).To(BeTrue())
			Expect(categories()).To(ContainElement(event.GroupDisbanded))

			Expect(errors.Is(svc.AdminDisband(ctx, g.ID), bizerror.ErrGroupNotFound)).To(BeTrue())
		})
	})

	It("should never leave a membership behind a concurrent disband", func() {
		for round := 0; round < 5; round++ {
			g := newGroup(types.ID(100+round), fmt.Sprintf("Knights%d", round))
			member := types.ID(200 + round)

			var wg sync.WaitGroup
			var joinErr, disbandErr error
			wg.Add(2)
			go func() {
				defer wg.Done()
				joinErr = svc.AddMember(ctx, g.ID, member)
			}()
			go func() {
				defer wg.Done()
				disbandErr = svc.Disband(ctx, g.LeaderID, g.ID)
			}()
			wg.Wait()

			Expect(disbandErr).To(BeNil())
			if joinErr != nil {
				Expect(errors.Is(joinErr, bizerror.ErrGroupNotFound)).To(BeTrue())
			}
			_, err := svc.Group(ctx, g.ID)
			Expect(errors.Is(err, bizerror.ErrGroupNotFound)).To(BeTrue())
			_, err = svc.GroupOf(ctx, member)
			Expect(errors.Is(err, bizerror.ErrNotMember)).To(BeTrue())
		}
	})

	It("should keep every member in at most one group under concurrent joins", func() {
		a := newGroup(1, "Knights")
		b := newGroup(2, "Rogues")

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i, gid := range []types.ID{a.ID, b.ID} {
			wg.Add(1)
			go func(i int, gid types.ID) {
				defer wg.Done()
				errs[i] = svc.AddMember(ctx, gid, 9)
			}(i, gid)
		}
		wg.Wait()

		succeeded := 0
		for _, err := range errs {
			if err == nil {
				succeeded++
			} else {
				Expect(err).To(Equal(bizerror.ErrAlreadyMember))
			}
		}
		Expect(succeeded).To(Equal(1))

		groups, err := svc.ListGroups(ctx)
		Expect(err).To(BeNil())
		seen := 0
		for _, g := range groups {
			Expect(g.HasMember(g.LeaderID)).To(BeTrue())
			if g.HasMember(9) {
				seen++
			}
		}
		Expect(seen).To(Equal(1))
	})
})
