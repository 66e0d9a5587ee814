package group_test

import (
	"context"
	"errors"
	"time"

	"guildkeep/bizerror"
	"guildkeep/domain"
	"guildkeep/domain/group"
	"guildkeep/testinfra"

	"github.com/fundwit/go-commons/types"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Repository", func() {
	var (
		testDatabase *testinfra.TestDatabase
		repo         *group.Repository
		ctx          context.Context
		now          time.Time
	)

	BeforeEach(func() {
		testDatabase = testinfra.StartTestDatabase("guildkeep")
		Expect(group.Migrate(testDatabase.DS)).To(Succeed())
		repo = group.NewRepository(testDatabase.DS)
		ctx = context.Background()
		now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	})
	AfterEach(func() {
		testinfra.StopTestDatabase(testDatabase)
	})

	createGroup := func(id types.ID, name string, leader types.ID, members ...types.ID) {
		Expect(repo.CreateGroup(ctx, &domain.Group{ID: id, Name: name, LeaderID: leader, CreateTime: now})).To(Succeed())
		Expect(repo.AddMember(ctx, id, leader)).To(Succeed())
		for _, m := range members {
			Expect(repo.AddMember(ctx, id, m)).To(Succeed())
		}
	}

	Describe("groups", func() {
		It("should find a stored group by id, name and leader", func() {
			createGroup(100, "Knights", 1, 3, 2)

			byID, err := repo.GetGroupByID(ctx, 100)
			Expect(err).To(BeNil())
			Expect(byID.Name).To(Equal("Knights"))
			Expect(byID.LeaderID).To(Equal(types.ID(1)))
			Expect(byID.Members).To(Equal([]types.ID{1, 2, 3}))
			Expect(byID.CreateTime.Equal(now)).To(BeTrue())

			byName, err := repo.GetGroupByName(ctx, "kNiGhTs", true)
			Expect(err).To(BeNil())
			Expect(byName.ID).To(Equal(types.ID(100)))

			_, err = repo.GetGroupByName(ctx, "knights", false)
			Expect(errors.Is(err, bizerror.ErrGroupNotFound)).To(BeTrue())

			byLeader, err := repo.GetGroupByLeader(ctx, 1)
			Expect(err).To(BeNil())
			Expect(byLeader.ID).To(Equal(types.ID(100)))

			_, err = repo.GetGroupByLeader(ctx, 2)
			Expect(errors.Is(err, bizerror.ErrGroupNotFound)).To(BeTrue())
		})

		It("should reject a name differing only by case", func() {
			createGroup(100, "Knights", 1)
			err := repo.CreateGroup(ctx, &domain.Group{ID: 101, Name: "KNIGHTS", LeaderID: 2, CreateTime: now})
			Expect(err).To(Equal(bizerror.ErrNameTaken))
			Expect(bizerror.KindOf(err)).To(Equal(bizerror.Conflict))
		})

		It("should update and reject a rename onto a taken name", func() {
			createGroup(100, "Knights", 1)
			createGroup(200, "Rogues", 2)

			g, err := repo.GetGroupByID(ctx, 100)
			Expect(err).To(BeNil())
			g.Name = "Paladins"
			g.Description = "holy"
			changed, err := repo.UpdateGroup(ctx, g)
			Expect(err).To(BeNil())
			Expect(changed).To(BeTrue())

			reloaded, err := repo.GetGroupByName(ctx, "paladins", true)
			Expect(err).To(BeNil())
			Expect(reloaded.Description).To(Equal("holy"))

			reloaded.Name = "rogues"
			_, err = repo.UpdateGroup(ctx, reloaded)
			Expect(err).To(Equal(bizerror.ErrNameTaken))
		})

		It("should list every group ordered by name with members", func() {
			createGroup(200, "Rogues", 2)
			createGroup(100, "knights", 1, 5)

			groups, err := repo.ListAllGroups(ctx)
			Expect(err).To(BeNil())
			Expect(groups).To(HaveLen(2))
			Expect(groups[0].ID).To(Equal(types.ID(100)))
			Expect(groups[0].Members).To(Equal([]types.ID{1, 5}))
			Expect(groups[1].Members).To(Equal([]types.ID{2}))
		})

		It("should delete a group together with its memberships", func() {
			createGroup(100, "Knights", 1, 2)

			removed, err := repo.DeleteGroup(ctx, 100)
			Expect(err).To(BeNil())
			Expect(removed).To(BeTrue())

			_, err = repo.GetGroupByID(ctx, 100)
			Expect(errors.Is(err, bizerror.ErrGroupNotFound)).To(BeTrue())
			_, err = repo.GetMemberGroupID(ctx, 2)
			Expect(errors.Is(err, bizerror.ErrNotMember)).To(BeTrue())

			removed, err = repo.DeleteGroup(ctx, 100)
			Expect(err).To(BeNil())
			Expect(removed).To(BeFalse())
		})
	})

	Describe("memberships", func() {
		It("should keep a member in a single group", func() {
			createGroup(100, "Knights", 1)
			createGroup(200, "Rogues", 2)

			Expect(repo.AddMember(ctx, 100, 7)).To(Succeed())
			Expect(repo.AddMember(ctx, 100, 7)).To(Succeed())
			Expect(repo.AddMember(ctx, 200, 7)).To(Equal(bizerror.ErrAlreadyMember))

			gid, err := repo.GetMemberGroupID(ctx, 7)
			Expect(err).To(BeNil())
			Expect(gid).To(Equal(types.ID(100)))

			isMember, err := repo.IsMember(ctx, 200, 7)
			Expect(err).To(BeNil())
			Expect(isMember).To(BeFalse())
		})

		It("should report whether a member was removed", func() {
			createGroup(100, "Knights", 1, 7)

			removed, err := repo.RemoveMember(ctx, 100, 7)
			Expect(err).To(BeNil())
			Expect(removed).To(BeTrue())
			removed, err = repo.RemoveMember(ctx, 100, 7)
			Expect(err).To(BeNil())
			Expect(removed).To(BeFalse())

			members, err := repo.Members(ctx, 100)
			Expect(err).To(BeNil())
			Expect(members).To(Equal([]types.ID{1}))
		})
	})

	Describe("invites", func() {
		It("should hold one invite per invitee and sweep strictly older ones", func() {
			Expect(repo.AddInvite(ctx, &domain.Invite{InviteeID: 7, GroupID: 100, InviterID: 1, IssuedAt: now})).To(Succeed())
			Expect(repo.AddInvite(ctx, &domain.Invite{InviteeID: 7, GroupID: 200, InviterID: 2, IssuedAt: now})).
				To(Equal(bizerror.ErrInvitePending))
			Expect(repo.AddInvite(ctx, &domain.Invite{InviteeID: 8, GroupID: 100, InviterID: 1, IssuedAt: now.Add(time.Minute)})).To(Succeed())

			invites, err := repo.ListInvitesOfGroup(ctx, 100)
			Expect(err).To(BeNil())
			Expect(invites).To(HaveLen(2))
			Expect(invites[0].InviteeID).To(Equal(types.ID(7)))

			swept, err := repo.RemoveExpiredInvites(ctx, now)
			Expect(err).To(BeNil())
			Expect(swept).To(BeZero())

			swept, err = repo.RemoveExpiredInvites(ctx, now.Add(time.Second))
			Expect(err).To(BeNil())
			Expect(swept).To(Equal(int64(1)))

			_, err = repo.GetInvite(ctx, 7)
			Expect(errors.Is(err, bizerror.ErrNoInvite)).To(BeTrue())

			removed, err := repo.RemoveInvitesOfGroup(ctx, 100)
			Expect(err).To(BeNil())
			Expect(removed).To(Equal(int64(1)))
		})
	})

	Describe("sub-second times", func() {
		It("should keep the fraction of TTL anchors and never round them down", func() {
			issued := time.Date(2024, 3, 1, 12, 0, 0, 900000400, time.UTC)
			inv := &domain.Invite{InviteeID: 7, GroupID: 100, InviterID: 1, IssuedAt: issued}
			Expect(repo.AddInvite(ctx, inv)).To(Succeed())

			stored, err := repo.GetInvite(ctx, 7)
			Expect(err).To(BeNil())
			Expect(stored.IssuedAt).To(BeTemporally("==", time.Date(2024, 3, 1, 12, 0, 0, 900001000, time.UTC)))

			deadline := time.Date(2024, 3, 1, 12, 1, 0, 900000000, time.UTC)
			c := domain.NewConfirmation(1, domain.Disband{GroupID: 100}, deadline)
			Expect(repo.AddConfirmation(ctx, &c)).To(Succeed())

			swept, err := repo.RemoveExpiredConfirmations(ctx, deadline)
			Expect(err).To(BeNil())
			Expect(swept).To(BeZero())
			swept, err = repo.RemoveExpiredConfirmations(ctx, deadline.Add(time.Millisecond))
			Expect(err).To(BeNil())
			Expect(swept).To(Equal(int64(1)))
		})
	})

	Describe("confirmations", func() {
		It("should keep only the latest confirmation per actor and kind", func() {
			first := domain.NewConfirmation(1, domain.Rename{GroupID: 100, NewName: "Paladins"}, now.Add(time.Minute))
			Expect(repo.AddConfirmation(ctx, &first)).To(Succeed())
			second := domain.NewConfirmation(1, domain.Rename{GroupID: 100, NewName: "Templars"}, now.Add(2*time.Minute))
			Expect(repo.AddConfirmation(ctx, &second)).To(Succeed())
			disband := domain.NewConfirmation(1, domain.Disband{GroupID: 100}, now.Add(time.Minute))
			Expect(repo.AddConfirmation(ctx, &disband)).To(Succeed())

			c, err := repo.GetConfirmation(ctx, 1, domain.KindRename)
			Expect(err).To(BeNil())
			Expect(c.Action()).To(Equal(domain.Rename{GroupID: 100, NewName: "Templars"}))

			swept, err := repo.RemoveExpiredConfirmations(ctx, now.Add(90*time.Second))
			Expect(err).To(BeNil())
			Expect(swept).To(Equal(int64(1)))

			removed, err := repo.RemoveConfirmationsOfGroup(ctx, 100)
			Expect(err).To(BeNil())
			Expect(removed).To(Equal(int64(1)))

			_, err = repo.GetConfirmation(ctx, 1, domain.KindRename)
			Expect(errors.Is(err, bizerror.ErrNoConfirmation)).To(BeTrue())
		})
	})

	Describe("transactions", func() {
		It("should roll back every write and skip callbacks on failure", func() {
			published := 0
			failure := errors.New("boom")
			err := repo.Transaction(ctx, func(tx *group.Repository) error {
				Expect(tx.CreateGroup(ctx, &domain.Group{ID: 100, Name: "Knights", LeaderID: 1, CreateTime: now})).To(Succeed())
				Expect(tx.AddMember(ctx, 100, 1)).To(Succeed())
				tx.AfterCommit(func() { published++ })
				return failure
			})
			Expect(err).To(HaveOccurred())
			Expect(published).To(BeZero())

			_, err = repo.GetGroupByID(ctx, 100)
			Expect(errors.Is(err, bizerror.ErrGroupNotFound)).To(BeTrue())
			_, err = repo.GetMemberGroupID(ctx, 1)
			Expect(errors.Is(err, bizerror.ErrNotMember)).To(BeTrue())
		})

		It("should run callbacks after the outermost commit", func() {
			published := 0
			err := repo.Transaction(ctx, func(tx *group.Repository) error {
				return tx.Transaction(ctx, func(inner *group.Repository) error {
					inner.AfterCommit(func() { published++ })
					Expect(published).To(BeZero())
					return inner.AddMember(ctx, 100, 1)
				})
			})
			Expect(err).To(BeNil())
			Expect(published).To(Equal(1))
		})

		It("should hold the group lock until commit so a delete cannot orphan a new member", func() {
			createGroup(100, "Knights", 1)

			deleted := make(chan error, 1)
			err := repo.Transaction(ctx, func(tx *group.Repository) error {
				g, err := tx.GetGroupForUpdate(ctx, 100)
				Expect(err).To(BeNil())
				Expect(g.Members).To(Equal([]types.ID{1}))

				go func() {
					_, err := repo.DeleteGroup(ctx, 100)
					deleted <- err
				}()
				Consistently(deleted, 200*time.Millisecond).ShouldNot(Receive())
				return tx.AddMember(ctx, g.ID, 7)
			})
			Expect(err).To(BeNil())
			Eventually(deleted, 5*time.Second).Should(Receive(BeNil()))

			_, err = repo.GetGroupByID(ctx, 100)
			Expect(errors.Is(err, bizerror.ErrGroupNotFound)).To(BeTrue())
			_, err = repo.GetMemberGroupID(ctx, 7)
			Expect(errors.Is(err, bizerror.ErrNotMember)).To(BeTrue())
		})

		It("should not find a group for update once deleted", func() {
			createGroup(100, "Knights", 1)
			removed, err := repo.DeleteGroup(ctx, 100)
			Expect(err).To(BeNil())
			Expect(removed).To(BeTrue())

			err = repo.Transaction(ctx, func(tx *group.Repository) error {
				_, err := tx.GetGroupForUpdate(ctx, 100)
				return err
			})
			Expect(errors.Is(err, bizerror.ErrGroupNotFound)).To(BeTrue())
		})

		It("should report a cancelled context as a storage failure", func() {
			cancelled, cancel := context.WithCancel(ctx)
			cancel()
			_, err := repo.GetGroupByID(cancelled, 100)
			Expect(bizerror.KindOf(err)).To(Equal(bizerror.StorageFailure))
			Expect(errors.Is(err, context.Canceled)).To(BeTrue())
		})
	})
})
