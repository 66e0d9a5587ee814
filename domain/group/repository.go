// Package group persists groups, memberships, invites and confirmations.
//
// Every operation takes a context, never panics across its boundary and
// reports I/O failures as *bizerror.ErrStorage. A failed write leaves no
// partial state: multi-row writes run inside a single transaction.
package group

import (
	"context"
	"errors"
	"time"

	"guildkeep/bizerror"
	"guildkeep/domain"
	"guildkeep/persistence"

	"github.com/fundwit/go-commons/types"
	"github.com/go-sql-driver/mysql"
	"github.com/jinzhu/gorm"
	"github.com/mattn/go-sqlite3"
	otgorm "github.com/smacker/opentracing-gorm"
)

type Repository struct {
	ds *persistence.DataSourceManager

	tx          *gorm.DB
	afterCommit *[]func()
}

func NewRepository(ds *persistence.DataSourceManager) *Repository {
	return &Repository{ds: ds}
}

// timeColumns are widened to microsecond precision on MySQL, whose plain
// DATETIME rounds to the second. SQLite stores the full value as text.
var timeColumns = []struct {
	model  interface{}
	column string
}{
	{&domain.Group{}, "create_time"},
	{&domain.Membership{}, "join_time"},
	{&domain.Invite{}, "issued_at"},
	{&domain.Confirmation{}, "expires_at"},
}

func Migrate(ds *persistence.DataSourceManager) error {
	db := ds.GormDB()
	if err := db.AutoMigrate(&domain.Group{}, &domain.Membership{}, &domain.Invite{}, &domain.Confirmation{}).Error; err != nil {
		return err
	}
	if db.Dialect().GetName() != persistence.DriverMysql {
		return nil
	}
	for _, c := range timeColumns {
		if err := db.Model(c.model).ModifyColumn(c.column, "DATETIME(6) NOT NULL").Error; err != nil {
			return err
		}
	}
	return nil
}

// Transaction runs fn against a repository bound to one database
// transaction. Nested calls join the outer transaction. Callbacks registered
// through AfterCommit run once the outermost transaction committed.
func (r *Repository) Transaction(ctx context.Context, fn func(tx *Repository) error) error {
	if r.tx != nil {
		return fn(r)
	}
	db, err := r.conn(ctx)
	if err != nil {
		return bizerror.Storage("begin transaction", err)
	}

	var callbacks []func()
	err = db.Transaction(func(gtx *gorm.DB) error {
		return fn(&Repository{ds: r.ds, tx: gtx, afterCommit: &callbacks})
	})
	if err != nil {
		return bizerror.Storage("commit transaction", err)
	}
	for _, f := range callbacks {
		f()
	}
	return nil
}

// AfterCommit defers f until the enclosing transaction committed, or runs it
// immediately outside a transaction.
func (r *Repository) AfterCommit(f func()) {
	if r.afterCommit == nil {
		f()
		return
	}
	*r.afterCommit = append(*r.afterCommit, f)
}

func (r *Repository) conn(ctx context.Context) (*gorm.DB, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	db := r.tx
	if db == nil {
		if r.ds == nil {
			return nil, errors.New("data source is not configured")
		}
		if db = r.ds.GormDB(); db == nil {
			return nil, errors.New("data source is not started")
		}
	}
	return otgorm.SetSpanToGorm(ctx, db), nil
}

// dbTime normalizes timestamps to UTC microseconds, the finest precision
// both dialects keep, so stored values compare the same way everywhere.
func dbTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// dbTimeCeil is dbTime rounded up. TTL anchors use it so storage never
// shortens a deadline.
func dbTimeCeil(t time.Time) time.Time {
	n := dbTime(t)
	if n.Before(t) {
		n = n.Add(time.Microsecond)
	}
	return n
}

func isUniqueViolation(err error) bool {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func (r *Repository) CreateGroup(ctx context.Context, g *domain.Group) error {
	db, err := r.conn(ctx)
	if err != nil {
		return bizerror.Storage("create group", err)
	}
	g.NameKey = domain.NameKey(g.Name)
	g.CreateTime = dbTime(g.CreateTime)
	if err := db.Create(g).Error; err != nil {
		if isUniqueViolation(err) {
			return bizerror.ErrNameTaken
		}
		return bizerror.Storage("create group", err)
	}
	return nil
}

func (r *Repository) GetGroupByID(ctx context.Context, id types.ID) (*domain.Group, error) {
	return r.findGroup(ctx, "get group by id", false, "id = ?", id)
}

// GetGroupForUpdate reads the group and, inside a transaction, holds its row
// lock until commit. Writers that depend on the group existing take it before
// writing; DeleteGroup takes it first, so the two serialize.
func (r *Repository) GetGroupForUpdate(ctx context.Context, id types.ID) (*domain.Group, error) {
	return r.findGroup(ctx, "lock group", true, "id = ?", id)
}

// GetGroupByName matches the display name exactly, or its folded key when
// caseInsensitive is set.
func (r *Repository) GetGroupByName(ctx context.Context, name string, caseInsensitive bool) (*domain.Group, error) {
	if caseInsensitive {
		return r.findGroup(ctx, "get group by name", false, "name_key = ?", domain.NameKey(name))
	}
	return r.findGroup(ctx, "get group by name", false, "name = ?", name)
}

func (r *Repository) GetGroupByLeader(ctx context.Context, leaderID types.ID) (*domain.Group, error) {
	return r.findGroup(ctx, "get group by leader", false, "leader_id = ?", leaderID)
}

func (r *Repository) findGroup(ctx context.Context, op string, lock bool, query string, args ...interface{}) (*domain.Group, error) {
	db, err := r.conn(ctx)
	if err != nil {
		return nil, bizerror.Storage(op, err)
	}
	q := db
	if lock {
		q = forUpdate(db)
	}
	var g domain.Group
	if err := q.Where(query, args...).First(&g).Error; err != nil {
		if gorm.IsRecordNotFoundError(err) {
			return nil, bizerror.ErrGroupNotFound
		}
		return nil, bizerror.Storage(op, err)
	}
	members, err := membersOf(db, g.ID)
	if err != nil {
		return nil, bizerror.Storage(op, err)
	}
	g.Members = members
	return &g, nil
}

// forUpdate turns the next query into a locking read on MySQL. A locking read
// also sees rows committed after the transaction's snapshot. SQLite needs
// no lock: its single connection already serializes transactions.
func forUpdate(db *gorm.DB) *gorm.DB {
	if db.Dialect().GetName() == persistence.DriverMysql {
		return db.Set("gorm:query_option", "FOR UPDATE")
	}
	return db
}

func membersOf(db *gorm.DB, groupID types.ID) ([]types.ID, error) {
	var rows []domain.Membership
	if err := db.Where("group_id = ?", groupID).Order("member_id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	members := make([]types.ID, 0, len(rows))
	for _, m := range rows {
		members = append(members, m.MemberID)
	}
	return members, nil
}

// ListAllGroups returns every group ordered by name, members resolved.
func (r *Repository) ListAllGroups(ctx context.Context) ([]domain.Group, error) {
	db, err := r.conn(ctx)
	if err != nil {
		return nil, bizerror.Storage("list groups", err)
	}
	groups := []domain.Group{}
	if err := db.Order("name_key ASC").Find(&groups).Error; err != nil {
		return nil, bizerror.Storage("list groups", err)
	}
	if len(groups) == 0 {
		return groups, nil
	}

	var rows []domain.Membership
	if err := db.Order("member_id ASC").Find(&rows).Error; err != nil {
		return nil, bizerror.Storage("list groups", err)
	}
	byGroup := map[types.ID][]types.ID{}
	for _, m := range rows {
		byGroup[m.GroupID] = append(byGroup[m.GroupID], m.MemberID)
	}
	for i := range groups {
		groups[i].Members = byGroup[groups[i].ID]
		if groups[i].Members == nil {
			groups[i].Members = []types.ID{}
		}
	}
	return groups, nil
}

// UpdateGroup writes name, leader and description. It reports whether a row
// was changed.
func (r *Repository) UpdateGroup(ctx context.Context, g *domain.Group) (bool, error) {
	db, err := r.conn(ctx)
	if err != nil {
		return false, bizerror.Storage("update group", err)
	}
	g.NameKey = domain.NameKey(g.Name)
	res := db.Model(&domain.Group{}).Where("id = ?", g.ID).Updates(map[string]interface{}{
		"name":        g.Name,
		"name_key":    g.NameKey,
		"leader_id":   g.LeaderID,
		"description": g.Description,
	})
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			return false, bizerror.ErrNameTaken
		}
		return false, bizerror.Storage("update group", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// DeleteGroup removes the group and its memberships. Invites and
// confirmations referencing it are the caller's to clean. The group row is
// locked before the memberships go, so a concurrent AddMember holding that
// lock either commits first and gets cleaned, or sees the group gone.
func (r *Repository) DeleteGroup(ctx context.Context, id types.ID) (bool, error) {
	removed := false
	err := r.Transaction(ctx, func(tx *Repository) error {
		db, err := tx.conn(ctx)
		if err != nil {
			return bizerror.Storage("delete group", err)
		}
		var locked domain.Group
		if err := forUpdate(db).Where("id = ?", id).First(&locked).Error; err != nil {
			if gorm.IsRecordNotFoundError(err) {
				return nil
			}
			return bizerror.Storage("delete group", err)
		}
		if err := db.Where("group_id = ?", id).Delete(&domain.Membership{}).Error; err != nil {
			return bizerror.Storage("delete group memberships", err)
		}
		res := db.Where("id = ?", id).Delete(&domain.Group{})
		if res.Error != nil {
			return bizerror.Storage("delete group", res.Error)
		}
		removed = res.RowsAffected > 0
		return nil
	})
	return removed, err
}
