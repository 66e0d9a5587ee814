package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"guildkeep/audience"
	"guildkeep/common"
	"guildkeep/config"
	"guildkeep/domain/confirmation"
	"guildkeep/domain/group"
	"guildkeep/domain/invite"
	"guildkeep/domain/membership"
	"guildkeep/event"
	"guildkeep/persistence"
	"guildkeep/scheduler"

	"github.com/fundwit/go-commons/types"
	"github.com/sirupsen/logrus"
)

// logHost stands in for a game server: every member counts as online and
// deliveries go to the service log.
type logHost struct{}

func (logHost) Online(memberID types.ID) bool { return true }

func (logHost) Deliver(memberID types.ID, message string) error {
	common.Log.WithFields(logrus.Fields{"memberId": memberID}).Info(message)
	return nil
}

func main() {
	common.Log.Info("service start")

	cfg, err := config.Load()
	if err != nil {
		common.Log.Fatalf("load config failed %v", err)
	}

	dbConfig := cfg.Database()
	// create database (no conflict)
	if dbConfig.DriverType == persistence.DriverMysql {
		if err := persistence.PrepareMysqlDatabase(dbConfig.DriverArgs); err != nil {
			common.Log.Fatalf("failed to prepare database %v", err)
		}
	}

	// connect database
	ds := &persistence.DataSourceManager{DatabaseConfig: dbConfig}
	if err := ds.Start(); err != nil {
		common.Log.Fatalf("database connection failed %v", err)
	}
	defer ds.Stop()

	// database migration (race condition)
	if err := group.Migrate(ds); err != nil {
		common.Log.Fatalf("database migration failed %v", err)
	}

	repo := group.NewRepository(ds)
	dispatcher := event.NewDispatcher()
	groups := membership.NewService(repo, cfg.Rules(), dispatcher)
	confirmations := confirmation.NewWorkflow(repo, groups, cfg.ConfirmationTTL)
	invites := invite.NewWorkflow(repo, groups, cfg.InviteTTL)

	roster := audience.NewCache(repo, logHost{}, cfg.AudienceRefresh)
	dispatcher.Register(roster.HandleEvent)
	if err := roster.Refresh(context.Background()); err != nil {
		common.Log.Fatalf("audience cache warm up failed %v", err)
	}

	crontab := scheduler.New()
	if err := crontab.AddSweep("invite-sweep", cfg.InviteSweep, invites); err != nil {
		common.Log.Fatalf("schedule invite sweep failed %v", err)
	}
	if err := crontab.AddSweep("confirmation-sweep", cfg.ConfirmationSweep, confirmations); err != nil {
		common.Log.Fatalf("schedule confirmation sweep failed %v", err)
	}
	if err := crontab.AddRefresh("audience-refresh", "@every "+cfg.AudienceRefresh.String(), roster); err != nil {
		common.Log.Fatalf("schedule audience refresh failed %v", err)
	}
	crontab.Start()
	defer crontab.Stop()

	common.Log.WithFields(logrus.Fields{"noun": cfg.Vocabulary().Noun}).Info("group engine ready")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	common.Log.Info("service stop")
}
