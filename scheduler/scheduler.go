// Package scheduler drives the periodic maintenance of the engine: invite
// and confirmation sweeps and the audience cache refresh.
package scheduler

import (
	"context"
	"time"

	"guildkeep/common"

	cron "github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const jobTimeout = 30 * time.Second

type Sweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

type Refresher interface {
	Refresh(ctx context.Context) error
}

type Scheduler struct {
	crontab *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
}

func New() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	logger := cron.PrintfLogger(common.Log)
	return &Scheduler{
		crontab: cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger))),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// AddJob schedules job under the cron spec, e.g. "@every 1m". Each run gets
// its own deadline and is skipped while the previous run is still going.
func (s *Scheduler) AddJob(name, spec string, job func(ctx context.Context) error) error {
	_, err := s.crontab.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(s.ctx, jobTimeout)
		defer cancel()
		if err := job(ctx); err != nil {
			common.Log.WithFields(logrus.Fields{"job": name}).WithError(err).Error("scheduled job failed")
		}
	})
	if err != nil {
		return err
	}
	common.Log.WithFields(logrus.Fields{"job": name, "spec": spec}).Info("job scheduled")
	return nil
}

func (s *Scheduler) AddSweep(name, spec string, sweeper Sweeper) error {
	return s.AddJob(name, spec, func(ctx context.Context) error {
		_, err := sweeper.Sweep(ctx)
		return err
	})
}

func (s *Scheduler) AddRefresh(name, spec string, refresher Refresher) error {
	return s.AddJob(name, spec, refresher.Refresh)
}

func (s *Scheduler) Jobs() int {
	return len(s.crontab.Entries())
}

func (s *Scheduler) Start() {
	s.crontab.Start()
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.crontab.Stop().Done()
}
