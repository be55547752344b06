// Package job runs periodic maintenance work on a cron schedule.
package job

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

type Job interface {
	Name() string
	Run(ctx context.Context) error
}

type Scheduler struct {
	cron    *cron.Cron
	entries map[string]cron.EntryID
	ctx     context.Context
}

func NewScheduler() *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return &Scheduler{
		cron:    cron.New(cron.WithParser(parser)),
		entries: make(map[string]cron.EntryID),
	}
}

func (s *Scheduler) Add(job Job, spec string) error {
	id, err := s.cron.AddFunc(spec, s.wrap(job, spec))
	if err != nil {
		slog.Error("schedule job failed", "job", job.Name(), "spec", spec, "err", err)
		return err
	}
	s.entries[job.Name()] = id
	slog.Info("job scheduled", "job", job.Name(), "spec", spec)
	return nil
}

func (s *Scheduler) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.ctx = ctx
	s.cron.Start()
}

// Stop waits for running jobs to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// wrap skips a tick while the previous run of the same job is still going.
func (s *Scheduler) wrap(job Job, spec string) func() {
	var running atomic.Bool
	return func() {
		if !running.CompareAndSwap(false, true) {
			slog.Info("job skipped: still running", "job", job.Name(), "spec", spec)
			return
		}
		defer running.Store(false)

		ctx := s.ctx
		if ctx == nil {
			ctx = context.Background()
		}
		start := time.Now()
		err := job.Run(ctx)
		elapsed := time.Since(start)
		if err != nil {
			slog.Error("job finished", "job", job.Name(), "err", err, "duration", elapsed)
			return
		}
		slog.Info("job finished", "job", job.Name(), "duration", elapsed)
	}
}
