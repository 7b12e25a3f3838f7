// Package scheduler triggers a full pipeline run once a day at a
// configured hour.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"immopipe/internal/pipeline"
)

const defaultHour = 6

// Runner starts a pipeline run.
type Runner interface {
	Run(ctx context.Context) (*pipeline.RunStats, error)
}

// Scheduler checks a minute ticker against the configured hour and fires
// the daily run. Runs execute sequentially in the scheduler goroutine.
type Scheduler struct {
	runner   Runner
	logger   *logrus.Logger
	hour     int
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewScheduler creates a scheduler firing daily at the given hour (0-23).
func NewScheduler(runner Runner, hour int, logger *logrus.Logger) *Scheduler {
	if logger == nil {
		logger = logrus.New()
	}
	if hour < 0 || hour > 23 {
		logger.Warnf("Invalid scheduler hour %d, using %d", hour, defaultHour)
		hour = defaultHour
	}
	return &Scheduler{
		runner:   runner,
		logger:   logger,
		hour:     hour,
		stopChan: make(chan struct{}),
	}
}

// Start begins the scheduling loop.
func (s *Scheduler) Start() {
	s.logger.Infof("Scheduler started, daily run at %02d:00", s.hour)
	s.wg.Add(1)
	go s.run()
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case t := <-ticker.C:
			s.executeScheduledJobs(t)
		}
	}
}

// executeScheduledJobs fires the run when the tick lands in the scheduled
// minute. A run already in progress is skipped, not queued.
func (s *Scheduler) executeScheduledJobs(t time.Time) {
	if t.Hour() != s.hour || t.Minute() != 0 {
		return
	}

	s.logger.Info("Starting scheduled pipeline run")
	stats, err := s.runner.Run(context.Background())
	if errors.Is(err, pipeline.ErrRunActive) {
		s.logger.Warn("Skipping scheduled run, another run is active")
		return
	}
	if err != nil {
		s.logger.WithError(err).Error("Scheduled pipeline run failed")
		return
	}
	s.logger.WithFields(logrus.Fields{
		"processed": stats.Processed,
		"estimated": stats.Estimation.Estimated,
	}).Info("Scheduled pipeline run finished")
}

// Stop gracefully stops the scheduler.
func (s *Scheduler) Stop() {
	close(s.stopChan)
	s.wg.Wait()
}
