package quota

import (
	"context"
	"time"

	internalsettings "github.com/router-for-me/AppGateway/internal/settings"
	log "github.com/sirupsen/logrus"
)

const defaultSweepInterval = 5 * time.Minute

// Sweeper periodically rolls over expired cycles so idle applications still get their snapshot.
type Sweeper struct {
	manager  *Manager
	interval time.Duration
}

// NewSweeper constructs a Sweeper. The QUOTA_SWEEP_INTERVAL_SECONDS setting overrides interval.
func NewSweeper(manager *Manager, interval time.Duration) *Sweeper {
	if manager == nil {
		return nil
	}
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &Sweeper{manager: manager, interval: interval}
}

// Start launches the sweep loop in a background goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	if s == nil {
		return
	}
	go s.run(ctx)
	log.Infof("quota sweeper started (interval=%s)", s.interval)
}

func (s *Sweeper) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		s.SweepOnce(ctx)
		timer := time.NewTimer(s.resolveInterval())
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			return
		case <-timer.C:
		}
	}
}

func (s *Sweeper) resolveInterval() time.Duration {
	seconds := internalsettings.Int(internalsettings.QuotaSweepIntervalSecondsKey, 0)
	if seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return s.interval
}

// SweepOnce checks every metered application and returns how many cycles it closed.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	ids, err := s.manager.repo.ListQuotaAppIDs(ctx)
	if err != nil {
		log.WithError(err).Warn("quota sweeper: list applications failed")
		return 0
	}
	closed := 0
	for _, appID := range ids {
		if ctx.Err() != nil {
			break
		}
		rolled, errRoll := s.manager.RolloverIfStale(ctx, appID)
		if errRoll != nil {
			log.WithError(errRoll).WithField("app_id", appID).Warn("quota sweeper: rollover failed")
			continue
		}
		if rolled {
			closed++
		}
	}
	if closed > 0 {
		log.Infof("quota sweeper: closed %d cycles", closed)
	}
	return closed
}
