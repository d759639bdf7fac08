package calendar

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"calsync_server/core/domain"
	"calsync_server/pkg/logger"
)

// AccountRef identifies one connected account for scheduled work.
type AccountRef struct {
	Provider  domain.ProviderID
	AccountID string
}

// AccountLister enumerates the accounts to keep in sync.
type AccountLister func(ctx context.Context) ([]AccountRef, error)

// Scheduler drives periodic syncs and watch channel renewals.
type Scheduler struct {
	svc      *Service
	accounts AccountLister
	cron     *cron.Cron
}

func NewScheduler(svc *Service, accounts AccountLister) *Scheduler {
	return &Scheduler{
		svc:      svc,
		accounts: accounts,
		cron:     cron.New(),
	}
}

// Start registers the jobs and begins the cron loop. syncSpec and
// renewSpec are standard cron expressions.
func (s *Scheduler) Start(syncSpec, renewSpec string) error {
	log := logger.For("scheduler")

	if _, err := s.cron.AddFunc(syncSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		s.syncAll(ctx)
	}); err != nil {
		return err
	}

	if _, err := s.cron.AddFunc(renewSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := s.svc.RenewExpiringWatches(ctx, 24*time.Hour); err != nil {
			log.Error().Err(err).Msg("watch renewal failed")
		}
	}); err != nil {
		return err
	}

	s.cron.Start()
	log.Info().Str("sync", syncSpec).Str("renew", renewSpec).Msg("scheduler started")
	return nil
}

// Stop waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) syncAll(ctx context.Context) {
	log := logger.For("scheduler")

	accounts, err := s.accounts(ctx)
	if err != nil {
		log.Error().Err(err).Msg("listing accounts failed")
		return
	}
	for _, ref := range accounts {
		if err := s.svc.SyncAccount(ctx, ref.Provider, ref.AccountID); err != nil {
			log.Error().Err(err).
				Str("provider", string(ref.Provider)).
				Str("account", ref.AccountID).
				Msg("scheduled sync failed")
		}
	}
}
