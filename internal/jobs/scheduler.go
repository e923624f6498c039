// Package jobs runs scheduled background tasks.
package jobs

import (
	"context"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"racing_service/internal/ledger"
)

// Scheduler owns the cron runner. The only job today is the nightly ledger
// reconciliation; it reads and logs, never mutates.
type Scheduler struct {
	cron            *cron.Cron
	ledgerRepo      ledger.Repository
	startingBalance int64
}

func NewScheduler(ledgerRepo ledger.Repository, startingBalance int64) *Scheduler {
	return &Scheduler{
		cron:            cron.New(),
		ledgerRepo:      ledgerRepo,
		startingBalance: startingBalance,
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	s.cron.AddFunc("0 3 * * *", func() {
		if err := s.Reconcile(ctx); err != nil {
			log.WithError(err).Error("[CRON] ledger reconciliation failed")
		}
	})
	s.cron.Start()
	log.Info("scheduler started")
}

func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	log.Info("scheduler stopped")
}

// Reconcile checks the audit invariant: for every account, the starting
// balance plus the sum of its horseshoe-unit transactions must equal the
// stored balance. Divergences are logged, not repaired.
func (s *Scheduler) Reconcile(ctx context.Context) error {
	accounts, err := s.ledgerRepo.ListAccounts(ctx)
	if err != nil {
		return err
	}
	totals, err := s.ledgerRepo.CurrencyTotals(ctx)
	if err != nil {
		return err
	}

	mismatches := 0
	for _, a := range accounts {
		expected := s.startingBalance + totals[a.ID]
		if a.Horseshoes != expected {
			mismatches++
			log.WithFields(log.Fields{
				"user_id":  a.ID,
				"balance":  a.Horseshoes,
				"expected": expected,
			}).Error("ledger does not reconcile with balance")
		}
	}

	log.WithFields(log.Fields{
		"accounts":   len(accounts),
		"mismatches": mismatches,
	}).Info("ledger reconciliation finished")
	return nil
}
