// services/scheduler.go
package services

import (
	"context"
	"time"

	"light-mint-service/models"

	"github.com/go-co-op/gocron/v2"
	log "github.com/sirupsen/logrus"
)

// StartMintScheduler runs the periodic mint housekeeping: expiring stale
// signing payloads every minute and creating today's and tomorrow's epoch
// rows ahead of the first request. The caller shuts the scheduler down.
func StartMintScheduler(orch *MintOrchestrator, ledger *EpochLedger) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, err
	}

	if _, err := sched.NewJob(
		gocron.DurationJob(1*time.Minute),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Second)
			defer cancel()
			if _, err := orch.ExpireStale(ctx); err != nil {
				log.Printf("[Scheduler] expiry sweep failed: %v", err)
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		return nil, err
	}

	warm := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		now := time.Now().UTC()
		dates := []string{now.Format(models.DateLayout), now.Add(24 * time.Hour).Format(models.DateLayout)}
		if err := ledger.WarmUp(ctx, dates...); err != nil {
			log.Printf("[Scheduler] epoch warm-up failed: %v", err)
			return
		}
		log.Printf("📅 [Scheduler] epochs ready: %v", dates)
	}
	if _, err := sched.NewJob(
		gocron.DurationJob(1*time.Hour),
		gocron.NewTask(warm),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	); err != nil {
		return nil, err
	}

	sched.Start()
	return sched, nil
}
