// services/events.go
package services

import (
	"context"
	"encoding/json"

	"light-mint-service/models"

	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// EventPublisher fans committed mint events out to other instances over
// Redis pub/sub. The mint_events table stays the source of truth; a nil
// Redis client makes Publish a no-op.
type EventPublisher struct {
	Redis   *redis.Client
	Channel string
}

func NewEventPublisher(client *redis.Client, channel string) *EventPublisher {
	if channel == "" {
		channel = "mint-events"
	}
	return &EventPublisher{Redis: client, Channel: channel}
}

// Publish is called after the transaction that wrote events has committed.
func (p *EventPublisher) Publish(ctx context.Context, events ...models.MintEvent) {
	for _, ev := range events {
		mintTransitions.WithLabelValues(string(ev.ToStatus)).Inc()
		if ev.ToStatus == models.MintConfirmed {
			mintedAmount.Add(float64(ev.Amount))
		}
	}
	if p == nil || p.Redis == nil {
		return
	}
	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		if err := p.Redis.Publish(ctx, p.Channel, payload).Err(); err != nil {
			log.Printf("⚠️ [EVENTS] publish %s -> %s failed: %v", ev.MintRequestID, ev.ToStatus, err)
		}
	}
}

// recordEventTx writes the outbox row for one transition. The row's seq
// and created_at come from the insert, not from the service clock.
func recordEventTx(tx *gorm.DB, req *models.MintRequest, from models.MintRequestStatus, note string) (models.MintEvent, error) {
	ev := models.MintEvent{
		MintRequestID: req.ID,
		UserID:        req.UserID,
		FromStatus:    from,
		ToStatus:      req.Status,
		Amount:        req.RequestedAmount,
		Note:          note,
	}
	if req.TxHash != nil {
		ev.TxHash = *req.TxHash
	}
	err := tx.Create(&ev).Error
	return ev, err
}
