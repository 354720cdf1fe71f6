// services/sse_mint_events.go
package services

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"light-mint-service/models"

	"github.com/gofiber/fiber/v2"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// MintEventStream pushes a user's mint request transitions over SSE by
// polling the mint_events outbox.
//
// Seqs are taken at insert but become visible at commit, so a lower seq can
// appear after a higher one was delivered. Each poll therefore rescans the
// rows created within Lookback and sends the ones it has not sent yet.
type MintEventStream struct {
	DB        *gorm.DB
	PollEvery time.Duration
	Lookback  time.Duration
}

func NewMintEventStream(db *gorm.DB) *MintEventStream {
	return &MintEventStream{DB: db, PollEvery: 2 * time.Second, Lookback: time.Minute}
}

// streamCursor is the delivery state of one stream.
type streamCursor struct {
	last int64
	seen map[int64]time.Time // delivered seqs inside the lookback window, by created_at
}

func (s *MintEventStream) lookback() time.Duration {
	if s.Lookback <= 0 {
		return time.Minute
	}
	return s.Lookback
}

// newCursor starts a cursor at last. Rows at or below last that are still
// inside the window count as delivered.
func (s *MintEventStream) newCursor(ctx context.Context, userID string, last int64) (*streamCursor, error) {
	cur := &streamCursor{last: last, seen: map[int64]time.Time{}}
	var rows []models.MintEvent
	err := s.DB.WithContext(ctx).Select("seq", "created_at").
		Where("user_id = ? AND seq <= ? AND created_at >= ?", userID, last, time.Now().Add(-s.lookback())).
		Find(&rows).Error
	for _, r := range rows {
		cur.seen[r.Seq] = r.CreatedAt
	}
	return cur, err
}

// poll returns the events the cursor has not delivered, late commits first,
// and advances the cursor past them.
func (s *MintEventStream) poll(ctx context.Context, userID string, cur *streamCursor, limit int) ([]models.MintEvent, error) {
	since := time.Now().Add(-s.lookback())

	var late []models.MintEvent
	if err := s.DB.WithContext(ctx).
		Where("user_id = ? AND seq <= ? AND created_at >= ?", userID, cur.last, since).
		Order("seq ASC").
		Find(&late).Error; err != nil {
		return nil, err
	}
	fresh, err := s.EventsAfter(ctx, userID, cur.last, limit)
	if err != nil {
		return nil, err
	}

	out := make([]models.MintEvent, 0, len(late)+len(fresh))
	for _, ev := range late {
		if _, ok := cur.seen[ev.Seq]; !ok {
			out = append(out, ev)
		}
	}
	out = append(out, fresh...)

	for _, ev := range out {
		cur.seen[ev.Seq] = ev.CreatedAt
		if ev.Seq > cur.last {
			cur.last = ev.Seq
		}
	}
	for seq, created := range cur.seen {
		if created.Before(since) {
			delete(cur.seen, seq)
		}
	}
	return out, nil
}

// EventsAfter returns the user's events with seq greater than after, oldest first.
func (s *MintEventStream) EventsAfter(ctx context.Context, userID string, after int64, limit int) ([]models.MintEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []models.MintEvent
	err := s.DB.WithContext(ctx).
		Where("user_id = ? AND seq > ?", userID, after).
		Order("seq ASC").Limit(limit).
		Find(&out).Error
	return out, err
}

// latestSeq is the cursor a fresh stream starts from.
func (s *MintEventStream) latestSeq(ctx context.Context, userID string) (int64, error) {
	var seq int64
	err := s.DB.WithContext(ctx).Model(&models.MintEvent{}).
		Where("user_id = ?", userID).
		Select("COALESCE(MAX(seq), 0)").Scan(&seq).Error
	return seq, err
}

// StreamUserMintEventsSSE streams mint events for the authenticated user.
// A Last-Event-ID header or ?since= resumes from that seq.
func (s *MintEventStream) StreamUserMintEventsSSE(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	cursor := int64(-1)
	for _, raw := range []string{c.Get("Last-Event-ID"), c.Query("since")} {
		if raw == "" {
			continue
		}
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil && v >= 0 {
			cursor = v
			break
		}
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no") // nginx

	ctx := c.Context()
	every := s.PollEvery
	if every <= 0 {
		every = 2 * time.Second
	}

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ticker := time.NewTicker(every)
		defer ticker.Stop()

		bg := context.Background()
		if cursor < 0 {
			seq, err := s.latestSeq(bg, userID)
			if err != nil {
				log.Printf("[SSE] init error for user %s: %v", userID, err)
			}
			cursor = seq
		}
		cur, err := s.newCursor(bg, userID, cursor)
		if err != nil {
			log.Printf("[SSE] init error for user %s: %v", userID, err)
		}

		w.WriteString(":\n\n")
		if err := w.Flush(); err != nil {
			return
		}

		for {
			select {
			case <-ticker.C:
				resumeFrom := cur.last
				events, err := s.poll(bg, userID, cur, 100)
				if err != nil {
					log.Printf("[SSE] query error for user %s: %v", userID, err)
					continue
				}
				if len(events) == 0 {
					w.WriteString(":\n\n")
				}
				for _, ev := range events {
					// a late event must not move Last-Event-ID backwards
					if ev.Seq > resumeFrom {
						resumeFrom = ev.Seq
					}
					payload, _ := json.Marshal(ev)
					fmt.Fprintf(w, "id: %d\nevent: mint\ndata: %s\n\n", resumeFrom, payload)
				}
				if err := w.Flush(); err != nil {
					// client went away
					return
				}
			case <-ctx.Done():
				return
			}
		}
	})
	return nil
}
