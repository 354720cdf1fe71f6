// workers/receipt_watcher.go
package workers

import (
	"context"
	"time"

	"light-mint-service/services"

	log "github.com/sirupsen/logrus"
)

// ReceiptWatcher polls receipts for submitted mint requests and applies
// them through the orchestrator. It also re-broadcasts requests stuck in
// submitting, which happens when a broadcast outcome could not be stored.
type ReceiptWatcher struct {
	orch       *services.MintOrchestrator
	relay      services.MintRelay
	interval   time.Duration
	timeout    time.Duration
	stallAfter time.Duration
	batch      int
}

func NewReceiptWatcher(orch *services.MintOrchestrator, relay services.MintRelay, interval time.Duration) *ReceiptWatcher {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &ReceiptWatcher{
		orch:       orch,
		relay:      relay,
		interval:   interval,
		timeout:    10 * time.Second,
		stallAfter: 2 * time.Minute,
		batch:      100,
	}
}

func (w *ReceiptWatcher) Start(ctx context.Context) {
	log.Printf("⛓️ Starting receipt watcher (every %s)…", w.interval)
	go w.run(ctx)
}

func (w *ReceiptWatcher) run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := w.Poll(ctx); err != nil {
				log.Printf("❌ [RECEIPT] poll failed: %v", err)
			}
		case <-ctx.Done():
			log.Println("⏹️ Receipt watcher stopped")
			return
		}
	}
}

// Poll re-broadcasts stalled requests, then checks every submitted request
// once and returns how many resolved.
func (w *ReceiptWatcher) Poll(ctx context.Context) (int, error) {
	stalled, err := w.orch.Stalled(ctx, w.stallAfter, w.batch)
	if err != nil {
		return 0, err
	}
	for _, req := range stalled {
		if _, err := w.orch.Submit(ctx, req.ID, "system:receipt-watcher"); err != nil {
			log.WithFields(log.Fields{"request_id": req.ID}).Warnf("⚠️ [RECEIPT] re-broadcast failed: %v", err)
		}
	}

	reqs, err := w.orch.Submitted(ctx, w.batch)
	if err != nil {
		return 0, err
	}
	resolved := 0
	for _, req := range reqs {
		if req.TxHash == nil {
			continue
		}
		rctx, cancel := context.WithTimeout(ctx, w.timeout)
		receipt, err := w.relay.GetReceipt(rctx, *req.TxHash)
		cancel()
		if err != nil {
			log.WithFields(log.Fields{"request_id": req.ID, "tx": *req.TxHash}).Warnf("⚠️ [RECEIPT] lookup failed: %v", err)
			continue
		}
		if receipt == nil {
			continue // not mined yet
		}
		reason := ""
		if !receipt.Success {
			reason = "transaction reverted on-chain"
		}
		if _, err := w.orch.ReportReceipt(ctx, req.ID, receipt.TxHash, receipt.Success, reason); err != nil {
			log.WithFields(log.Fields{"request_id": req.ID}).Errorf("❌ [RECEIPT] apply failed: %v", err)
			continue
		}
		resolved++
	}
	return resolved, nil
}
