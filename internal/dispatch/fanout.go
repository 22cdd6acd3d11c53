package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"groupremind/internal/delivery"
	"groupremind/internal/metrics"
)

// fanOut delivers the text to every chat id through a bounded worker pool and
// returns how many recipients were reached. One blocked or failing recipient
// never affects its peers; the verdict is at-least-one-delivered.
func (e *Engine) fanOut(ctx context.Context, log *logrus.Entry, text string, chatIDs []string) int {
	workers := e.opt.FanoutConcurrency
	if workers > len(chatIDs) {
		workers = len(chatIDs)
	}

	jobs := make(chan string)
	var delivered int64
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for chatID := range jobs {
				if e.sendOne(ctx, log, chatID, text) {
					atomic.AddInt64(&delivered, 1)
				}
			}
		}()
	}

feed:
	for _, chatID := range chatIDs {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- chatID:
		}
	}
	close(jobs)
	wg.Wait()

	return int(atomic.LoadInt64(&delivered))
}

func (e *Engine) sendOne(ctx context.Context, log *logrus.Entry, chatID, text string) bool {
	if err := e.limiter.Wait(ctx); err != nil {
		// context canceled while queued behind the rate limit
		return false
	}

	metrics.InFlight.Inc()
	defer metrics.InFlight.Dec()

	cctx, cancel := context.WithTimeout(ctx, e.opt.SendTimeout)
	defer cancel()

	start := time.Now()
	err := e.client.Send(cctx, chatID, text)
	metrics.DeliveryDuration.Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		metrics.DeliveryTotal.WithLabelValues("delivered").Inc()
		return true
	case errors.Is(err, delivery.ErrRecipientBlocked):
		metrics.DeliveryTotal.WithLabelValues("blocked").Inc()
		log.WithField("chat_id", chatID).Warn("recipient unreachable, skipping")
		return false
	default:
		metrics.DeliveryTotal.WithLabelValues("failed").Inc()
		log.WithField("chat_id", chatID).WithError(err).Error("delivery failed")
		return false
	}
}
