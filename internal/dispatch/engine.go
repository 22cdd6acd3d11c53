package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"groupremind/internal/cache"
	"groupremind/internal/core"
	"groupremind/internal/delivery"
	"groupremind/internal/metrics"
)

// Store is the slice of the reminder store the engine needs.
type Store interface {
	ClaimDue(ctx context.Context, now time.Time) ([]core.Reminder, error)
	ClaimOne(ctx context.Context, id string, now time.Time, cushion time.Duration) (core.Reminder, core.SendStatus, error)
	Release(ctx context.Context, ids []string) error
	ReleaseStale(ctx context.Context, now time.Time, olderThan time.Duration) (int, error)
	Finalize(ctx context.Context, id string, now time.Time) (core.FinalizeResult, error)
	ResolveRecipients(ctx context.Context, reminderID string) ([]string, error)
}

type Options struct {
	PollInterval      time.Duration // cadence of the periodic trigger
	SendCushion       time.Duration // due-time grace for the send-now path
	StaleClaimAfter   time.Duration // 0 disables the reconcile pass
	FanoutConcurrency int           // sender goroutines per reminder
	SendTimeout       time.Duration // per-recipient send timeout
	DeliveryQPS       float64       // sustained channel rate
	DeliveryBurst     int
	DBBackoffMin      time.Duration
	DBBackoffMax      time.Duration
}

// ErrDeliveryFailed reports a send-now attempt where no recipient could be
// reached; the claim has already been released.
var ErrDeliveryFailed = errors.New("delivery_failed")

// Engine runs dispatch cycles: claim due reminders, resolve recipients, fan
// out deliveries, then reschedule or complete each reminder.
type Engine struct {
	store   Store
	client  delivery.Client
	cache   *cache.RecipientCache
	logger  *logrus.Logger
	opt     Options
	limiter *rate.Limiter
	clock   func() time.Time
}

func New(store Store, client delivery.Client, recCache *cache.RecipientCache, logger *logrus.Logger, opt Options) *Engine {
	if opt.PollInterval <= 0 {
		opt.PollInterval = 30 * time.Second
	}
	if opt.SendCushion <= 0 {
		opt.SendCushion = 10 * time.Second
	}
	if opt.FanoutConcurrency <= 0 {
		opt.FanoutConcurrency = 8
	}
	if opt.SendTimeout <= 0 {
		opt.SendTimeout = 10 * time.Second
	}
	if opt.DeliveryQPS <= 0 {
		opt.DeliveryQPS = 25
	}
	if opt.DeliveryBurst <= 0 {
		opt.DeliveryBurst = int(opt.DeliveryQPS)
	}
	if opt.DBBackoffMin <= 0 {
		opt.DBBackoffMin = 200 * time.Millisecond
	}
	if opt.DBBackoffMax <= 0 {
		opt.DBBackoffMax = 5 * time.Second
	}
	return &Engine{
		store:   store,
		client:  client,
		cache:   recCache,
		logger:  logger,
		opt:     opt,
		limiter: rate.NewLimiter(rate.Limit(opt.DeliveryQPS), opt.DeliveryBurst),
		clock:   time.Now,
	}
}

// CycleStats summarizes one dispatch cycle.
type CycleStats struct {
	StaleReleased int `json:"stale_released"`
	Claimed       int `json:"claimed"`
	Repeated      int `json:"repeated"`
	Completed     int `json:"completed"`
	NoUsers       int `json:"no_users"`
	Failed        int `json:"failed"`
}

// RunLoop is the periodic trigger: one cycle per tick, jittered exponential
// backoff on infrastructure errors so a down database is not hammered.
func (e *Engine) RunLoop(ctx context.Context) error {
	backoff := e.opt.DBBackoffMin
	ticker := time.NewTicker(e.opt.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := e.RunCycle(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			sleep := jitter(backoff, 0.20)
			e.logger.WithError(err).Errorf("dispatch cycle failed; backing off %s", sleep)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(sleep):
			}
			backoff = minDur(e.opt.DBBackoffMax, time.Duration(float64(backoff)*1.6))
			continue
		}
		backoff = e.opt.DBBackoffMin

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

type reminderOutcome string

const (
	outcomeRepeated  reminderOutcome = "repeated"
	outcomeCompleted reminderOutcome = "completed"
	outcomeNoUsers   reminderOutcome = "no_users"
	outcomeFailed    reminderOutcome = "failed"
)

// RunCycle performs one dispatch run. Reminders are processed sequentially;
// only recipient fan-out within a reminder is concurrent. An infrastructure
// error releases every reminder still claimed by this cycle before returning.
func (e *Engine) RunCycle(ctx context.Context) (CycleStats, error) {
	now := e.clock()
	log := e.logger.WithField("cycle_id", uuid.NewString())
	var stats CycleStats

	if e.opt.StaleClaimAfter > 0 {
		n, err := e.store.ReleaseStale(ctx, now, e.opt.StaleClaimAfter)
		if err != nil {
			metrics.CycleTotal.WithLabelValues("error").Inc()
			return stats, fmt.Errorf("release stale claims: %w", err)
		}
		if n > 0 {
			metrics.StaleClaimsReleased.Add(float64(n))
			log.WithField("released", n).Warn("released stale claims")
		}
		stats.StaleReleased = n
	}

	claimed, err := e.store.ClaimDue(ctx, now)
	if err != nil {
		metrics.CycleTotal.WithLabelValues("error").Inc()
		return stats, fmt.Errorf("claim due reminders: %w", err)
	}
	metrics.ClaimBatchSize.Observe(float64(len(claimed)))
	stats.Claimed = len(claimed)
	if len(claimed) == 0 {
		metrics.CycleTotal.WithLabelValues("ok").Inc()
		return stats, nil
	}
	log.WithField("claimed", len(claimed)).Info("claimed due reminders")

	for i, r := range claimed {
		outcome, err := e.dispatchOne(ctx, log, r)
		if err != nil {
			// Unexpected error: free this reminder and everything after it
			// so the next cycle can retry without losing progress.
			rest := make([]string, 0, len(claimed)-i)
			for _, rr := range claimed[i:] {
				rest = append(rest, rr.ID)
			}
			if relErr := e.store.Release(ctx, rest); relErr != nil {
				log.WithError(relErr).Error("failed to release claims after cycle error")
			}
			metrics.CycleTotal.WithLabelValues("error").Inc()
			return stats, err
		}
		switch outcome {
		case outcomeRepeated:
			stats.Repeated++
		case outcomeCompleted:
			stats.Completed++
		case outcomeNoUsers:
			stats.NoUsers++
		case outcomeFailed:
			stats.Failed++
		}
	}

	metrics.CycleTotal.WithLabelValues("ok").Inc()
	log.WithFields(logrus.Fields{
		"repeated":  stats.Repeated,
		"completed": stats.Completed,
		"no_users":  stats.NoUsers,
		"failed":    stats.Failed,
	}).Info("dispatch cycle finished")
	return stats, nil
}

// dispatchOne handles a single claimed reminder through to its verdict. On a
// returned error the reminder is still claimed; the caller releases it.
func (e *Engine) dispatchOne(ctx context.Context, log *logrus.Entry, r core.Reminder) (reminderOutcome, error) {
	rlog := log.WithField("reminder_id", r.ID)

	chatIDs, ok := e.cache.Get(ctx, r.ID)
	if !ok {
		var err error
		chatIDs, err = e.store.ResolveRecipients(ctx, r.ID)
		if err != nil {
			return "", fmt.Errorf("resolve recipients: %w", err)
		}
		e.cache.Set(ctx, r.ID, chatIDs)
	}

	if len(chatIDs) == 0 {
		if err := e.store.Release(ctx, []string{r.ID}); err != nil {
			return "", fmt.Errorf("release after empty resolve: %w", err)
		}
		metrics.ReminderOutcome.WithLabelValues(string(outcomeNoUsers)).Inc()
		rlog.Warn("no recipients resolved; claim released")
		return outcomeNoUsers, nil
	}

	delivered := e.fanOut(ctx, rlog, r.Text, chatIDs)
	if delivered == 0 {
		if err := e.store.Release(ctx, []string{r.ID}); err != nil {
			return "", fmt.Errorf("release after total failure: %w", err)
		}
		metrics.ReminderOutcome.WithLabelValues(string(outcomeFailed)).Inc()
		rlog.WithField("recipients", len(chatIDs)).Warn("no recipient reached; claim released for retry")
		return outcomeFailed, nil
	}

	res, err := e.store.Finalize(ctx, r.ID, e.clock())
	if err != nil {
		return "", fmt.Errorf("finalize reminder: %w", err)
	}
	metrics.ReminderOutcome.WithLabelValues(string(res)).Inc()
	rlog.WithFields(logrus.Fields{
		"delivered":  delivered,
		"recipients": len(chatIDs),
		"result":     res,
	}).Info("reminder dispatched")
	if res == core.FinalizeRepeated {
		return outcomeRepeated, nil
	}
	return outcomeCompleted, nil
}

// SendNow is the on-demand trigger for a single reminder. The cushion keeps
// an externally scheduled near-due trigger from racing the periodic cycle.
func (e *Engine) SendNow(ctx context.Context, id string) (core.SendStatus, error) {
	now := e.clock()
	r, blocked, err := e.store.ClaimOne(ctx, id, now, e.opt.SendCushion)
	if err != nil {
		return "", err
	}
	if blocked != "" {
		metrics.SendNowTotal.WithLabelValues(string(blocked)).Inc()
		return blocked, nil
	}

	outcome, err := e.dispatchOne(ctx, e.logger.WithField("trigger", "send_now"), r)
	if err != nil {
		if relErr := e.store.Release(ctx, []string{id}); relErr != nil {
			e.logger.WithError(relErr).Error("failed to release claim after send-now error")
		}
		return "", err
	}

	var status core.SendStatus
	switch outcome {
	case outcomeNoUsers:
		status = core.SendStatusNoUsers
	case outcomeRepeated:
		status = core.SendStatusRepeated
	case outcomeCompleted:
		status = core.SendStatusSent
	case outcomeFailed:
		metrics.SendNowTotal.WithLabelValues("failed").Inc()
		return "", ErrDeliveryFailed
	}
	metrics.SendNowTotal.WithLabelValues(string(status)).Inc()
	return status, nil
}

func jitter(d time.Duration, frac float64) time.Duration {
	if frac <= 0 {
		return d
	}
	delta := int64(float64(d) * frac)
	if delta <= 0 {
		return d
	}
	// random in [-delta, +delta]
	n := rand.Int64N(2*delta+1) - delta
	return d + time.Duration(n)
}

func minDur(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
