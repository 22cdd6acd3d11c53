package core_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"groupremind/internal/core"
	"groupremind/internal/db"
)

func newStore(t *testing.T) *core.Store {
	return &core.Store{DB: db.StartTestPostgres(t)}
}

func mkGroup(t *testing.T, s *core.Store, name string) core.Group {
	t.Helper()
	g, err := s.CreateGroup(context.Background(), name)
	require.NoError(t, err)
	return g
}

func mkRecipient(t *testing.T, s *core.Store, name, chatID, groupID string) core.Recipient {
	t.Helper()
	r, err := s.CreateRecipient(context.Background(), name, chatID, groupID)
	require.NoError(t, err)
	return r
}

func mkReminder(t *testing.T, s *core.Store, text string, due time.Time, groupIDs []string, interval, maxRepeats int) core.Reminder {
	t.Helper()
	r, err := s.CreateReminder(context.Background(), core.ReminderParams{
		Text:                  text,
		DueTime:               due,
		GroupIDs:              groupIDs,
		RepeatIntervalMinutes: interval,
		MaxRepeats:            maxRepeats,
	})
	require.NoError(t, err)
	return r
}

func TestCreateReminder_UnknownGroup(t *testing.T) {
	s := newStore(t)
	_, err := s.CreateReminder(context.Background(), core.ReminderParams{
		Text:     "x",
		DueTime:  time.Now(),
		GroupIDs: []string{"00000000-0000-0000-0000-000000000000"},
	})
	require.ErrorIs(t, err, core.ErrUnknownGroup)
}

func TestCreateGroup_DuplicateName(t *testing.T) {
	s := newStore(t)
	mkGroup(t, s, "ops")
	_, err := s.CreateGroup(context.Background(), "ops")
	require.ErrorIs(t, err, core.ErrDuplicate)
}

func TestClaimDue_OnlyEligible(t *testing.T) {
	s := newStore(t)
	now := time.Now()

	due := mkReminder(t, s, "due", now.Add(-time.Minute), nil, 0, 1)
	mkReminder(t, s, "future", now.Add(time.Hour), nil, 0, 1)
	done := mkReminder(t, s, "done", now.Add(-time.Minute), nil, 0, 1)
	_, err := s.SetCompleted(context.Background(), done.ID, true)
	require.NoError(t, err)

	claimed, err := s.ClaimDue(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.Equal(t, due.ID, claimed[0].ID)
	require.True(t, claimed[0].IsSending)

	// a second claim sees nothing
	again, err := s.ClaimDue(context.Background(), now)
	require.NoError(t, err)
	require.Empty(t, again)
}

func TestConcurrentClaim_NoDuplicates(t *testing.T) {
	s := newStore(t)
	now := time.Now()

	const total = 60
	for i := 0; i < total; i++ {
		mkReminder(t, s, fmt.Sprintf("r-%d", i), now.Add(-time.Minute), nil, 0, 1)
	}

	seen := make(map[string]bool)
	var mu sync.Mutex
	var claimed int64
	var wg sync.WaitGroup

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if atomic.LoadInt64(&claimed) >= int64(total) {
					return
				}
				select {
				case <-ctx.Done():
					return
				default:
				}

				batch, err := s.ClaimDue(context.Background(), now)
				require.NoError(t, err)
				if len(batch) == 0 {
					time.Sleep(5 * time.Millisecond)
					continue
				}

				mu.Lock()
				for _, r := range batch {
					if seen[r.ID] {
						mu.Unlock()
						t.Errorf("duplicate claim: %s", r.ID)
						return
					}
					seen[r.ID] = true
				}
				mu.Unlock()
				atomic.AddInt64(&claimed, int64(len(batch)))
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int64(total), atomic.LoadInt64(&claimed))
	require.Len(t, seen, total)
}

func TestClaimRelease_RoundTrip(t *testing.T) {
	s := newStore(t)
	now := time.Now()
	g := mkGroup(t, s, "team")
	before := mkReminder(t, s, "roundtrip", now.Add(-time.Minute), []string{g.ID}, 15, 3)

	claimed, err := s.ClaimDue(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	require.NoError(t, s.Release(context.Background(), []string{before.ID}))

	after, err := s.GetReminder(context.Background(), before.ID)
	require.NoError(t, err)
	require.False(t, after.IsSending)
	require.Nil(t, after.ClaimedAt)
	require.False(t, after.IsCompleted)
	require.Equal(t, before.Text, after.Text)
	require.Equal(t, before.RepeatCount, after.RepeatCount)
	require.Nil(t, after.SentAt)
	require.WithinDuration(t, before.DueTime, after.DueTime, time.Millisecond)
	require.Equal(t, before.Groups, after.Groups)
}

func TestClaimOne_Statuses(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now()
	cushion := 10 * time.Second

	t.Run("missing", func(t *testing.T) {
		_, _, err := s.ClaimOne(ctx, "00000000-0000-0000-0000-000000000000", now, cushion)
		require.ErrorIs(t, err, core.ErrNotFound)
	})

	t.Run("not due yet", func(t *testing.T) {
		r := mkReminder(t, s, "far", now.Add(time.Hour), nil, 0, 1)
		_, status, err := s.ClaimOne(ctx, r.ID, now, cushion)
		require.NoError(t, err)
		require.Equal(t, core.SendStatusNotDueYet, status)
	})

	t.Run("within cushion claims", func(t *testing.T) {
		r := mkReminder(t, s, "near", now.Add(5*time.Second), nil, 0, 1)
		claimed, status, err := s.ClaimOne(ctx, r.ID, now, cushion)
		require.NoError(t, err)
		require.Empty(t, status)
		require.True(t, claimed.IsSending)
	})

	t.Run("already sending", func(t *testing.T) {
		r := mkReminder(t, s, "busy", now.Add(-time.Minute), nil, 0, 1)
		_, status, err := s.ClaimOne(ctx, r.ID, now, cushion)
		require.NoError(t, err)
		require.Empty(t, status)

		_, status, err = s.ClaimOne(ctx, r.ID, now, cushion)
		require.NoError(t, err)
		require.Equal(t, core.SendStatusAlreadySending, status)
	})

	t.Run("already completed", func(t *testing.T) {
		r := mkReminder(t, s, "over", now.Add(-time.Minute), nil, 0, 1)
		_, err := s.SetCompleted(ctx, r.ID, true)
		require.NoError(t, err)
		_, status, err := s.ClaimOne(ctx, r.ID, now, cushion)
		require.NoError(t, err)
		require.Equal(t, core.SendStatusAlreadyCompleted, status)
	})
}

func TestFinalize_RepeatingReminder(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now()
	r := mkReminder(t, s, "weekly standup", now.Add(-time.Minute), nil, 30, 3)

	sendAt := now
	for i := 1; i <= 3; i++ {
		claimed, err := s.ClaimDue(ctx, sendAt)
		require.NoError(t, err)
		require.Len(t, claimed, 1, "send %d should find the reminder due", i)

		res, err := s.Finalize(ctx, r.ID, sendAt)
		require.NoError(t, err)

		got, err := s.GetReminder(ctx, r.ID)
		require.NoError(t, err)
		require.Equal(t, i, got.RepeatCount)
		require.False(t, got.IsSending)
		require.NotNil(t, got.SentAt)

		if i < 3 {
			require.Equal(t, core.FinalizeRepeated, res)
			require.False(t, got.IsCompleted)
			require.WithinDuration(t, sendAt.Add(30*time.Minute), got.DueTime, time.Millisecond)
			sendAt = got.DueTime
		} else {
			require.Equal(t, core.FinalizeCompleted, res)
			require.True(t, got.IsCompleted)
			// due_time keeps its last scheduled value
			require.WithinDuration(t, sendAt, got.DueTime, time.Millisecond)
		}
	}
}

func TestFinalize_SingleShotCompletes(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now()
	r := mkReminder(t, s, "one off", now.Add(-time.Minute), nil, 0, 1)

	_, err := s.ClaimDue(ctx, now)
	require.NoError(t, err)
	res, err := s.Finalize(ctx, r.ID, now)
	require.NoError(t, err)
	require.Equal(t, core.FinalizeCompleted, res)

	got, err := s.GetReminder(ctx, r.ID)
	require.NoError(t, err)
	require.True(t, got.IsCompleted)
	require.False(t, got.IsSending)
	require.Equal(t, 1, got.RepeatCount)
}

func TestReleaseStale(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now()
	r := mkReminder(t, s, "stuck", now.Add(-time.Hour), nil, 0, 1)

	// claim as of an hour ago, as a crashed process would have
	_, err := s.ClaimDue(ctx, now.Add(-time.Hour))
	require.NoError(t, err)

	n, err := s.ReleaseStale(ctx, now, 15*time.Minute)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, err := s.GetReminder(ctx, r.ID)
	require.NoError(t, err)
	require.False(t, got.IsSending)
	require.Nil(t, got.ClaimedAt)

	// fresh claims survive
	_, err = s.ClaimDue(ctx, now)
	require.NoError(t, err)
	n, err = s.ReleaseStale(ctx, now, 15*time.Minute)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestResolveRecipients(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now()

	ga := mkGroup(t, s, "alpha")
	gb := mkGroup(t, s, "beta")
	mkRecipient(t, s, "ann", "chat-1", ga.ID)
	mkRecipient(t, s, "bob", "chat-2", ga.ID)
	mkRecipient(t, s, "cid", "chat-3", gb.ID)

	both := mkReminder(t, s, "both groups", now, []string{ga.ID, gb.ID}, 0, 1)
	one := mkReminder(t, s, "one group", now, []string{gb.ID}, 0, 1)
	none := mkReminder(t, s, "no groups", now, nil, 0, 1)

	got, err := s.ResolveRecipients(ctx, both.ID)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"chat-1", "chat-2", "chat-3"}, got)

	got, err = s.ResolveRecipients(ctx, one.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"chat-3"}, got)

	got, err = s.ResolveRecipients(ctx, none.ID)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestSetCompleted_ClearsClaim(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now()
	r := mkReminder(t, s, "cancel me", now.Add(-time.Minute), nil, 0, 1)

	_, err := s.ClaimDue(ctx, now)
	require.NoError(t, err)

	got, err := s.SetCompleted(ctx, r.ID, true)
	require.NoError(t, err)
	require.True(t, got.IsCompleted)
	require.False(t, got.IsSending, "completed and sending must never both hold")
	require.Nil(t, got.ClaimedAt)
}

func TestListReminders_Pagination(t *testing.T) {
	s := newStore(t)
	now := time.Now()
	for i := 0; i < 5; i++ {
		mkReminder(t, s, fmt.Sprintf("r-%d", i), now.Add(time.Duration(i)*time.Hour), nil, 0, 1)
	}

	items, total, err := s.ListReminders(context.Background(), 1, 2)
	require.NoError(t, err)
	require.Equal(t, 5, total)
	require.Len(t, items, 2)
	// latest due first
	require.Equal(t, "r-4", items[0].Text)

	items, _, err = s.ListReminders(context.Background(), 3, 2)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "r-0", items[0].Text)
}
