package repo

import (
	"context"
	"testing"
	"time"

	"github.com/tbourn/go-booking-backend/internal/domain"
)

func newQueueItem(id string, status string, scheduledFor time.Time) domain.NotificationQueueItem {
	return domain.NotificationQueueItem{
		ID:           id,
		BusinessID:   "b1",
		Type:         domain.NotificationTypeReminder,
		Recipient:    "ada@example.com",
		Subject:      "s",
		ScheduledFor: scheduledFor,
		Status:       status,
		MaxAttempts:  domain.DefaultMaxAttempts,
		Priority:     5,
	}
}

func TestEnqueueNotification_AppliesDefaults(t *testing.T) {
	db := newRepoDB(t, &domain.NotificationQueueItem{})

	item := &domain.NotificationQueueItem{
		ID:           "n1",
		BusinessID:   "b1",
		Type:         domain.NotificationTypeCustom,
		Recipient:    "ada@example.com",
		Subject:      "hello",
		ScheduledFor: time.Now().UTC(),
	}
	if err := EnqueueNotification(context.Background(), db, item); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if item.MaxAttempts != domain.DefaultMaxAttempts {
		t.Fatalf("MaxAttempts default = %d; want %d", item.MaxAttempts, domain.DefaultMaxAttempts)
	}
	if item.Priority != 5 {
		t.Fatalf("Priority default = %d; want 5", item.Priority)
	}
	if item.Status != domain.NotificationStatusPending {
		t.Fatalf("Status default = %q; want pending", item.Status)
	}
}

func TestDueNotifications_SelectionAndOrdering(t *testing.T) {
	db := newRepoDB(t, &domain.NotificationQueueItem{})
	now := time.Date(2025, 6, 12, 12, 0, 0, 0, time.UTC)

	due1 := newQueueItem("due-low", domain.NotificationStatusPending, now.Add(-2*time.Hour))
	due1.Priority = 2
	due2 := newQueueItem("due-high", domain.NotificationStatusPending, now.Add(-time.Hour))
	due2.Priority = 8
	future := newQueueItem("future", domain.NotificationStatusPending, now.Add(time.Hour))
	held := newQueueItem("held", domain.NotificationStatusPending, now.Add(-time.Hour))
	retryAt := now.Add(10 * time.Minute)
	held.NextRetryAt = &retryAt
	exhausted := newQueueItem("exhausted", domain.NotificationStatusPending, now.Add(-time.Hour))
	exhausted.Attempts = exhausted.MaxAttempts
	sent := newQueueItem("sent", domain.NotificationStatusSent, now.Add(-time.Hour))

	for _, it := range []domain.NotificationQueueItem{due1, due2, future, held, exhausted, sent} {
		if err := db.Create(&it).Error; err != nil {
			t.Fatalf("seed %s: %v", it.ID, err)
		}
	}

	items, err := DueNotifications(context.Background(), db, now, 50)
	if err != nil {
		t.Fatalf("select due: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 due items, got %d", len(items))
	}
	// Higher priority first even though it was scheduled later.
	if items[0].ID != "due-high" || items[1].ID != "due-low" {
		t.Fatalf("wrong order: %s, %s", items[0].ID, items[1].ID)
	}

	// An elapsed retry hold makes the item due again.
	past := now.Add(-time.Minute)
	if err := db.Model(&domain.NotificationQueueItem{}).Where("id = ?", "held").Update("next_retry_at", past).Error; err != nil {
		t.Fatalf("update hold: %v", err)
	}
	items, err = DueNotifications(context.Background(), db, now, 50)
	if err != nil {
		t.Fatalf("select due after hold: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 due items after hold elapsed, got %d", len(items))
	}
}

func TestDueNotifications_RespectsLimit(t *testing.T) {
	db := newRepoDB(t, &domain.NotificationQueueItem{})
	now := time.Now().UTC()

	for _, id := range []string{"a", "b", "c"} {
		it := newQueueItem(id, domain.NotificationStatusPending, now.Add(-time.Hour))
		if err := db.Create(&it).Error; err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}
	items, err := DueNotifications(context.Background(), db, now, 2)
	if err != nil {
		t.Fatalf("select due: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("limit not applied: got %d", len(items))
	}
}

func TestClaimNotification_OnlyOneWinner(t *testing.T) {
	db := newRepoDB(t, &domain.NotificationQueueItem{})
	now := time.Now().UTC()
	it := newQueueItem("n1", domain.NotificationStatusPending, now.Add(-time.Hour))
	if err := db.Create(&it).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	won, err := ClaimNotification(context.Background(), db, "n1", "worker-a", now)
	if err != nil || !won {
		t.Fatalf("first claim should win (won=%v, err=%v)", won, err)
	}
	won, err = ClaimNotification(context.Background(), db, "n1", "worker-b", now)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if won {
		t.Fatalf("second claim must lose")
	}

	var got domain.NotificationQueueItem
	if err := db.First(&got, "id = ?", "n1").Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Status != domain.NotificationStatusSending || got.ClaimedBy != "worker-a" {
		t.Fatalf("lease not recorded: %+v", got)
	}
}

func TestReleaseNotification_ReturnsToPendingWithHold(t *testing.T) {
	db := newRepoDB(t, &domain.NotificationQueueItem{})
	now := time.Now().UTC()
	it := newQueueItem("n1", domain.NotificationStatusPending, now.Add(-time.Hour))
	if err := db.Create(&it).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := ClaimNotification(context.Background(), db, "n1", "w", now); err != nil {
		t.Fatalf("claim: %v", err)
	}

	nextRetry := now.Add(5 * time.Minute)
	if err := ReleaseNotification(context.Background(), db, "n1", 1, "smtp timeout", nextRetry); err != nil {
		t.Fatalf("release: %v", err)
	}

	var got domain.NotificationQueueItem
	if err := db.First(&got, "id = ?", "n1").Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Status != domain.NotificationStatusPending || got.Attempts != 1 {
		t.Fatalf("release state wrong: %+v", got)
	}
	if got.NextRetryAt == nil || !got.NextRetryAt.Equal(nextRetry) {
		t.Fatalf("retry hold not recorded: %v", got.NextRetryAt)
	}
	if got.ClaimedBy != "" || got.ClaimedAt != nil {
		t.Fatalf("lease not cleared: %+v", got)
	}
	if got.LastError != "smtp timeout" {
		t.Fatalf("last error = %q", got.LastError)
	}
}

func TestMarkNotificationSentAndFailed(t *testing.T) {
	db := newRepoDB(t, &domain.NotificationQueueItem{})
	now := time.Now().UTC().Truncate(time.Second)

	for _, id := range []string{"ok", "bad"} {
		it := newQueueItem(id, domain.NotificationStatusSending, now.Add(-time.Hour))
		if err := db.Create(&it).Error; err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}

	if err := MarkNotificationSent(context.Background(), db, "ok", now); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	var ok domain.NotificationQueueItem
	if err := db.First(&ok, "id = ?", "ok").Error; err != nil {
		t.Fatalf("reload ok: %v", err)
	}
	if ok.Status != domain.NotificationStatusSent || ok.SentAt == nil {
		t.Fatalf("sent state wrong: %+v", ok)
	}
	if !ok.Terminal() {
		t.Fatalf("sent should be terminal")
	}

	if err := MarkNotificationFailed(context.Background(), db, "bad", 3, "boom"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	var bad domain.NotificationQueueItem
	if err := db.First(&bad, "id = ?", "bad").Error; err != nil {
		t.Fatalf("reload bad: %v", err)
	}
	if bad.Status != domain.NotificationStatusFailed || bad.Attempts != 3 || bad.NextRetryAt != nil {
		t.Fatalf("failed state wrong: %+v", bad)
	}
}

func TestCancelPendingForBooking_LeavesSentAlone(t *testing.T) {
	db := newRepoDB(t, &domain.NotificationQueueItem{})
	now := time.Now().UTC()
	bookingID := "bk1"

	pending := newQueueItem("p1", domain.NotificationStatusPending, now.Add(time.Hour))
	pending.BookingID = &bookingID
	sent := newQueueItem("s1", domain.NotificationStatusSent, now.Add(-time.Hour))
	sent.BookingID = &bookingID
	other := newQueueItem("o1", domain.NotificationStatusPending, now.Add(time.Hour))
	otherBooking := "bk2"
	other.BookingID = &otherBooking

	for _, it := range []domain.NotificationQueueItem{pending, sent, other} {
		if err := db.Create(&it).Error; err != nil {
			t.Fatalf("seed %s: %v", it.ID, err)
		}
	}

	n, err := CancelPendingForBooking(context.Background(), db, "b1", bookingID)
	if err != nil {
		t.Fatalf("cancel pending: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 cancelled item, got %d", n)
	}

	var got domain.NotificationQueueItem
	if err := db.First(&got, "id = ?", "s1").Error; err != nil {
		t.Fatalf("reload sent: %v", err)
	}
	if got.Status != domain.NotificationStatusSent {
		t.Fatalf("sent item must stay sent, got %q", got.Status)
	}
	got = domain.NotificationQueueItem{}
	if err := db.First(&got, "id = ?", "o1").Error; err != nil {
		t.Fatalf("reload other: %v", err)
	}
	if got.Status != domain.NotificationStatusPending {
		t.Fatalf("other booking's item must stay pending, got %q", got.Status)
	}
}

func TestPurgeTerminalBefore(t *testing.T) {
	db := newRepoDB(t, &domain.NotificationQueueItem{})
	now := time.Now().UTC()

	old := newQueueItem("old", domain.NotificationStatusSent, now.AddDate(0, 0, -40))
	recent := newQueueItem("recent", domain.NotificationStatusFailed, now.AddDate(0, 0, -10))
	livePending := newQueueItem("live", domain.NotificationStatusPending, now.AddDate(0, 0, -40))

	for _, it := range []domain.NotificationQueueItem{old, recent, livePending} {
		if err := db.Create(&it).Error; err != nil {
			t.Fatalf("seed %s: %v", it.ID, err)
		}
	}
	// Backdate updated_at past the retention cutoff for the old and live rows.
	backdated := now.AddDate(0, 0, -35)
	for _, id := range []string{"old", "live"} {
		if err := db.Model(&domain.NotificationQueueItem{}).Where("id = ?", id).Update("updated_at", backdated).Error; err != nil {
			t.Fatalf("backdate %s: %v", id, err)
		}
	}

	n, err := PurgeTerminalBefore(context.Background(), db, now.AddDate(0, 0, -30))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected exactly the old terminal item purged, got %d", n)
	}

	var count int64
	if err := db.Model(&domain.NotificationQueueItem{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	// Pending items are never purged regardless of age.
	if count != 2 {
		t.Fatalf("expected 2 surviving items, got %d", count)
	}
}

func TestCountPendingNotifications(t *testing.T) {
	db := newRepoDB(t, &domain.NotificationQueueItem{})
	now := time.Now().UTC()

	for i, status := range []string{
		domain.NotificationStatusPending,
		domain.NotificationStatusPending,
		domain.NotificationStatusSent,
	} {
		it := newQueueItem(string(rune('a'+i)), status, now)
		if err := db.Create(&it).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	n, err := CountPendingNotifications(context.Background(), db)
	if err != nil {
		t.Fatalf("count pending: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 pending, got %d", n)
	}
}
