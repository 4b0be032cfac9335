package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loci-server/models"
	"loci-server/utils"
)

type recordingPush struct {
	mu      sync.Mutex
	sent    []PushMessage
	failFor map[string]bool
}

func (p *recordingPush) Send(_ context.Context, msg PushMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failFor[msg.UserID] {
		return errors.New("gateway down")
	}
	p.sent = append(p.sent, msg)
	return nil
}

type prefixImages struct{}

func (prefixImages) ResolveImageURL(_ context.Context, ref string) (string, error) {
	if utils.IsAbsoluteURL(ref) {
		return ref, nil
	}
	return "https://img.test/" + ref, nil
}

func newNotifier(t *testing.T, push PushSender) *NotificationService {
	t.Helper()
	db := newTestDB(t)
	seedUser(t, db, "A", "alice", "Alice", "avatars/a.png")
	seedUser(t, db, "B", "bob", "Bob", "https://cdn.test/b.png")
	return NewNotificationService(db, NewUserDirectory(db), push, prefixImages{})
}

func TestNotifyLevelUpCreatesOneEntryPerParticipant(t *testing.T) {
	push := &recordingPush{}
	svc := newNotifier(t, push)
	ctx := context.Background()

	require.NoError(t, svc.NotifyLevelUp(ctx, LevelUpSignal{ActorID: "A", TargetID: "B", NewLevel: 2}))

	forB, err := svc.List(ctx, "B", 1, 10)
	require.NoError(t, err)
	require.Len(t, forB.Notifications, 1)
	nb := forB.Notifications[0]
	assert.Equal(t, models.NotificationIntimacyLevelUp, nb.Type)
	assert.Equal(t, "A", nb.PeerUserID)
	assert.Equal(t, "Alice", nb.PeerDisplayName)
	assert.Equal(t, "https://img.test/avatars/a.png", nb.PeerImageURL)
	assert.Equal(t, 2, nb.Level)

	forA, err := svc.List(ctx, "A", 1, 10)
	require.NoError(t, err)
	require.Len(t, forA.Notifications, 1)
	assert.Equal(t, "Bob", forA.Notifications[0].PeerDisplayName)
	assert.Equal(t, "https://cdn.test/b.png", forA.Notifications[0].PeerImageURL)

	require.Len(t, push.sent, 2)
	assert.ElementsMatch(t, []string{"A", "B"}, []string{push.sent[0].UserID, push.sent[1].UserID})
	assert.Equal(t, "2", push.sent[0].Data["level"])
}

func TestNotifyLevelUpSurvivesPushFailure(t *testing.T) {
	push := &recordingPush{failFor: map[string]bool{"B": true}}
	svc := newNotifier(t, push)
	ctx := context.Background()

	require.NoError(t, svc.NotifyLevelUp(ctx, LevelUpSignal{ActorID: "A", TargetID: "B", NewLevel: 3}))

	require.Len(t, push.sent, 1)
	assert.Equal(t, "A", push.sent[0].UserID)

	unread, err := svc.UnreadCount(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, int64(1), unread, "inbox entry is kept even when push fails")
}

func TestNotifyLevelUpSkipsMissingParticipant(t *testing.T) {
	push := &recordingPush{}
	svc := newNotifier(t, push)
	ctx := context.Background()

	// B deactivated after the level-up was committed
	require.NoError(t, svc.DB.Where("external_user_id = ?", "B").Delete(&models.AppUser{}).Error)

	require.NoError(t, svc.NotifyLevelUp(ctx, LevelUpSignal{ActorID: "A", TargetID: "B", NewLevel: 2}))

	forA, err := svc.List(ctx, "A", 1, 10)
	require.NoError(t, err)
	require.Len(t, forA.Notifications, 1)
	assert.Equal(t, "B", forA.Notifications[0].PeerUserID)
	assert.Contains(t, forA.Notifications[0].Body, "a friend")

	forB, err := svc.List(ctx, "B", 1, 10)
	require.NoError(t, err)
	assert.Empty(t, forB.Notifications)

	require.Len(t, push.sent, 1)
	assert.Equal(t, "A", push.sent[0].UserID)
}

func TestNotifyLevelUpBothParticipantsUnknown(t *testing.T) {
	svc := newNotifier(t, &recordingPush{})

	err := svc.NotifyLevelUp(context.Background(), LevelUpSignal{ActorID: "ghost", TargetID: "phantom", NewLevel: 2})
	assert.ErrorIs(t, err, ErrUserNotFound)

	var n int64
	require.NoError(t, svc.DB.Model(&models.Notification{}).Count(&n).Error)
	assert.Equal(t, int64(0), n)
}

func TestMarkRead(t *testing.T) {
	svc := newNotifier(t, &recordingPush{})
	ctx := context.Background()
	require.NoError(t, svc.NotifyLevelUp(ctx, LevelUpSignal{ActorID: "A", TargetID: "B", NewLevel: 2}))

	page, err := svc.List(ctx, "B", 1, 10)
	require.NoError(t, err)
	id := page.Notifications[0].ID

	_, err = svc.MarkRead(ctx, "A", id)
	assert.ErrorIs(t, err, ErrNotificationNotFound, "not the owner")

	n, err := svc.MarkRead(ctx, "B", id)
	require.NoError(t, err)
	assert.True(t, n.Read)
	require.NotNil(t, n.ReadAt)

	again, err := svc.MarkRead(ctx, "B", id)
	require.NoError(t, err)
	assert.True(t, again.Read)

	unread, err := svc.UnreadCount(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, int64(0), unread)
}

func TestPurgeReadKeepsUnread(t *testing.T) {
	svc := newNotifier(t, &recordingPush{})
	ctx := context.Background()
	require.NoError(t, svc.NotifyLevelUp(ctx, LevelUpSignal{ActorID: "A", TargetID: "B", NewLevel: 2}))

	page, err := svc.List(ctx, "B", 1, 10)
	require.NoError(t, err)
	_, err = svc.MarkRead(ctx, "B", page.Notifications[0].ID)
	require.NoError(t, err)

	purged, err := svc.PurgeRead(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(0), purged, "too recent")

	purged, err = svc.PurgeRead(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	unread, err := svc.UnreadCount(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, int64(1), unread)
}

func TestNewSinceCursor(t *testing.T) {
	svc := newNotifier(t, &recordingPush{})
	ctx := context.Background()
	before := time.Now().Add(-time.Second)

	require.NoError(t, svc.NotifyLevelUp(ctx, LevelUpSignal{ActorID: "A", TargetID: "B", NewLevel: 2}))

	items, err := svc.newSince("B", before)
	require.NoError(t, err)
	require.Len(t, items, 1)

	items, err = svc.newSince("B", items[0].CreatedAt)
	require.NoError(t, err)
	assert.Empty(t, items)
}
