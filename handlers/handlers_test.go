package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"loci-server/database"
	"loci-server/middleware"
	"loci-server/models"
	"loci-server/services"
)

type testServer struct {
	app           *fiber.App
	db            *gorm.DB
	intimacy      *services.IntimacyService
	notifications *services.NotificationService
	published     []services.LevelUpSignal
}

func (s *testServer) Publish(signal services.LevelUpSignal) {
	s.published = append(s.published, signal)
}

type noAuth struct{}

func (noAuth) ValidateToken(context.Context, string, string) (*services.ValidateResponse, error) {
	return nil, errors.New("not in tests")
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db, err := database.OpenSQLite(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	for _, u := range []string{"alice", "bob"} {
		require.NoError(t, db.Create(&models.AppUser{
			ID:             uuid.NewString(),
			ExternalUserID: u,
			Username:       u,
			DisplayName:    u,
		}).Error)
	}

	s := &testServer{db: db}
	users := services.NewUserDirectory(db)
	s.intimacy = services.NewIntimacyService(db, services.DefaultLevelTable, s, time.UTC)
	s.notifications = services.NewNotificationService(db, users, services.LogPushSender{}, nil)

	app := fiber.New()
	app.Use(middleware.UserContextMiddleware())
	SetupSystemRoutes(app, db)
	SetupIntimacyRoutes(app, s.intimacy, users, middleware.NewRateLimiter(100, 100))
	SetupNotificationRoutes(app, s.notifications, noAuth{})
	s.app = app
	return s
}

func (s *testServer) do(t *testing.T, method, path, user string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}

	resp, err := s.app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]interface{}{}
	data, _ := io.ReadAll(resp.Body)
	_ = json.Unmarshal(data, &out)
	return resp.StatusCode, out
}

func TestInteractionTrigger(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, "POST", "/internal/interactions", "", fiber.Map{
		"actor_id": "alice", "target_id": "bob", "type": "friend_made",
	})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "accepted", body["status"])
	require.Len(t, s.published, 1)
	assert.Equal(t, 2, s.published[0].NewLevel)

	// throttled looks the same to the caller
	status, body = s.do(t, "POST", "/internal/interactions", "", fiber.Map{
		"actor_id": "bob", "target_id": "alice", "type": "FRIEND_MADE",
	})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "accepted", body["status"])
	assert.Len(t, s.published, 1)
}

func TestInteractionTriggerValidation(t *testing.T) {
	s := newTestServer(t)

	cases := []struct {
		name   string
		body   fiber.Map
		status int
	}{
		{"missing target", fiber.Map{"actor_id": "alice", "type": "NUDGE"}, http.StatusBadRequest},
		{"unknown type", fiber.Map{"actor_id": "alice", "target_id": "bob", "type": "POKE"}, http.StatusBadRequest},
		{"visit without token", fiber.Map{"actor_id": "alice", "target_id": "bob", "type": "VISIT"}, http.StatusBadRequest},
		{"visit with blank token", fiber.Map{"actor_id": "alice", "target_id": "bob", "type": "VISIT", "correlation_token": "   "}, http.StatusBadRequest},
		{"visit with long token", fiber.Map{"actor_id": "alice", "target_id": "bob", "type": "VISIT", "correlation_token": strings.Repeat("t", models.MaxCorrelationTokenLength+1)}, http.StatusBadRequest},
		{"unknown user", fiber.Map{"actor_id": "alice", "target_id": "ghost", "type": "NUDGE"}, http.StatusNotFound},
		{"visit ok", fiber.Map{"actor_id": "alice", "target_id": "bob", "type": "VISIT", "correlation_token": "Post:1"}, http.StatusOK},
	}
	for _, tc := range cases {
		status, _ := s.do(t, "POST", "/internal/interactions", "", tc.body)
		assert.Equal(t, tc.status, status, tc.name)
	}
}

func TestVisitTokensAreCaseSensitive(t *testing.T) {
	s := newTestServer(t)

	for _, token := range []string{"aB3x", "Ab3X", " aB3x ", "🏠"} {
		status, _ := s.do(t, "POST", "/internal/interactions", "", fiber.Map{
			"actor_id": "alice", "target_id": "bob", "type": "VISIT", "correlation_token": token,
		})
		require.Equal(t, http.StatusOK, status, token)
	}

	// " aB3x " trims to an already spent token
	_, body := s.do(t, "GET", "/s/users/bob/intimacy", "alice", nil)
	assert.Equal(t, float64(90), body["cumulative_score"])
}

func TestIntimacyDetailRoute(t *testing.T) {
	s := newTestServer(t)

	status, _ := s.do(t, "GET", "/s/users/bob/intimacy", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body := s.do(t, "GET", "/s/users/bob/intimacy", "alice", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), body["level"])
	assert.Equal(t, float64(50), body["next_level_threshold"])

	status, _ = s.do(t, "GET", "/s/users/ghost/intimacy", "alice", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestNudgeRouteAndTotal(t *testing.T) {
	s := newTestServer(t)

	for i := 0; i < 3; i++ {
		status, _ := s.do(t, "POST", "/s/users/bob/nudge", "alice", nil)
		require.Equal(t, http.StatusOK, status)
	}

	_, body := s.do(t, "GET", "/s/users/alice/intimacy", "bob", nil)
	assert.Equal(t, float64(3), body["cumulative_score"])
	assert.Equal(t, float64(1), body["user_total_level"])

	_, body = s.do(t, "GET", "/s/user/intimacy/total", "alice", nil)
	assert.Equal(t, float64(1), body["total_level"])

	status, body := s.do(t, "GET", "/s/users/bob/intimacy/history?size=2", "alice", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(3), body["total_items"])
	assert.Len(t, body["events"], 2)

	status, _ = s.do(t, "GET", "/s/users/ghost/intimacy/history", "alice", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestNotificationRoutes(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.notifications.NotifyLevelUp(context.Background(),
		services.LevelUpSignal{ActorID: "alice", TargetID: "bob", NewLevel: 2}))

	_, body := s.do(t, "GET", "/s/notifications/unread-count", "bob", nil)
	assert.Equal(t, float64(1), body["unread"])

	status, body := s.do(t, "GET", "/s/notifications", "bob", nil)
	require.Equal(t, http.StatusOK, status)
	items := body["notifications"].([]interface{})
	require.Len(t, items, 1)
	id := items[0].(map[string]interface{})["id"].(string)

	status, _ = s.do(t, "PATCH", "/s/notifications/not-a-uuid/read", "bob", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = s.do(t, "PATCH", "/s/notifications/"+id+"/read", "alice", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, body = s.do(t, "PATCH", "/s/notifications/"+id+"/read", "bob", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["read"])

	_, body = s.do(t, "GET", "/s/notifications/unread-count", "bob", nil)
	assert.Equal(t, float64(0), body["unread"])
}

func TestNotificationStreamRequiresToken(t *testing.T) {
	s := newTestServer(t)

	status, _ := s.do(t, "GET", "/notifications/stream", "", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = s.do(t, "GET", "/notifications/stream?token=x&device_id=d", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestSystemRoutes(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, "GET", "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])

	resp, err := s.app.Test(httptest.NewRequest("GET", "/metrics", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
