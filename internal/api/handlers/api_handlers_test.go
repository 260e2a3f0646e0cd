package handlers

import (
	"context"
	"encoding/json"
	"image"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"birdwatch-go/config"
	"birdwatch-go/internal/api/middleware"
	"birdwatch-go/internal/capture"
	"birdwatch-go/internal/core/models"
	"birdwatch-go/internal/db"
	"birdwatch-go/internal/db/repository"
	"birdwatch-go/internal/locale"
	"birdwatch-go/internal/server/sse"
	"birdwatch-go/internal/session"
	"birdwatch-go/internal/stats"
	"birdwatch-go/internal/status"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	session *session.Session
	handler *APIHandler
	router  *gin.Engine
	now     time.Time
}

func newTestEnv(t *testing.T, hub *sse.Hub, ttl time.Duration) *testEnv {
	t.Helper()
	conn, err := db.Open(filepath.Join(t.TempDir(), "captures.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(conn) })

	store, err := capture.NewStore(t.TempDir(), repository.NewSQLiteRepository(conn),
		config.CaptureConfig{MaxCaptures: 50, JPEGQuality: 75})
	require.NoError(t, err)

	sess := session.New(stats.NewAggregator(t0), store, session.Options{
		Thresholds:     status.DefaultThresholds(),
		RecentCaptures: 5,
		ImageBaseURL:   "/captures",
	})
	bundle, err := locale.NewBundle("en")
	require.NoError(t, err)

	env := &testEnv{session: sess, now: t0.Add(time.Minute)}
	env.handler = NewAPIHandler(sess, bundle, hub, nil, ttl).WithClock(func() time.Time { return env.now })

	router := gin.New()
	router.Use(sessions.Sessions("test", cookie.NewStore([]byte("secret"))))
	router.Use(middleware.I18n(bundle))
	env.handler.RegisterRoutes(router.Group("/api"))
	env.router = router
	return env
}

func (e *testEnv) commit(t *testing.T, ts time.Time, dets ...models.Detection) *models.Capture {
	t.Helper()
	e.session.RecordMotion()
	c, err := e.session.Commit(models.NewFrame(ts, image.NewGray(image.Rect(0, 0, 8, 8))), dets, ts)
	require.NoError(t, err)
	return c
}

func (e *testEnv) get(t *testing.T, path string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestGetStats(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil, 0)
	env.commit(t, t0.Add(10*time.Second), models.Detection{Label: models.LabelBird, Confidence: 0.8, Species: "Robin"})

	w := env.get(t, "/api/stats")
	require.Equal(t, http.StatusOK, w.Code)

	snap := decode[session.StatusSnapshot](t, w)
	assert.Equal(t, status.Active, snap.Status)
	assert.Equal(t, "status-active", snap.StatusKey)
	assert.Equal(t, "Last activity: Just now", snap.StatusText)
	assert.Equal(t, 1, snap.MotionEvents)
	assert.Equal(t, 1, snap.Detections[models.LabelBird])
	assert.Equal(t, 100.0, snap.DetectionRate)
	require.Len(t, snap.RecentCaptures, 1)
	assert.True(t, strings.HasPrefix(snap.RecentCaptures[0].Image, "/captures/motion_"))
}

func TestGetStatsLanguageSelection(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil, 0)

	w := env.get(t, "/api/stats", "Accept-Language", "de-DE,de;q=0.9")
	assert.Equal(t, "Noch keine Erkennungen", decode[session.StatusSnapshot](t, w).StatusText)

	w = env.get(t, "/api/stats?lang=de")
	assert.Equal(t, "Noch keine Erkennungen", decode[session.StatusSnapshot](t, w).StatusText)
	cookies := w.Result().Cookies()
	require.NotEmpty(t, cookies, "the language choice is stored in the session")

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.Header.Set("Accept-Language", "en")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, "Noch keine Erkennungen", decode[session.StatusSnapshot](t, w).StatusText,
		"the session wins over Accept-Language")

	w = env.get(t, "/api/stats?lang=xx")
	assert.Equal(t, "No detections yet", decode[session.StatusSnapshot](t, w).StatusText)
}

func TestSnapshotCacheIsFlushedOnCapture(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil, time.Hour)

	assert.Zero(t, decode[session.StatusSnapshot](t, env.get(t, "/api/stats")).TotalDetections)

	c := env.commit(t, t0, models.Detection{Label: models.LabelDog, Confidence: 0.9})
	assert.Zero(t, decode[session.StatusSnapshot](t, env.get(t, "/api/stats")).TotalDetections,
		"served from the cache")

	env.handler.OnCapture(*c)
	assert.Equal(t, 1, decode[session.StatusSnapshot](t, env.get(t, "/api/stats")).TotalDetections)
}

func TestSnapshotBuiltAcrossCaptureIsNotCached(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil, time.Hour)

	var once sync.Once
	env.handler.WithClock(func() time.Time {
		once.Do(func() { env.handler.OnCapture(models.Capture{ID: "mid-build"}) })
		return env.now
	})
	require.Equal(t, http.StatusOK, env.get(t, "/api/stats").Code)
	assert.Zero(t, env.handler.snapshots.ItemCount(), "snapshot raced a capture")

	require.Equal(t, http.StatusOK, env.get(t, "/api/stats").Code)
	assert.Equal(t, 1, env.handler.snapshots.ItemCount())

	c := env.commit(t, t0, models.Detection{Label: models.LabelDog, Confidence: 0.9})
	env.handler.OnCapture(*c)
	assert.Equal(t, 1, decode[session.StatusSnapshot](t, env.get(t, "/api/stats")).TotalDetections)
}

func TestListAndGetCaptures(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil, 0)
	first := env.commit(t, t0, models.Detection{Label: models.LabelPerson, Confidence: 0.9})
	env.commit(t, t0.Add(time.Second))
	env.now = t0.Add(2 * time.Minute)

	w := env.get(t, "/api/captures?limit=1")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[struct {
		Captures []session.CaptureView `json:"captures"`
		Total    int                   `json:"total"`
	}](t, w)
	assert.Equal(t, 2, body.Total)
	require.Len(t, body.Captures, 1)
	assert.Equal(t, "1m ago", body.Captures[0].TimeAgo)

	w = env.get(t, "/api/captures/"+first.ID)
	require.Equal(t, http.StatusOK, w.Code)
	view := decode[session.CaptureView](t, w)
	assert.True(t, view.DetectionInfo.HasPerson)

	assert.Equal(t, http.StatusNotFound, env.get(t, "/api/captures/motion_missing").Code)
	assert.Equal(t, http.StatusBadRequest, env.get(t, "/api/captures?limit=0").Code)
	assert.Equal(t, http.StatusBadRequest, env.get(t, "/api/captures?limit=abc").Code)
}

func TestStatsBreakdowns(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil, 0)
	env.commit(t, t0, models.Detection{Label: models.LabelBird, Confidence: 0.6})
	env.commit(t, t0.Add(time.Second), models.Detection{Label: models.LabelBird, Confidence: 0.8})

	hourly := decode[[]stats.Bucket](t, env.get(t, "/api/stats/hourly?hours=3"))
	require.Len(t, hourly, 3)
	assert.Equal(t, 2, hourly[0].Counts[models.LabelBird])

	daily := decode[[]stats.Bucket](t, env.get(t, "/api/stats/daily"))
	assert.Len(t, daily, defaultDays)

	conf := decode[map[models.Label]stats.ConfidenceStats](t, env.get(t, "/api/stats/confidence"))
	assert.InDelta(t, 0.7, conf[models.LabelBird].Average, 1e-9)

	entries := decode[[]stats.LogEntry](t, env.get(t, "/api/stats/log"))
	assert.Len(t, entries, 2)

	assert.Equal(t, http.StatusBadRequest, env.get(t, "/api/stats/hourly?hours=1000").Code)
}

func TestGetLanguagesAndSystem(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil, 0)

	langs := decode[struct {
		Current   string   `json:"current"`
		Available []string `json:"available"`
	}](t, env.get(t, "/api/languages?lang=de"))
	assert.Equal(t, "de", langs.Current)
	assert.ElementsMatch(t, []string{"de", "en"}, langs.Available)

	w := env.get(t, "/api/system")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_routines")
}

func TestEventsDisabledWithoutHub(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil, 0)
	assert.Equal(t, http.StatusServiceUnavailable, env.get(t, "/api/events").Code)
}

// streamRecorder adds the close notification gin's Stream waits on
type streamRecorder struct {
	*httptest.ResponseRecorder
	closed chan bool
}

func (r *streamRecorder) CloseNotify() <-chan bool {
	return r.closed
}

func TestEventsSendsInitialSnapshot(t *testing.T) {
	hub := sse.NewHub()
	hubCtx, stopHub := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(hubCtx)
	}()
	defer func() { stopHub(); wg.Wait() }()

	env := newTestEnv(t, hub, 0)

	reqCtx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(reqCtx)
	w := &streamRecorder{ResponseRecorder: httptest.NewRecorder(), closed: make(chan bool)}
	done := make(chan struct{})
	go func() {
		defer close(done)
		env.router.ServeHTTP(w, req)
	}()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("event stream did not end after the client left")
	}

	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "event:snapshot")
	assert.Contains(t, w.Body.String(), "status-no_data")
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, time.Millisecond)
}
