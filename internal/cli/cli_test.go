package cli

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yukikurage/task-hierarchy-api/internal/cache"
	"github.com/yukikurage/task-hierarchy-api/internal/config"
	"github.com/yukikurage/task-hierarchy-api/internal/constants"
	"github.com/yukikurage/task-hierarchy-api/internal/models"
	"github.com/yukikurage/task-hierarchy-api/internal/repository"
	"github.com/yukikurage/task-hierarchy-api/internal/services"
	"github.com/yukikurage/task-hierarchy-api/internal/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// useSQLite points newApp at a file database in a temp dir
func useSQLite(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "taskd.db")

	configPath = filepath.Join(dir, "missing.yaml")
	t.Cleanup(func() { configPath = "" })

	t.Setenv("DB_DRIVER", config.DriverSQLite)
	t.Setenv("SQLITE_PATH", path)
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("OPENAI_API_KEY", "")
	return path
}

func TestNewRouter_HealthAndTasks(t *testing.T) {
	db := testutil.NewDB(t)
	stats, err := cache.New[*services.Statistics](8, time.Minute)
	require.NoError(t, err)
	defer stats.Close()

	log := testutil.DiscardLogger()
	service := services.NewTaskService(repository.NewStore(db), stats, nil, log)
	r := newRouter(db, service, nil, log)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", http.NoBody))
	assert.Equal(t, http.StatusOK, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/tasks", strings.NewReader(`{"title":"Ship release"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(constants.HeaderActorID, "cli-test")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.NotEmpty(t, w.Header().Get(constants.HeaderRequestID))
}

func TestNewSessionStore_CookieWithoutRedis(t *testing.T) {
	cfg := config.Defaults()
	cfg.RedisHost = ""

	store, err := newSessionStore(&cfg)
	require.NoError(t, err)
	assert.NotNil(t, store)
}

func TestMigrate_CreatesSchema(t *testing.T) {
	useSQLite(t)

	var out bytes.Buffer
	migrateCmd.SetOut(&out)
	migrateCmd.SetContext(context.Background())

	require.NoError(t, migrateCmd.RunE(migrateCmd, nil))
	assert.Contains(t, out.String(), "up to date")

	a, err := newApp()
	require.NoError(t, err)
	defer a.Close()
	assert.True(t, a.db.Migrator().HasTable(&models.Task{}))
	assert.True(t, a.db.Migrator().HasTable(&models.TaskHistory{}))
}

func TestRecurrences_AdvanceAndUpcoming(t *testing.T) {
	useSQLite(t)

	a, err := newApp()
	require.NoError(t, err)

	ctx := context.Background()
	past := time.Now().UTC().Add(-time.Hour)
	soon := time.Now().UTC().Add(48 * time.Hour)

	_, err = a.service.CreateTask(ctx, services.CreateTaskInput{
		Title:          "Weekly review",
		Recurrence:     models.RecurrenceWeekly,
		NextOccurrence: &past,
	})
	require.NoError(t, err)
	_, err = a.service.CreateTask(ctx, services.CreateTaskInput{
		Title:          "Water plants",
		Recurrence:     models.RecurrenceDaily,
		NextOccurrence: &soon,
	})
	require.NoError(t, err)
	a.Close()

	var out bytes.Buffer
	advanceCmd.SetOut(&out)
	advanceCmd.SetContext(ctx)
	require.NoError(t, runAdvance(advanceCmd, nil))
	assert.Contains(t, out.String(), "Advanced 1 recurring task(s)")

	out.Reset()
	upcomingDays = constants.DefaultUpcomingDays
	upcomingCmd.SetOut(&out)
	upcomingCmd.SetContext(ctx)
	require.NoError(t, runUpcoming(upcomingCmd, nil))
	assert.Contains(t, out.String(), "Weekly review")
	assert.Contains(t, out.String(), "Water plants")
}

func TestRecurrences_UpcomingRejectsBadWindow(t *testing.T) {
	useSQLite(t)

	t.Cleanup(func() { upcomingDays = constants.DefaultUpcomingDays })
	upcomingDays = constants.MaxUpcomingDays + 1

	upcomingCmd.SetOut(&bytes.Buffer{})
	upcomingCmd.SetContext(context.Background())
	err := runUpcoming(upcomingCmd, nil)
	assert.ErrorIs(t, err, services.ErrInvalidDays)
}
