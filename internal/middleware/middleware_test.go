package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yukikurage/task-hierarchy-api/internal/constants"
	"github.com/yukikurage/task-hierarchy-api/internal/logger"
	"github.com/yukikurage/task-hierarchy-api/internal/services"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRequestID_Generated(t *testing.T) {
	var captured string
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) {
		captured = logger.RequestID(c.Request.Context())
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	require.NotEmpty(t, captured)
	assert.Equal(t, captured, w.Header().Get(constants.HeaderRequestID))
	assert.Len(t, captured, 36)
}

func TestRequestID_Propagated(t *testing.T) {
	var captured string
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) {
		captured = logger.RequestID(c.Request.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Header.Set(constants.HeaderRequestID, "req-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "req-123", captured)
	assert.Equal(t, "req-123", w.Header().Get(constants.HeaderRequestID))
}

func TestRequestLogger_IncludesRequestID(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewWithWriter(&buf, "info", "taskd-test")

	r := gin.New()
	r.Use(RequestID(), RequestLogger(log))
	r.GET("/tasks/:id", func(c *gin.Context) {
		c.Status(http.StatusNotFound)
	})

	req := httptest.NewRequest(http.MethodGet, "/tasks/abc", http.NoBody)
	req.Header.Set(constants.HeaderRequestID, "req-9")
	r.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	assert.Contains(t, out, `"request_id":"req-9"`)
	assert.Contains(t, out, `"path":"/tasks/:id"`)
	assert.Contains(t, out, `"status":404`)
	assert.Contains(t, out, `"level":"WARN"`)
}

func TestResolveActor_FromHeader(t *testing.T) {
	var actor string
	var ok bool
	r := gin.New()
	r.Use(ResolveActor())
	r.GET("/", func(c *gin.Context) {
		actor, ok = services.ActorFromContext(c.Request.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Header.Set(constants.HeaderActorID, "robot-7")
	r.ServeHTTP(httptest.NewRecorder(), req)

	assert.True(t, ok)
	assert.Equal(t, "robot-7", actor)
}

func TestResolveActor_SessionWinsOverHeader(t *testing.T) {
	r := gin.New()
	r.Use(sessions.Sessions(constants.SessionCookieName, cookie.NewStore([]byte("test-secret"))))
	r.GET("/login", func(c *gin.Context) {
		session := sessions.Default(c)
		session.Set(constants.ContextKeyUserID, uint64(99))
		require.NoError(t, session.Save())
	})

	var actor string
	r.GET("/whoami", ResolveActor(), func(c *gin.Context) {
		actor, _ = GetActorID(c)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/login", http.NoBody))
	cookies := w.Result().Cookies()
	require.NotEmpty(t, cookies)

	req := httptest.NewRequest(http.MethodGet, "/whoami", http.NoBody)
	req.Header.Set(constants.HeaderActorID, "spoofed")
	for _, ck := range cookies {
		req.AddCookie(ck)
	}
	r.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "99", actor)
}

func TestResolveActor_Anonymous(t *testing.T) {
	var ok bool
	r := gin.New()
	r.Use(ResolveActor())
	r.GET("/", func(c *gin.Context) {
		_, ok = GetActorID(c)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	assert.False(t, ok)
}

func TestResolveActor_RejectsOversizedHeader(t *testing.T) {
	reached := false
	r := gin.New()
	r.Use(ResolveActor())
	r.POST("/", func(c *gin.Context) {
		reached = true
	})

	req := httptest.NewRequest(http.MethodPost, "/", http.NoBody)
	req.Header.Set(constants.HeaderActorID, strings.Repeat("x", constants.MaxActorIDLength+1))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, reached)

	req = httptest.NewRequest(http.MethodPost, "/", http.NoBody)
	req.Header.Set(constants.HeaderActorID, strings.Repeat("x", constants.MaxActorIDLength))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, reached)
}
