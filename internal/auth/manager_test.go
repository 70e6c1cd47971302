package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/memstore"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/brcampos/staffdesk/internal/logger"
	"github.com/brcampos/staffdesk/internal/model"
	"github.com/brcampos/staffdesk/internal/repository/memory"
)

// countingStore wraps a UserStore and records credential lookups, so tests
// can assert that blocked attempts never reach the store.
type countingStore struct {
	model.UserStore
	lookups int
}

func (s *countingStore) FindByEmail(ctx context.Context, email string) (model.User, error) {
	s.lookups++
	return s.UserStore.FindByEmail(ctx, email)
}

func newAuthRouter(t *testing.T, store model.UserStore) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	router := gin.New()
	sessionStore := memstore.NewStore([]byte("test-secret"))
	sessionStore.Options(sessions.Options{
		Path:     "/",
		MaxAge:   SessionMaxAgeSeconds(),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	router.Use(sessions.Sessions(SessionCookieName, sessionStore))

	m, err := NewManager(store, logger.New(8), bcrypt.MinCost)
	require.NoError(t, err)
	router.Use(m.VerifyCSRF())

	router.GET("/login", func(c *gin.Context) { c.String(http.StatusOK, "login") })
	router.POST("/login", m.ThrottleLogin(), m.Login)
	router.POST("/logout", m.Logout)
	router.GET("/form", func(c *gin.Context) { c.String(http.StatusOK, m.CSRFToken(c)) })
	router.GET("/protected", m.RequireLogin(), func(c *gin.Context) {
		user, _ := CurrentUser(c)
		c.String(http.StatusOK, user.Name)
	})

	return router
}

func seedUser(t *testing.T, store model.UserStore, email, name, password string) model.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	user, err := store.Create(context.Background(), model.User{
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
	})
	require.NoError(t, err)
	return user
}

func doPost(router *gin.Engine, path string, form url.Values, cookies []*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for _, ck := range cookies {
		req.AddCookie(ck)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func doGet(router *gin.Engine, path string, cookies []*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for _, ck := range cookies {
		req.AddCookie(ck)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestLoginSuccessNormalizesEmail(t *testing.T) {
	store := memory.NewUserRepository()
	seedUser(t, store, "user@example.com", "Maria", "correct-pw")
	router := newAuthRouter(t, store)

	rec := doPost(router, "/login", url.Values{
		"email": {"USER@Example.com "},
		"senha": {"correct-pw"},
	}, nil)

	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/users", rec.Header().Get("Location"))
	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies, "login must set a session cookie")

	protected := doGet(router, "/protected", cookies)
	assert.Equal(t, http.StatusOK, protected.Code)
	assert.Equal(t, "Maria", protected.Body.String())
}

func TestLoginUnknownUser(t *testing.T) {
	store := memory.NewUserRepository()
	router := newAuthRouter(t, store)

	rec := doPost(router, "/login", url.Values{
		"email": {"nobody@example.com"},
		"senha": {"whatever"},
	}, nil)

	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login?erro=usuario", rec.Header().Get("Location"))
	assert.Empty(t, rec.Result().Cookies(), "failed login must not establish a session")
}

func TestLoginWrongPassword(t *testing.T) {
	store := memory.NewUserRepository()
	seedUser(t, store, "user@example.com", "Maria", "correct-pw")
	router := newAuthRouter(t, store)

	rec := doPost(router, "/login", url.Values{
		"email": {"user@example.com"},
		"senha": {"wrong-pw"},
	}, nil)

	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login?erro=senha", rec.Header().Get("Location"))
	assert.Empty(t, rec.Result().Cookies())
}

func TestLoginRateLimited(t *testing.T) {
	store := &countingStore{UserStore: memory.NewUserRepository()}
	router := newAuthRouter(t, store)

	form := url.Values{"email": {"nobody@example.com"}, "senha": {"x"}}
	for i := 0; i < 5; i++ {
		rec := doPost(router, "/login", form, nil)
		require.Equal(t, http.StatusSeeOther, rec.Code, "attempt %d", i+1)
	}

	rec := doPost(router, "/login", form, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, 5, store.lookups, "blocked attempt must not touch the store")
}

func TestRequireLoginWithoutSession(t *testing.T) {
	router := newAuthRouter(t, memory.NewUserRepository())

	rec := doGet(router, "/protected", nil)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))
}

func TestExpiredSessionBehavesLikeAbsent(t *testing.T) {
	store := memory.NewUserRepository()
	seedUser(t, store, "user@example.com", "Maria", "correct-pw")
	router := newAuthRouter(t, store)

	rec := doPost(router, "/login", url.Values{
		"email": {"user@example.com"},
		"senha": {"correct-pw"},
	}, nil)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	cookies := rec.Result().Cookies()

	old := idleTimeout
	idleTimeout = -time.Second
	defer func() { idleTimeout = old }()

	expired := doGet(router, "/protected", cookies)
	require.Equal(t, http.StatusFound, expired.Code)
	assert.Equal(t, "/login", expired.Header().Get("Location"))
}

func TestLogoutDestroysSession(t *testing.T) {
	store := memory.NewUserRepository()
	seedUser(t, store, "user@example.com", "Maria", "correct-pw")
	router := newAuthRouter(t, store)

	login := doPost(router, "/login", url.Values{
		"email": {"user@example.com"},
		"senha": {"correct-pw"},
	}, nil)
	require.Equal(t, http.StatusSeeOther, login.Code)
	cookies := login.Result().Cookies()

	token := doGet(router, "/form", cookies).Body.String()
	require.NotEmpty(t, token)

	logout := doPost(router, "/logout", url.Values{"_csrf": {token}}, cookies)
	require.Equal(t, http.StatusSeeOther, logout.Code)
	assert.Equal(t, "/login", logout.Header().Get("Location"))

	for _, ck := range logout.Result().Cookies() {
		if ck.Name == SessionCookieName {
			assert.Less(t, ck.MaxAge, 0, "cookie must be cleared")
		}
	}

	after := doGet(router, "/protected", cookies)
	assert.Equal(t, http.StatusFound, after.Code)
}

func TestCSRFRejectsMissingToken(t *testing.T) {
	store := memory.NewUserRepository()
	seedUser(t, store, "user@example.com", "Maria", "correct-pw")
	router := newAuthRouter(t, store)

	login := doPost(router, "/login", url.Values{
		"email": {"user@example.com"},
		"senha": {"correct-pw"},
	}, nil)
	cookies := login.Result().Cookies()

	rec := doPost(router, "/logout", url.Values{}, cookies)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	stillIn := doGet(router, "/protected", cookies)
	assert.Equal(t, http.StatusOK, stillIn.Code, "rejected request must have no side effects")
}

func TestCSRFRejectsForeignToken(t *testing.T) {
	store := memory.NewUserRepository()
	seedUser(t, store, "user@example.com", "Maria", "correct-pw")
	router := newAuthRouter(t, store)

	login := doPost(router, "/login", url.Values{
		"email": {"user@example.com"},
		"senha": {"correct-pw"},
	}, nil)
	cookies := login.Result().Cookies()

	secret, err := generateSecret()
	require.NoError(t, err)
	foreign, err := issueToken(secret)
	require.NoError(t, err)

	rec := doPost(router, "/logout", url.Values{"_csrf": {foreign}}, cookies)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCSRFAcceptsHeaderToken(t *testing.T) {
	store := memory.NewUserRepository()
	seedUser(t, store, "user@example.com", "Maria", "correct-pw")
	router := newAuthRouter(t, store)

	login := doPost(router, "/login", url.Values{
		"email": {"user@example.com"},
		"senha": {"correct-pw"},
	}, nil)
	cookies := login.Result().Cookies()

	token := doGet(router, "/form", cookies).Body.String()
	require.NotEmpty(t, token)

	req := httptest.NewRequest(http.MethodPost, "/logout", nil)
	req.Header.Set(csrfHeader, token)
	for _, ck := range cookies {
		req.AddCookie(ck)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusSeeOther, rec.Code)
}
