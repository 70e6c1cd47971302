// Package auth owns the session lifecycle and the security middleware
// around it: credential verification, login throttling, anti-forgery token
// checks and the session gate for protected routes.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/brcampos/staffdesk/internal/logger"
	"github.com/brcampos/staffdesk/internal/model"
)

const (
	SessionCookieName    = "sd_session"
	sessionKeyUserID     = "user_id"
	sessionKeyUserName   = "user_name"
	sessionKeyLastActive = "last_active"
	sessionKeyCSRF       = "csrf_secret"

	csrfHeader    = "X-CSRF-Token"
	csrfFormField = "_csrf"

	loginPath = "/login"
)

// Sessions expire after one hour without activity; expired sessions behave
// exactly like absent ones.
var idleTimeout = time.Hour

// SessionMaxAgeSeconds is the cookie MaxAge matching the idle timeout.
func SessionMaxAgeSeconds() int {
	return int(idleTimeout.Seconds())
}

// ContextUserKey is where RequireLogin stashes the SessionUser.
const ContextUserKey = "auth.user"

// SessionUser is the view model assembled from validated session data.
// Handlers and views read this, never the session directly.
type SessionUser struct {
	ID   uuid.UUID
	Name string
}

// Manager bundles authentication state and handlers.
type Manager struct {
	store   model.UserStore
	logger  *logger.Logger
	limiter *RateLimiter

	// sentinelHash is a bcrypt digest of a discarded random value. It is
	// compared against when no stored hash is available so that lookup
	// misses and corrupt records cost the same as a real verification.
	sentinelHash []byte
}

// NewManager creates the authentication manager. cost is the bcrypt work
// factor used for the timing sentinel; it should match the factor used when
// registering users.
func NewManager(store model.UserStore, lg *logger.Logger, cost int) (*Manager, error) {
	seed := make([]byte, 16)
	if _, err := rand.Read(seed); err != nil {
		return nil, err
	}
	sentinel, err := bcrypt.GenerateFromPassword([]byte(hex.EncodeToString(seed)), cost)
	if err != nil {
		return nil, err
	}

	return &Manager{
		store:        store,
		logger:       lg,
		limiter:      NewRateLimiter(maxLoginAttempts, loginWindow),
		sentinelHash: sentinel,
	}, nil
}

// Login handles POST /login: verify credentials, establish the session,
// redirect to the user list. Failures redirect back to the form with an
// opaque query marker.
func (m *Manager) Login(c *gin.Context) {
	email := model.NormalizeEmail(c.PostForm("email"))
	password := c.PostForm("senha")

	user, err := m.store.FindByEmail(c.Request.Context(), email)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			// Burn the same bcrypt work as a real verification so a
			// lookup miss is not observable through timing.
			_ = bcrypt.CompareHashAndPassword(m.sentinelHash, []byte(password))
			c.Redirect(http.StatusSeeOther, "/login?erro=usuario")
			return
		}
		m.logger.Error("login: user lookup failed", "error", err.Error())
		c.String(http.StatusInternalServerError, "Erro no login")
		return
	}

	storedHash := []byte(user.PasswordHash)
	if len(storedHash) == 0 {
		storedHash = m.sentinelHash
	}
	if err := bcrypt.CompareHashAndPassword(storedHash, []byte(password)); err != nil {
		c.Redirect(http.StatusSeeOther, "/login?erro=senha")
		return
	}

	secret, err := generateSecret()
	if err != nil {
		m.logger.Error("login: failed to generate csrf secret", "error", err.Error())
		c.String(http.StatusInternalServerError, "Erro no login")
		return
	}

	session := sessions.Default(c)
	session.Set(sessionKeyUserID, user.ID.String())
	session.Set(sessionKeyUserName, user.Name)
	session.Set(sessionKeyLastActive, time.Now().Unix())
	session.Set(sessionKeyCSRF, secret)
	if err := session.Save(); err != nil {
		m.logger.Error("login: failed to save session", "error", err.Error())
		c.String(http.StatusInternalServerError, "Erro no login")
		return
	}

	m.logger.Info("login succeeded",
		"email", user.Email,
		"user_id", user.ID.String(),
		"ip", c.ClientIP())

	c.Redirect(http.StatusSeeOther, "/users")
}

// Logout handles POST /logout. Destruction failures are logged and the
// client is redirected to the login page either way, with the cookie
// cleared at the root path.
func (m *Manager) Logout(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	session.Options(sessions.Options{Path: "/", MaxAge: -1})
	if err := session.Save(); err != nil {
		m.logger.Error("logout: failed to destroy session", "error", err.Error())
		// The store write failed, so at least expire the client cookie.
		http.SetCookie(c.Writer, &http.Cookie{
			Name:     SessionCookieName,
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
		})
	}
	c.Redirect(http.StatusSeeOther, loginPath)
}

// RequireLogin gates a route on a valid, non-expired session. Absent and
// expired sessions get the same redirect.
func (m *Manager) RequireLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)

		rawID, ok := session.Get(sessionKeyUserID).(string)
		userID, err := uuid.Parse(rawID)
		if !ok || err != nil {
			m.redirectToLogin(c, session)
			return
		}

		now := time.Now()
		lastActive := readUnix(session.Get(sessionKeyLastActive))
		if lastActive.IsZero() || now.Sub(lastActive) > idleTimeout {
			m.redirectToLogin(c, session)
			return
		}

		session.Set(sessionKeyLastActive, now.Unix())
		if err := session.Save(); err != nil {
			m.logger.Error("session: failed to refresh activity", "error", err.Error())
		}

		name, _ := session.Get(sessionKeyUserName).(string)
		c.Set(ContextUserKey, SessionUser{ID: userID, Name: name})
		c.Next()
	}
}

func (m *Manager) redirectToLogin(c *gin.Context, session sessions.Session) {
	session.Clear()
	if err := session.Save(); err != nil {
		m.logger.Error("session: failed to clear session", "error", err.Error())
	}
	c.Redirect(http.StatusFound, loginPath)
	c.Abort()
}

// CurrentUser returns the view model stashed by RequireLogin.
func CurrentUser(c *gin.Context) (SessionUser, bool) {
	v, ok := c.Get(ContextUserKey)
	if !ok {
		return SessionUser{}, false
	}
	user, ok := v.(SessionUser)
	return user, ok
}

// ThrottleLogin limits login submissions per client IP. Blocked attempts
// never reach the credential store.
func (m *Manager) ThrottleLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		allowed, retryAfter := m.limiter.Allow(ip)
		if !allowed {
			m.logger.Warn("login blocked: too many attempts", "ip", ip)
			c.Header("Retry-After", strconv.FormatInt(int64(retryAfter.Seconds())+1, 10))
			c.String(http.StatusTooManyRequests, "Muitas tentativas de login. Tente novamente em 1 minuto.")
			c.Abort()
			return
		}
		c.Next()
	}
}

// VerifyCSRF rejects state-changing requests whose token does not validate
// against the session secret. The login submission is the single carve-out:
// no session exists at that point in the flow.
func (m *Manager) VerifyCSRF() gin.HandlerFunc {
	return func(c *gin.Context) {
		if isSafeMethod(c.Request.Method) {
			c.Next()
			return
		}
		if c.Request.Method == http.MethodPost && c.Request.URL.Path == loginPath {
			c.Next()
			return
		}

		session := sessions.Default(c)
		secret, ok := session.Get(sessionKeyCSRF).(string)
		if !ok || secret == "" {
			c.String(http.StatusForbidden, "Token CSRF ausente")
			c.Abort()
			return
		}

		supplied := c.PostForm(csrfFormField)
		if supplied == "" {
			supplied = c.GetHeader(csrfHeader)
		}
		if !verifyToken(secret, supplied) {
			c.String(http.StatusForbidden, "Token CSRF inválido")
			c.Abort()
			return
		}

		c.Next()
	}
}

// CSRFToken returns a token for embedding in forms, creating the session
// secret on first use so anonymous forms (registration) can be protected.
// Returns the empty string when no secret can be established.
func (m *Manager) CSRFToken(c *gin.Context) string {
	session := sessions.Default(c)
	secret, ok := session.Get(sessionKeyCSRF).(string)
	if !ok || secret == "" {
		generated, err := generateSecret()
		if err != nil {
			m.logger.Error("csrf: failed to generate secret", "error", err.Error())
			return ""
		}
		session.Set(sessionKeyCSRF, generated)
		if err := session.Save(); err != nil {
			m.logger.Error("csrf: failed to save session", "error", err.Error())
			return ""
		}
		secret = generated
	}

	token, err := issueToken(secret)
	if err != nil {
		m.logger.Error("csrf: failed to issue token", "error", err.Error())
		return ""
	}
	return token
}

func readUnix(v interface{}) time.Time {
	switch t := v.(type) {
	case int64:
		return time.Unix(t, 0)
	case int:
		return time.Unix(int64(t), 0)
	case float64:
		return time.Unix(int64(t), 0)
	default:
		return time.Time{}
	}
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	default:
		return false
	}
}
