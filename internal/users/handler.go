// Package users implements the user management handlers: listing,
// registration, editing, deletion and the profile page.
package users

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/brcampos/staffdesk/internal/auth"
	"github.com/brcampos/staffdesk/internal/logger"
	"github.com/brcampos/staffdesk/internal/model"
)

// Handler serves the user CRUD routes.
type Handler struct {
	store      model.UserStore
	auth       *auth.Manager
	logger     *logger.Logger
	bcryptCost int
}

func NewHandler(store model.UserStore, authManager *auth.Manager, lg *logger.Logger, bcryptCost int) *Handler {
	return &Handler{
		store:      store,
		auth:       authManager,
		logger:     lg,
		bcryptCost: bcryptCost,
	}
}

type userRow struct {
	ID    string
	Name  string
	Email string
	Role  string
}

type listView struct {
	UserName  string
	CSRFToken string
	Users     []userRow
}

type formView struct {
	Erro      string
	CSRFToken string
}

type editView struct {
	User      userRow
	CSRFToken string
}

type profileView struct {
	Name      string
	CSRFToken string
}

// Home renders the landing page.
func (h *Handler) Home(c *gin.Context) {
	c.HTML(http.StatusOK, "home.html", nil)
}

// LoginForm renders the login page, passing the query error marker through.
func (h *Handler) LoginForm(c *gin.Context) {
	c.HTML(http.StatusOK, "login.html", formView{Erro: c.Query("erro")})
}

// List renders all users for the logged-in session.
func (h *Handler) List(c *gin.Context) {
	all, err := h.store.FindAll(c.Request.Context())
	if err != nil {
		h.logger.Error("users: failed to list", "error", err.Error())
		c.String(http.StatusInternalServerError, "Erro ao buscar usuários")
		return
	}

	rows := make([]userRow, 0, len(all))
	for _, user := range all {
		rows = append(rows, userRow{
			ID:    user.ID.String(),
			Name:  user.Name,
			Email: user.Email,
			Role:  user.Role,
		})
	}

	current, _ := auth.CurrentUser(c)
	c.HTML(http.StatusOK, "users_list.html", listView{
		UserName:  current.Name,
		CSRFToken: h.auth.CSRFToken(c),
		Users:     rows,
	})
}

// NewForm renders the registration form. Public route, but the submission
// is still anti-forgery protected, so a token is issued here.
func (h *Handler) NewForm(c *gin.Context) {
	c.HTML(http.StatusOK, "user_form.html", formView{
		Erro:      c.Query("erro"),
		CSRFToken: h.auth.CSRFToken(c),
	})
}

// Create registers a new user. Registration does not log the user in.
func (h *Handler) Create(c *gin.Context) {
	name := c.PostForm("nome_usuario")
	email := model.NormalizeEmail(c.PostForm("email_usuario"))
	role := c.PostForm("cargo_usuario")
	password := c.PostForm("senha_usuario")

	if name == "" || email == "" || password == "" {
		c.Redirect(http.StatusSeeOther, "/users/new?erro=falta_email_ou_senha")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.bcryptCost)
	if err != nil {
		h.logger.Error("users: failed to hash password", "error", err.Error())
		c.String(http.StatusInternalServerError, "Erro ao criar usuário")
		return
	}

	created, err := h.store.Create(c.Request.Context(), model.User{
		ID:           uuid.New(),
		Name:         name,
		Email:        email,
		Role:         role,
		PasswordHash: string(hash),
		CreatedAt:    time.Now(),
	})
	if err != nil {
		if errors.Is(err, model.ErrDuplicateEmail) {
			c.Redirect(http.StatusSeeOther, "/users/new?erro=email_ja_cadastrado")
			return
		}
		h.logger.Error("users: failed to create", "error", err.Error())
		c.String(http.StatusInternalServerError, "Erro ao criar usuário")
		return
	}

	h.logger.Info("user created",
		"email", created.Email,
		"user_id", created.ID.String())

	c.Redirect(http.StatusSeeOther, "/login")
}

// EditForm renders the edit form for one user.
func (h *Handler) EditForm(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	user, err := h.store.FindByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			c.String(http.StatusNotFound, "Usuário não encontrado")
			return
		}
		h.logger.Error("users: failed to load for edit", "error", err.Error())
		c.String(http.StatusInternalServerError, "Erro ao carregar formulário de edição")
		return
	}

	c.HTML(http.StatusOK, "user_edit.html", editView{
		User: userRow{
			ID:    user.ID.String(),
			Name:  user.Name,
			Email: user.Email,
			Role:  user.Role,
		},
		CSRFToken: h.auth.CSRFToken(c),
	})
}

// Update applies the edit form to a user record.
func (h *Handler) Update(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	update := model.UserUpdate{
		Name: c.PostForm("nome_usuario"),
		Role: c.PostForm("cargo_usuario"),
	}
	if err := h.store.UpdateByID(c.Request.Context(), id, update); err != nil && !errors.Is(err, model.ErrNotFound) {
		h.logger.Error("users: failed to update", "error", err.Error())
		c.String(http.StatusInternalServerError, "Erro ao atualizar usuário")
		return
	}

	c.Redirect(http.StatusSeeOther, "/users")
}

// Delete removes a user record.
func (h *Handler) Delete(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	if err := h.store.DeleteByID(c.Request.Context(), id); err != nil && !errors.Is(err, model.ErrNotFound) {
		h.logger.Error("users: failed to delete", "error", err.Error())
		c.String(http.StatusInternalServerError, "Erro ao deletar usuário")
		return
	}

	c.Redirect(http.StatusSeeOther, "/users")
}

// Profile renders the profile page from the session view model.
func (h *Handler) Profile(c *gin.Context) {
	current, ok := auth.CurrentUser(c)
	if !ok {
		c.Redirect(http.StatusFound, "/login")
		return
	}
	c.HTML(http.StatusOK, "profile.html", profileView{
		Name:      current.Name,
		CSRFToken: h.auth.CSRFToken(c),
	})
}

// parseID validates the :id route parameter before it reaches the store.
func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.String(http.StatusBadRequest, "ID inválido")
		return uuid.UUID{}, false
	}
	return id, true
}
