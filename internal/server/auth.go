package server

import (
	"context"
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/mindgraph/internal/runtime"
	"github.com/mohammad-safakhou/mindgraph/internal/store"
	"github.com/mohammad-safakhou/mindgraph/models"
)

const minPasswordLen = 8

// UserStore is the account half of the repository.
type UserStore interface {
	CreateUser(ctx context.Context, email, hash string) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, bool, error)
}

type AuthHandler struct {
	Users        UserStore
	Secret       []byte
	TTL          time.Duration
	SecureCookie bool
}

func (a *AuthHandler) Register(g *echo.Group) {
	g.POST("/signup", a.signup)
	g.POST("/login", a.login)
	g.POST("/logout", a.logout)
}

// signup creates an account and logs it in.
func (a *AuthHandler) signup(c echo.Context) error {
	var req AuthSignupRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	email, err := normaliseEmail(req.Email)
	if err != nil {
		return err
	}
	if len(req.Password) < minPasswordLen {
		return echo.NewHTTPError(http.StatusBadRequest, "password too short")
	}
	hash, err := runtime.HashPassword(req.Password)
	if err != nil {
		return err
	}
	user, err := a.Users.CreateUser(c.Request().Context(), email, hash)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return echo.NewHTTPError(http.StatusConflict, "email already exists")
		}
		return err
	}
	return a.issue(c, http.StatusCreated, user.ID)
}

// login returns a JWT in the auth cookie and in the body for bearer flows.
func (a *AuthHandler) login(c echo.Context) error {
	var req AuthLoginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	email, err := normaliseEmail(req.Email)
	if err != nil {
		return err
	}
	user, ok, err := a.Users.GetUserByEmail(c.Request().Context(), email)
	if err != nil {
		return err
	}
	if !ok || runtime.CheckPassword(user.PasswordHash, req.Password) != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
	}
	return a.issue(c, http.StatusOK, user.ID)
}

func (a *AuthHandler) logout(c echo.Context) error {
	c.SetCookie(&http.Cookie{
		Name:     runtime.AuthCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	return c.NoContent(http.StatusOK)
}

func (a *AuthHandler) issue(c echo.Context, status int, userID string) error {
	signed, err := runtime.SignJWT(userID, a.Secret, a.TTL)
	if err != nil {
		return err
	}
	c.SetCookie(&http.Cookie{
		Name:     runtime.AuthCookie,
		Value:    signed,
		Path:     "/",
		Expires:  time.Now().Add(a.TTL),
		HttpOnly: true,
		Secure:   a.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	c.Response().Header().Set(echo.HeaderAuthorization, "Bearer "+signed)
	return c.JSON(status, TokenResponse{Token: signed, UserID: userID})
}

func normaliseEmail(raw string) (string, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	addr, err := mail.ParseAddress(raw)
	if err != nil || addr.Address != raw {
		return "", echo.NewHTTPError(http.StatusBadRequest, "invalid email")
	}
	return raw, nil
}

func userID(c echo.Context) string {
	if id, ok := runtime.SubjectFromContext(c.Request().Context()); ok {
		return id
	}
	id, _ := c.Get("user_id").(string)
	return id
}
