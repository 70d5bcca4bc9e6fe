package handlers

import (
	"database/sql"
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/padraicbc/racedata/matching"
	mw "github.com/padraicbc/racedata/middleware"
	"github.com/padraicbc/racedata/models"
)

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// HashPasswordForUser validates username/password input and returns a bcrypt hash for storage.
func HashPasswordForUser(username, password string) (string, error) {
	if strings.TrimSpace(username) == "" {
		return "", errors.New("username is required")
	}
	if strings.TrimSpace(password) == "" {
		return "", errors.New("password is required")
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}

	return string(hashedPassword), nil
}

func isAdminUser(username string) bool {
	adminUsers := strings.TrimSpace(os.Getenv("ADMIN_USERS"))
	if adminUsers == "" {
		adminUsers = "admin"
	}

	normalizedUsername := strings.ToLower(strings.TrimSpace(username))
	for _, admin := range strings.Split(adminUsers, ",") {
		if normalizedUsername == strings.ToLower(strings.TrimSpace(admin)) {
			return true
		}
	}

	return false
}

// requireAdmin checks the authenticated requester still exists and is listed
// in ADMIN_USERS.
func (h *Handler) requireAdmin(c echo.Context) error {
	requester, _ := c.Get("username").(string)
	requester = strings.TrimSpace(requester)
	if requester == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}

	if _, err := h.store.GetUserByUsername(c.Request().Context(), requester); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !isAdminUser(requester) {
		return echo.NewHTTPError(http.StatusForbidden, "admin access required")
	}
	return nil
}

// newUser is an admin registration of a racer account.
type newUser struct {
	credentials
	DriverName  string  `json:"driverName"`
	Transponder *string `json:"transponder"`
}

// RegisterUser creates a platform user whose driver name and transponder
// become matching candidates on the next reconcile. Admin only.
func (h *Handler) RegisterUser(c echo.Context) error {
	if err := h.requireAdmin(c); err != nil {
		return err
	}

	var in newUser
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	hash, err := HashPasswordForUser(in.Username, in.Password)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	username := strings.TrimSpace(in.Username)
	if _, err := h.store.GetUserByUsername(ctx, username); err == nil {
		return echo.NewHTTPError(http.StatusConflict, "username already registered")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return httpError(err)
	}

	name := strings.TrimSpace(in.DriverName)
	u := &models.User{
		Username:       username,
		Password:       hash,
		DriverName:     name,
		NormalizedName: matching.NormalizeName(name),
	}
	if in.Transponder != nil {
		if t := strings.TrimSpace(*in.Transponder); t != "" {
			u.Transponder = &t
		}
	}
	if err := h.store.CreateUser(ctx, u); err != nil {
		return httpError(err)
	}
	h.log.Info("user registered", zap.Int64("user_id", u.ID), zap.String("username", u.Username))
	return c.JSON(http.StatusCreated, u)
}

// session is the signin response: the token plus who the user races as.
type session struct {
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expiresAt"`
	User      models.User     `json:"user"`
	Drivers   []models.Driver `json:"drivers"`
}

// Signin validates credentials and returns a JWT valid for 30 days along
// with the drivers confirmed as the user.
func (h *Handler) Signin(c echo.Context) error {
	var creds credentials
	if err := c.Bind(&creds); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()

	user, err := h.store.GetUserByUsername(ctx, strings.TrimSpace(creds.Username))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "incorrect username or password")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(creds.Password)); err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}

	drivers, err := h.store.UserDrivers(ctx, user.ID)
	if err != nil {
		return httpError(err)
	}
	if drivers == nil {
		drivers = []models.Driver{}
	}

	out := session{
		ExpiresAt: time.Now().AddDate(0, 0, 30).UTC().Truncate(time.Second),
		User:      *user,
		Drivers:   drivers,
	}
	out.Token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, &mw.Claims{
		Username: user.Username,
		UserHash: mw.UserHashFromUsername(user.Username, h.JWTKey),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(out.ExpiresAt),
		},
	}).SignedString(h.JWTKey)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	h.log.Debug("signin", zap.String("username", user.Username), zap.Int("drivers", len(drivers)))
	return c.JSON(http.StatusOK, out)
}
