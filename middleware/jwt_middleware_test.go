package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"salesreach/config"
	"salesreach/models"
	"salesreach/utils"
)

type protectedFixture struct {
	app  *fiber.App
	db   *gorm.DB
	user *models.User
}

func newProtectedFixture(t *testing.T) *protectedFixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.User{}))

	config.DB = db
	config.AppConfig.JWTSecret = "test-secret"

	user := &models.User{Email: "owner@example.com", IsActive: true}
	require.NoError(t, db.Create(user).Error)

	app := fiber.New()
	app.Get("/me", Protected(), func(c *fiber.Ctx) error {
		current := c.Locals("user").(*models.User)
		return c.JSON(fiber.Map{"id": current.ID})
	})

	return &protectedFixture{app: app, db: db, user: user}
}

func TestProtectedAcceptsBearerToken(t *testing.T) {
	f := newProtectedFixture(t)
	token, err := utils.GenerateJWTToken(f.user)
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestProtectedAcceptsCookieToken(t *testing.T) {
	f := newProtectedFixture(t)
	token, err := utils.GenerateJWTToken(f.user)
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/me", nil)
	req.AddCookie(&http.Cookie{Name: "access_token", Value: token})

	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestProtectedRejectsMissingToken(t *testing.T) {
	f := newProtectedFixture(t)

	resp, err := f.app.Test(httptest.NewRequest("GET", "/me", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestProtectedRejectsMalformedHeader(t *testing.T) {
	f := newProtectedFixture(t)

	req := httptest.NewRequest("GET", "/me", nil)
	req.Header.Set("Authorization", "Token abc")

	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestProtectedRejectsForgedToken(t *testing.T) {
	f := newProtectedFixture(t)
	token, err := utils.GenerateJWTToken(f.user)
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token+"xx")

	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestProtectedRejectsInactiveUser(t *testing.T) {
	f := newProtectedFixture(t)
	require.NoError(t, f.db.Model(f.user).Update("is_active", false).Error)

	token, err := utils.GenerateJWTToken(f.user)
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}
