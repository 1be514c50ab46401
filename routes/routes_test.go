package routes

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"salesreach/config"
)

func newRoutesApp(t *testing.T) *fiber.App {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, config.MigrateDB(db))

	log := logrus.New()
	log.SetOutput(io.Discard)

	app := fiber.New()
	SetupRoutes(app, db, log)
	return app
}

func TestHealthEndpoint(t *testing.T) {
	app := newRoutesApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/health", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestAPIRequiresAuth(t *testing.T) {
	app := newRoutesApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/sequences", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestSequenceProgressSocketNotShadowed(t *testing.T) {
	app := newRoutesApp(t)

	// A plain GET must reach the websocket handler, which demands a protocol
	// upgrade, instead of being captured by the JWT-protected sequences/:id
	// route.
	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/sequences/progress", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUpgradeRequired, resp.StatusCode)
}
