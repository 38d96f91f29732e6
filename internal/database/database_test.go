package database_test

import (
	"path/filepath"
	"testing"

	"duet/backend/internal/database"
	"duet/backend/internal/database/databasetest"
	"duet/backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectRejectsUnknownDriver(t *testing.T) {
	_, err := database.Connect("mysql", "whatever")
	assert.ErrorContains(t, err, "unsupported database driver")
}

func TestConnectMigratesSchema(t *testing.T) {
	db, err := database.Connect("sqlite", filepath.Join(t.TempDir(), "schema.db"))
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, model := range []any{&models.User{}, &models.Invitation{}, &models.Relationship{}, &models.Post{}, &models.Attachment{}} {
		assert.True(t, db.Migrator().HasTable(model), "%T table missing", model)
	}
}

func TestInvitationCodeIsUnique(t *testing.T) {
	db := databasetest.New(t)

	user := models.User{Username: "ana", Email: "ana@example.com", PasswordHash: "x"}
	require.NoError(t, db.Create(&user).Error)

	first := models.Invitation{Code: "ABCDEFGH", CreatedBy: user.ID, Status: models.InvitationPending}
	require.NoError(t, db.Create(&first).Error)

	second := models.Invitation{Code: "ABCDEFGH", CreatedBy: user.ID, Status: models.InvitationPending}
	assert.Error(t, db.Create(&second).Error)
}
