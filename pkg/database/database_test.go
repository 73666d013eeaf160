package database

import (
	"database/sql"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *sql.DB {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "test.db")
	db, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty path", func(c *Config) { c.DatabasePath = "" }},
		{"zero connections", func(c *Config) { c.MaxConnections = 0 }},
		{"zero lifetime", func(c *Config) { c.ConnMaxLifetime = 0 }},
		{"zero idle", func(c *Config) { c.ConnMaxIdleTime = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestConfig_DSN(t *testing.T) {
	cfg := &Config{DatabasePath: "/tmp/x.db"}
	assert.Contains(t, cfg.DSN(), "file:/tmp/x.db?")
	assert.Contains(t, cfg.DSN(), "_journal_mode=WAL")
	assert.Contains(t, cfg.DSN(), "_foreign_keys=on")
}

func TestMigrations_EmbeddedApplyAndRerun(t *testing.T) {
	db := openTemp(t)
	mgr := NewMigrationManager(db, Migrations())

	applied, err := mgr.ApplyMigrations()
	require.NoError(t, err)
	assert.Equal(t, []string{"001", "002"}, applied)

	again, err := mgr.ApplyMigrations()
	require.NoError(t, err)
	assert.Empty(t, again)

	versions, err := mgr.AppliedVersions()
	require.NoError(t, err)
	assert.Equal(t, []string{"001", "002"}, versions)

	require.NoError(t, NewSchemaValidator(db).Validate())
	assert.NoError(t, NewSchemaValidator(db).ValidateConstraints())
}

func TestMigrations_OrderAndDescription(t *testing.T) {
	source := fstest.MapFS{
		"010_second.sql":    {Data: []byte("CREATE TABLE b (id TEXT);")},
		"002_first_one.sql": {Data: []byte("CREATE TABLE a (id TEXT);")},
		"README.md":         {Data: []byte("ignored")},
	}
	mgr := NewMigrationManager(openTemp(t), source)

	migrations, err := mgr.LoadMigrations()
	require.NoError(t, err)
	require.Len(t, migrations, 2)
	assert.Equal(t, "002", migrations[0].Version)
	assert.Equal(t, "first_one", migrations[0].Description)
	assert.Equal(t, "010", migrations[1].Version)
}

func TestMigrations_FailureIsAtomic(t *testing.T) {
	db := openTemp(t)
	source := fstest.MapFS{
		"001_ok.sql":     {Data: []byte("CREATE TABLE ok (id TEXT);")},
		"002_broken.sql": {Data: []byte("CREATE TABLE broken (id TEXT); INSERT INTO nowhere VALUES (1);")},
	}
	mgr := NewMigrationManager(db, source)

	applied, err := mgr.ApplyMigrations()
	require.Error(t, err)
	assert.Equal(t, []string{"001"}, applied)

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE name = 'broken'").Scan(&count))
	assert.Equal(t, 0, count)
}

func TestSchemaValidator_EmptyDatabase(t *testing.T) {
	v := NewSchemaValidator(openTemp(t))
	assert.Error(t, v.ValidateTablesExist())
	assert.Error(t, v.Validate())
}

func TestSchemaValidator_StudyRoundTrip(t *testing.T) {
	db := openTemp(t)
	_, err := NewMigrationManager(db, Migrations()).ApplyMigrations()
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Second)
	_, err = db.Exec(`INSERT INTO studies (id, teacher_user_id, join_code, passage_reference, created_at)
		VALUES (?, ?, ?, ?, ?)`, "s1", "teacher", "ABCDEF012345", "John 3:16", now)
	require.NoError(t, err)

	var status string
	require.NoError(t, db.QueryRow("SELECT status FROM studies WHERE id = 's1'").Scan(&status))
	assert.Equal(t, "active", status)

	_, err = db.Exec(`INSERT INTO studies (id, teacher_user_id, join_code, passage_reference)
		VALUES ('s2', 'teacher', 'ABCDEF012345', 'John 3:17')`)
	assert.Error(t, err, "join codes are unique")
}
