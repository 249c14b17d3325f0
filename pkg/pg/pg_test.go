package pg

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type row struct {
	ID   int64 `gorm:"primaryKey"`
	Name string
}

func openSqlite(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&row{}))
	return db
}

func TestConfig_DSN(t *testing.T) {
	c := Config{User: "sms", Host: "db", Port: "5432", Password: "pw", Database: "transport"}
	assert.Equal(t, "host=db user=sms password=pw dbname=transport port=5432 sslmode=disable", c.DSN())

	c.SSLMode = "require"
	assert.Contains(t, c.DSN(), "sslmode=require")
}

func TestDB_WithinTransaction(t *testing.T) {
	db := New(nil, openSqlite(t))
	ctx := context.Background()

	t.Run("rollback on error", func(t *testing.T) {
		boom := errors.New("boom")
		err := db.WithinTransaction(ctx, func(ctx context.Context) error {
			require.NoError(t, db.Write(ctx).Create(&row{Name: "a"}).Error)
			return boom
		})
		assert.ErrorIs(t, err, boom)

		var n int64
		require.NoError(t, db.Read(ctx).Model(&row{}).Count(&n).Error)
		assert.Zero(t, n)
	})

	t.Run("commit and nested reuse", func(t *testing.T) {
		err := db.WithinTransaction(ctx, func(ctx context.Context) error {
			if err := db.Write(ctx).Create(&row{Name: "b"}).Error; err != nil {
				return err
			}
			return db.WithinTransaction(ctx, func(ctx context.Context) error {
				var n int64
				if err := db.Read(ctx).Model(&row{}).Count(&n).Error; err != nil {
					return err
				}
				assert.Equal(t, int64(1), n)
				return nil
			})
		})
		require.NoError(t, err)
	})
}

func TestDB_Ping(t *testing.T) {
	db := New(nil, openSqlite(t))
	assert.NoError(t, db.Ping(context.Background()))
}
