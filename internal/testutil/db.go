package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/d60-Lab/tagstream/internal/model"
	"github.com/d60-Lab/tagstream/internal/repository"
	"github.com/d60-Lab/tagstream/pkg/database"
)

// NewDB 内存 sqlite，单连接（:memory: 每个连接是独立的库）
func NewDB(tb testing.TB) *gorm.DB {
	tb.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(tb, err)
	sqlDB, err := db.DB()
	require.NoError(tb, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(tb, database.Migrate(db))
	tb.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

// SeedPost 写入一篇带标签的文章
func SeedPost(tb testing.TB, db *gorm.DB, id, author string, created time.Time, tags ...string) *model.Post {
	tb.Helper()
	p := &model.Post{ID: id, Author: author, Type: "post", Title: "title " + id, Tags: tags, Created: created, Modified: created}
	require.NoError(tb, repository.SavePost(context.Background(), db, p))
	return p
}

// SeedUser 写入一个用户
func SeedUser(tb testing.TB, db *gorm.DB, id string) *model.User {
	tb.Helper()
	u := &model.User{ID: id, Username: "user_" + id, Firstname: "F" + id}
	require.NoError(tb, db.Create(u).Error)
	return u
}
