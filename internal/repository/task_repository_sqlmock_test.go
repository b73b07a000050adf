package repository

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newMockRepository(t *testing.T) (TaskRepository, sqlmock.Sqlmock) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	return NewTaskRepository(db), mock
}

func TestList_UsesSingleWindowQuery(t *testing.T) {
	repo, mock := newMockRepository(t)

	rows := sqlmock.NewRows([]string{"id", "title", "status", "priority", "total_count"}).
		AddRow("a1", "first", "active", "high", 42).
		AddRow("b2", "second", "blocked", "low", 42)
	mock.ExpectQuery(`SELECT tasks\.\*, COUNT\(\*\) OVER\(\) AS total_count FROM "tasks" WHERE .*tasks\.tags::jsonb @> .*ORDER BY tasks\.created_at DESC, tasks\.id DESC LIMIT`).
		WillReturnRows(rows)

	tasks, total, err := repo.List(context.Background(), TaskFilter{Tags: []string{"ops"}})
	require.NoError(t, err)

	assert.Equal(t, int64(42), total)
	require.Len(t, tasks, 2)
	assert.Equal(t, "a1", tasks[0].ID)
	assert.Equal(t, "second", tasks[1].Title)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestList_CountsWhenPagePastEnd(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery(`SELECT tasks\.\*, COUNT\(\*\) OVER\(\) AS total_count FROM "tasks"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "total_count"}))
	mock.ExpectQuery(`SELECT count\(\*\) FROM "tasks"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	tasks, total, err := repo.List(context.Background(), TaskFilter{Page: 3, PageSize: 5})
	require.NoError(t, err)

	assert.Empty(t, tasks)
	assert.Equal(t, int64(7), total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestList_EmptyFirstPageSkipsCount(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery(`COUNT\(\*\) OVER\(\)`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "total_count"}))

	tasks, total, err := repo.List(context.Background(), TaskFilter{})
	require.NoError(t, err)

	assert.Empty(t, tasks)
	assert.Zero(t, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}
