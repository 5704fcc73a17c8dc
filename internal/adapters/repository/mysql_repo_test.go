package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rulekeeper/internal/core/domain"
)

func TestSaveRequest(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewMySQLRepository(db)

	now := time.Now()
	rec := &domain.RequestRecord{
		ID:        "0f1e2d3c-0000-4000-8000-000000000001",
		Client:    "192.0.2.10:41234",
		Method:    "GET",
		Path:      "/rules",
		Status:    200,
		ErrorCode: 0,
		CreatedAt: now,
	}

	mock.ExpectExec("INSERT INTO request_log").
		WithArgs(rec.ID, rec.Client, rec.Method, rec.Path, rec.Status, rec.ErrorCode, now).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = repo.SaveRequest(context.Background(), rec)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRequestError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewMySQLRepository(db)

	mock.ExpectExec("INSERT INTO request_log").
		WillReturnError(assert.AnError)

	err = repo.SaveRequest(context.Background(), &domain.RequestRecord{
		ID:        "id",
		Method:    "GET",
		Path:      "/rules",
		CreatedAt: time.Now(),
	})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPurgeOlderThan(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewMySQLRepository(db)

	cutoff := time.Now().AddDate(0, 0, -7)
	mock.ExpectExec("DELETE FROM request_log WHERE created_at").
		WithArgs(cutoff, 1000).
		WillReturnResult(sqlmock.NewResult(0, 42))

	purged, err := repo.PurgeOlderThan(context.Background(), cutoff, 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(42), purged)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCount(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewMySQLRepository(db)

	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(123))

	count, err := repo.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(123), count)
	assert.NoError(t, mock.ExpectationsWereMet())
}
