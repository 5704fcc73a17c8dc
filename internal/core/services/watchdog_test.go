package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"

	"rulekeeper/internal/core/domain"
)

// MockAuditRepository mocks AuditRepository
type MockAuditRepository struct {
	mock.Mock
}

func (m *MockAuditRepository) SaveRequest(ctx context.Context, rec *domain.RequestRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *MockAuditRepository) PurgeOlderThan(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	args := m.Called(ctx, cutoff, limit)
	return int64(args.Int(0)), args.Error(1)
}

func (m *MockAuditRepository) Count(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return int64(args.Int(0)), args.Error(1)
}

func TestRunPurgeDeletesOldRecords(t *testing.T) {
	audit := new(MockAuditRepository)
	audit.On("Count", mock.Anything).Return(500, nil)
	audit.On("PurgeOlderThan", mock.Anything, mock.MatchedBy(func(cutoff time.Time) bool {
		// Retention of 7 days puts the cutoff roughly a week back
		expected := time.Now().AddDate(0, 0, -7)
		return cutoff.Sub(expected).Abs() < time.Minute
	}), purgeBatchSize).Return(42, nil)

	runPurge(audit, 7)

	audit.AssertExpectations(t)
}

func TestRunPurgeSurvivesCountFailure(t *testing.T) {
	audit := new(MockAuditRepository)
	audit.On("Count", mock.Anything).Return(0, context.DeadlineExceeded)

	// Must not panic and must not attempt the purge
	runPurge(audit, 7)

	audit.AssertExpectations(t)
	audit.AssertNotCalled(t, "PurgeOlderThan", mock.Anything, mock.Anything, mock.Anything)
}

func TestRunPurgeSurvivesPurgeFailure(t *testing.T) {
	audit := new(MockAuditRepository)
	audit.On("Count", mock.Anything).Return(10, nil)
	audit.On("PurgeOlderThan", mock.Anything, mock.Anything, mock.Anything).
		Return(0, context.DeadlineExceeded)

	runPurge(audit, 7)

	audit.AssertExpectations(t)
}
