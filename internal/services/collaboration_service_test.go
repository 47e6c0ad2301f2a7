package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"mindgrate/backend/internal/apperr"
	"mindgrate/backend/internal/repository"
	"mindgrate/backend/pkg/models"
)

var _ repository.Repository = (*MockStore)(nil)

const (
	taskID      = "7b0b8a55-5c1f-4c7d-9d59-6a3c1f0e2a11"
	requesterID = "mindop-requester"
	targetID    = "mindop-target"
)

func TestCollaborationService_Create(t *testing.T) {
	store := new(MockStore)
	svc := NewCollaborationService(store, store, 3, nil)

	_, err := svc.Create(context.Background(), requesterID, targetID, "   ", nil)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	store.On("CreateTask", mock.Anything, mock.MatchedBy(func(task *models.CollaborationTask) bool {
		return task.Query == "how many rows?" && task.Status == models.TaskPending &&
			task.RequesterMindOpID == requesterID && task.TargetMindOpID == targetID
	})).Run(func(args mock.Arguments) {
		args.Get(1).(*models.CollaborationTask).ID = taskID
	}).Return(nil).Once()

	task, err := svc.Create(context.Background(), requesterID, targetID, " how many rows? ", models.Metadata{"k": "v"})
	require.NoError(t, err)
	assert.Equal(t, taskID, task.ID)
	store.AssertExpectations(t)
}

func TestCollaborationService_Claim(t *testing.T) {
	store := new(MockStore)
	svc := NewCollaborationService(store, store, 3, nil)

	_, err := svc.Claim(context.Background(), "not-a-uuid")
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	store.On("TransitionTask", mock.Anything, taskID, []models.TaskStatus{models.TaskPending}, models.TaskUpdate{
		Status:            models.TaskProcessing,
		IncrementAttempts: true,
	}).Return(&models.CollaborationTask{ID: taskID, Status: models.TaskProcessing, Attempts: 1}, nil).Once()

	task, err := svc.Claim(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskProcessing, task.Status)
	store.AssertExpectations(t)
}

func TestCollaborationService_Fail(t *testing.T) {
	store := new(MockStore)
	svc := NewCollaborationService(store, store, 3, nil)

	long := strings.Repeat("é", maxErrorMessage+50)
	store.On("TransitionTask", mock.Anything, taskID, []models.TaskStatus{models.TaskProcessing}, mock.MatchedBy(func(u models.TaskUpdate) bool {
		return u.Status == models.TaskFailed &&
			len([]rune(*u.ErrorMessage)) == maxErrorMessage &&
			u.Metadata["retryable"] == true
	})).Return(&models.CollaborationTask{ID: taskID, Status: models.TaskFailed}, nil).Once()

	task, err := svc.Fail(context.Background(), taskID, long, true)
	require.NoError(t, err)
	assert.Equal(t, models.TaskFailed, task.Status)
	store.AssertExpectations(t)
}

func TestCollaborationService_MarkDelivered(t *testing.T) {
	ctx := context.Background()

	t.Run("only the requester may acknowledge", func(t *testing.T) {
		store := new(MockStore)
		svc := NewCollaborationService(store, store, 3, nil)
		store.On("GetTask", mock.Anything, taskID).Return(&models.CollaborationTask{ID: taskID, RequesterMindOpID: requesterID}, nil)
		store.On("GetMindOpByUser", mock.Anything, "user-2").Return(&models.MindOp{ID: "someone-else"}, nil)

		_, err := svc.MarkDelivered(ctx, "user-2", taskID)
		assert.True(t, apperr.IsKind(err, apperr.KindForbidden))
		store.AssertNotCalled(t, "TransitionTask", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("second delivery conflicts", func(t *testing.T) {
		store := new(MockStore)
		svc := NewCollaborationService(store, store, 3, nil)
		store.On("GetTask", mock.Anything, taskID).Return(&models.CollaborationTask{ID: taskID, RequesterMindOpID: requesterID}, nil)
		store.On("GetMindOpByUser", mock.Anything, "user-1").Return(&models.MindOp{ID: requesterID}, nil)
		store.On("TransitionTask", mock.Anything, taskID, []models.TaskStatus{models.TaskComplete}, models.TaskUpdate{Status: models.TaskDelivered}).
			Return(&models.CollaborationTask{ID: taskID, Status: models.TaskDelivered}, nil).Once()
		store.On("TransitionTask", mock.Anything, taskID, []models.TaskStatus{models.TaskComplete}, models.TaskUpdate{Status: models.TaskDelivered}).
			Return(nil, apperr.Conflict("task is %s", models.TaskDelivered)).Once()

		task, err := svc.MarkDelivered(ctx, "user-1", taskID)
		require.NoError(t, err)
		assert.Equal(t, models.TaskDelivered, task.Status)

		_, err = svc.MarkDelivered(ctx, "user-1", taskID)
		assert.True(t, apperr.IsConflict(err))
		store.AssertExpectations(t)
	})
}

func TestCollaborationService_Retry(t *testing.T) {
	ctx := context.Background()

	t.Run("attempt limit", func(t *testing.T) {
		store := new(MockStore)
		svc := NewCollaborationService(store, store, 3, nil)
		store.On("GetTask", mock.Anything, taskID).Return(&models.CollaborationTask{ID: taskID, RequesterMindOpID: requesterID, Attempts: 3}, nil)
		store.On("GetMindOpByUser", mock.Anything, "user-1").Return(&models.MindOp{ID: requesterID}, nil)

		_, err := svc.Retry(ctx, "user-1", taskID)
		assert.True(t, apperr.IsConflict(err))
	})

	t.Run("failed task returns to pending", func(t *testing.T) {
		store := new(MockStore)
		svc := NewCollaborationService(store, store, 3, nil)
		store.On("GetTask", mock.Anything, taskID).Return(&models.CollaborationTask{ID: taskID, RequesterMindOpID: requesterID, Attempts: 1}, nil)
		store.On("GetMindOpByUser", mock.Anything, "user-1").Return(&models.MindOp{ID: requesterID}, nil)
		store.On("TransitionTask", mock.Anything, taskID, []models.TaskStatus{models.TaskFailed}, mock.MatchedBy(func(u models.TaskUpdate) bool {
			return u.Status == models.TaskPending && u.ClearError && !u.IncrementAttempts
		})).Return(&models.CollaborationTask{ID: taskID, Status: models.TaskPending, Attempts: 1}, nil).Once()

		task, err := svc.Retry(ctx, "user-1", taskID)
		require.NoError(t, err)
		assert.Equal(t, models.TaskPending, task.Status)
		store.AssertExpectations(t)
	})
}

func TestCollaborationService_PendingDeliveries(t *testing.T) {
	store := new(MockStore)
	svc := NewCollaborationService(store, store, 3, nil)
	store.On("GetMindOpByUser", mock.Anything, "user-1").Return(&models.MindOp{ID: requesterID}, nil)
	store.On("ListTasks", mock.Anything, models.TaskFilter{
		RequesterMindOpID: requesterID,
		Statuses:          []models.TaskStatus{models.TaskComplete, models.TaskFailed},
	}).Return([]*models.CollaborationTask{{ID: taskID, Status: models.TaskComplete}}, nil)

	tasks, err := svc.PendingDeliveries(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Len(t, tasks, 1)

	store.On("GetMindOpByUser", mock.Anything, "no-mindop").Return(nil, apperr.NotFound("mindop"))
	_, err = svc.PendingDeliveries(context.Background(), "no-mindop")
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestCollaborationService_ReapStale(t *testing.T) {
	store := new(MockStore)
	svc := NewCollaborationService(store, store, 3, nil)
	before := time.Now().Add(-5 * time.Minute)
	store.On("ResetStaleTasks", mock.Anything, mock.MatchedBy(func(cutoff time.Time) bool {
		return !cutoff.Before(before) && cutoff.Before(time.Now())
	})).Return(int64(2), nil)

	n, err := svc.ReapStale(context.Background(), 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestCollaborationService_Release(t *testing.T) {
	store := new(MockStore)
	svc := NewCollaborationService(store, store, 3, nil)

	store.On("TransitionTask", mock.Anything, taskID, []models.TaskStatus{models.TaskProcessing}, models.TaskUpdate{
		Status: models.TaskPending,
	}).Return(&models.CollaborationTask{ID: taskID, Status: models.TaskPending, Attempts: 1}, nil).Once()

	task, err := svc.Release(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskPending, task.Status)
	store.AssertExpectations(t)
}

func TestCollaborationService_RejectsIllegalTransition(t *testing.T) {
	store := new(MockStore)
	svc := NewCollaborationService(store, store, 3, nil)

	_, err := svc.transition(context.Background(), taskID, []models.TaskStatus{models.TaskDelivered}, models.TaskUpdate{Status: models.TaskPending})
	assert.True(t, apperr.IsKind(err, apperr.KindInternal))
	store.AssertNotCalled(t, "TransitionTask", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
