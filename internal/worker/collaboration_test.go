package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"mindgrate/backend/internal/apperr"
	"mindgrate/backend/pkg/models"
)

type MockTasks struct {
	mock.Mock
}

func task(args mock.Arguments) (*models.CollaborationTask, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CollaborationTask), args.Error(1)
}

func (m *MockTasks) Claim(ctx context.Context, id string) (*models.CollaborationTask, error) {
	return task(m.Called(ctx, id))
}

func (m *MockTasks) ClaimNext(ctx context.Context, limit int) ([]*models.CollaborationTask, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.CollaborationTask), args.Error(1)
}

func (m *MockTasks) Complete(ctx context.Context, id, response string, metadata models.Metadata) (*models.CollaborationTask, error) {
	return task(m.Called(ctx, id, response, metadata))
}

func (m *MockTasks) Fail(ctx context.Context, id, message string, retryable bool) (*models.CollaborationTask, error) {
	return task(m.Called(ctx, id, message, retryable))
}

func (m *MockTasks) Release(ctx context.Context, id string) (*models.CollaborationTask, error) {
	return task(m.Called(ctx, id))
}

func (m *MockTasks) ReapStale(ctx context.Context, lease time.Duration) (int64, error) {
	args := m.Called(ctx, lease)
	return args.Get(0).(int64), args.Error(1)
}

type stubAnswerer struct {
	err      error
	inflight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
}

func (s *stubAnswerer) GetMindOp(_ context.Context, id string) (*models.MindOp, error) {
	if id == "missing" {
		return nil, apperr.NotFound("mindop")
	}
	return &models.MindOp{ID: id, Name: "target"}, nil
}

func (s *stubAnswerer) Answer(_ context.Context, _ *models.MindOp, query string) (*models.Answer, error) {
	n := s.inflight.Add(1)
	defer s.inflight.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(s.delay)
	if s.err != nil {
		return nil, s.err
	}
	return &models.Answer{Text: "answer to " + query, Model: "m", Sources: []*models.SearchHit{{}}}, nil
}

// blockingAnswerer answers only when ctx ends.
type blockingAnswerer struct {
	started chan struct{}
}

func (b *blockingAnswerer) GetMindOp(_ context.Context, id string) (*models.MindOp, error) {
	return &models.MindOp{ID: id}, nil
}

func (b *blockingAnswerer) Answer(ctx context.Context, _ *models.MindOp, _ string) (*models.Answer, error) {
	close(b.started)
	<-ctx.Done()
	return nil, apperr.External(ctx.Err(), false, "llm request aborted")
}

func TestProcessTask_Completes(t *testing.T) {
	tasks := new(MockTasks)
	w := NewCollaborationWorker(tasks, &stubAnswerer{}, Config{}, nil)

	tasks.On("Claim", mock.Anything, "t1").
		Return(&models.CollaborationTask{ID: "t1", TargetMindOpID: "m2", Query: "q", Status: models.TaskProcessing, Attempts: 1}, nil)
	tasks.On("Complete", mock.Anything, "t1", "answer to q", mock.MatchedBy(func(md models.Metadata) bool {
		return md["model"] == "m" && md["source_count"] == 1
	})).Return(&models.CollaborationTask{ID: "t1", Status: models.TaskComplete}, nil)

	done, err := w.ProcessTask(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskComplete, done.Status)
	tasks.AssertExpectations(t)
}

func TestProcessTask_RecordsFailure(t *testing.T) {
	tasks := new(MockTasks)
	answerer := &stubAnswerer{err: apperr.Unavailable(errors.New("503"), "llm overloaded")}
	w := NewCollaborationWorker(tasks, answerer, Config{}, nil)

	tasks.On("Claim", mock.Anything, "t1").
		Return(&models.CollaborationTask{ID: "t1", TargetMindOpID: "m2", Query: "q"}, nil)
	tasks.On("Fail", mock.Anything, "t1", mock.AnythingOfType("string"), true).
		Return(&models.CollaborationTask{ID: "t1", Status: models.TaskFailed}, nil)

	done, err := w.ProcessTask(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskFailed, done.Status)
	tasks.AssertExpectations(t)
}

func TestProcessTask_MissingTargetIsPermanent(t *testing.T) {
	tasks := new(MockTasks)
	w := NewCollaborationWorker(tasks, &stubAnswerer{}, Config{}, nil)

	tasks.On("Claim", mock.Anything, "t1").
		Return(&models.CollaborationTask{ID: "t1", TargetMindOpID: "missing"}, nil)
	tasks.On("Fail", mock.Anything, "t1", mock.AnythingOfType("string"), false).
		Return(&models.CollaborationTask{ID: "t1", Status: models.TaskFailed}, nil)

	_, err := w.ProcessTask(context.Background(), "t1")
	require.NoError(t, err)
	tasks.AssertExpectations(t)
}

func TestProcessTask_ClaimConflict(t *testing.T) {
	tasks := new(MockTasks)
	w := NewCollaborationWorker(tasks, &stubAnswerer{}, Config{}, nil)
	tasks.On("Claim", mock.Anything, "t1").Return(nil, apperr.Conflict("task is processing_by_target"))

	_, err := w.ProcessTask(context.Background(), "t1")
	assert.True(t, apperr.IsConflict(err))
	tasks.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessTask_FinishesAfterCancel(t *testing.T) {
	tasks := new(MockTasks)
	w := NewCollaborationWorker(tasks, &stubAnswerer{}, Config{}, nil)
	ctx, cancel := context.WithCancel(context.Background())

	tasks.On("Claim", mock.Anything, "t1").Run(func(mock.Arguments) { cancel() }).
		Return(&models.CollaborationTask{ID: "t1", TargetMindOpID: "m2", Query: "q"}, nil)
	tasks.On("Complete", mock.MatchedBy(func(c context.Context) bool { return c.Err() == nil }), "t1", "answer to q", mock.Anything).
		Return(&models.CollaborationTask{ID: "t1", Status: models.TaskComplete}, nil)

	_, err := w.ProcessTask(ctx, "t1")
	require.NoError(t, err)
	tasks.AssertExpectations(t)
}

func TestRunOnce(t *testing.T) {
	tasks := new(MockTasks)
	answerer := &stubAnswerer{delay: 20 * time.Millisecond}
	w := NewCollaborationWorker(tasks, answerer, Config{BatchSize: 6, Concurrency: 2, Lease: time.Minute}, nil)

	var claimed []*models.CollaborationTask
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		claimed = append(claimed, &models.CollaborationTask{ID: id, TargetMindOpID: "m2", Query: id})
	}
	claimed = append(claimed, &models.CollaborationTask{ID: "f", TargetMindOpID: "missing", Query: "f"})

	tasks.On("ReapStale", mock.Anything, time.Minute).Return(int64(1), nil)
	tasks.On("ClaimNext", mock.Anything, 6).Return(claimed, nil)
	tasks.On("Complete", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&models.CollaborationTask{Status: models.TaskComplete}, nil)
	tasks.On("Fail", mock.Anything, "f", mock.Anything, false).
		Return(&models.CollaborationTask{Status: models.TaskFailed}, nil)

	stats, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Reaped: 1, Claimed: 6, Completed: 5, Failed: 1}, stats)
	assert.LessOrEqual(t, answerer.peak.Load(), int32(2))
	tasks.AssertNumberOfCalls(t, "Complete", 5)
}

func TestRunOnce_ClaimError(t *testing.T) {
	tasks := new(MockTasks)
	w := NewCollaborationWorker(tasks, &stubAnswerer{}, Config{}, nil)
	tasks.On("ClaimNext", mock.Anything, 10).Return(nil, apperr.Unavailable(nil, "database unavailable"))

	_, err := w.RunOnce(context.Background())
	assert.True(t, apperr.IsKind(err, apperr.KindUnavailable))
	tasks.AssertNotCalled(t, "ReapStale", mock.Anything, mock.Anything)
}

func TestRun_StopsOnCancel(t *testing.T) {
	tasks := new(MockTasks)
	w := NewCollaborationWorker(tasks, &stubAnswerer{}, Config{PollInterval: 10 * time.Millisecond}, nil)

	var rounds atomic.Int32
	tasks.On("ClaimNext", mock.Anything, 10).Run(func(mock.Arguments) { rounds.Add(1) }).Return(nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return rounds.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestProcessTask_ReleasesOnCancel(t *testing.T) {
	tasks := new(MockTasks)
	answerer := &blockingAnswerer{started: make(chan struct{})}
	w := NewCollaborationWorker(tasks, answerer, Config{}, nil)
	ctx, cancel := context.WithCancel(context.Background())

	tasks.On("Claim", mock.Anything, "t1").
		Return(&models.CollaborationTask{ID: "t1", TargetMindOpID: "m2", Query: "q", Status: models.TaskProcessing, Attempts: 1}, nil)
	tasks.On("Release", mock.MatchedBy(func(c context.Context) bool { return c.Err() == nil }), "t1").
		Return(&models.CollaborationTask{ID: "t1", Status: models.TaskPending, Attempts: 1}, nil)

	go func() {
		<-answerer.started
		cancel()
	}()

	done, err := w.ProcessTask(ctx, "t1")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, done)
	tasks.AssertExpectations(t)
	tasks.AssertNotCalled(t, "Fail", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessTask_LateCompleteAfterReap(t *testing.T) {
	tasks := new(MockTasks)
	w := NewCollaborationWorker(tasks, &stubAnswerer{}, Config{}, nil)

	tasks.On("Claim", mock.Anything, "t1").
		Return(&models.CollaborationTask{ID: "t1", TargetMindOpID: "m2", Query: "q", Status: models.TaskProcessing, Attempts: 1}, nil)
	// The lease expired and the task was requeued while the answer was in flight.
	tasks.On("Complete", mock.Anything, "t1", "answer to q", mock.Anything).
		Return(nil, apperr.Conflict("task is pending_target_processing"))

	_, err := w.ProcessTask(context.Background(), "t1")
	assert.True(t, apperr.IsConflict(err))
	tasks.AssertNotCalled(t, "Fail", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRunOnce_ReleasesOnCancel(t *testing.T) {
	tasks := new(MockTasks)
	answerer := &blockingAnswerer{started: make(chan struct{})}
	w := NewCollaborationWorker(tasks, answerer, Config{BatchSize: 1}, nil)
	ctx, cancel := context.WithCancel(context.Background())

	tasks.On("ClaimNext", mock.Anything, 1).
		Return([]*models.CollaborationTask{{ID: "t1", TargetMindOpID: "m2", Query: "q", Status: models.TaskProcessing}}, nil)
	tasks.On("Release", mock.Anything, "t1").
		Return(&models.CollaborationTask{ID: "t1", Status: models.TaskPending}, nil)

	go func() {
		<-answerer.started
		cancel()
	}()

	stats, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Claimed: 1, Released: 1}, stats)
	tasks.AssertNotCalled(t, "Fail", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
