package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaskStatusLifecycle(t *testing.T) {
	assert.True(t, TaskPending.CanTransitionTo(TaskProcessing))
	assert.True(t, TaskProcessing.CanTransitionTo(TaskPending))
	assert.True(t, TaskFailed.CanTransitionTo(TaskPending))
	assert.True(t, TaskComplete.CanTransitionTo(TaskDelivered))

	assert.False(t, TaskPending.CanTransitionTo(TaskComplete))
	assert.False(t, TaskFailed.CanTransitionTo(TaskDelivered))
	for _, st := range AllTaskStatuses {
		assert.False(t, TaskDelivered.CanTransitionTo(st), "delivered is final, got %s", st)
	}

	var deliverable []TaskStatus
	for _, st := range AllTaskStatuses {
		if st.Deliverable() {
			deliverable = append(deliverable, st)
		}
	}
	assert.Equal(t, []TaskStatus{TaskComplete, TaskFailed}, deliverable)

	for _, st := range AllTaskStatuses {
		got, err := ParseTaskStatus(string(st))
		assert.NoError(t, err)
		assert.Equal(t, st, got)
	}
	_, err := ParseTaskStatus("done")
	assert.Error(t, err)
}
