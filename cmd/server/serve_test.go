package main

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"mindgrate/backend/internal/logging"
)

func TestGoBackground_WaitJoinsAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	var finished atomic.Bool

	goBackground(ctx, &wg, func(ctx context.Context) error {
		<-ctx.Done()
		// Still writing to the database after the signal.
		time.Sleep(20 * time.Millisecond)
		finished.Store(true)
		return nil
	}, logging.NewLogger("test", "error"))

	cancel()
	wg.Wait()
	assert.True(t, finished.Load())
}

func TestGoBackground_ReportsFailure(t *testing.T) {
	var wg sync.WaitGroup
	goBackground(context.Background(), &wg, func(context.Context) error {
		return errors.New("pool closed")
	}, logging.NewLogger("test", "error"))

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("background task was not joined")
	}
}
