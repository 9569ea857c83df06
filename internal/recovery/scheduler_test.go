package recovery

import (
	"context"
	"testing"
	"time"

	"github.com/securestor/securestor/internal/logger"
	"github.com/securestor/securestor/internal/repository/memstore"
)

func TestScheduler_StartRunsImmediateSweepThenStopTerminates(t *testing.T) {
	dir := t.TempDir()
	store := memstore.New()
	svc := newTestService(store, dir)

	sched := NewScheduler(svc, time.Hour, logger.New())
	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	done := make(chan struct{})
	go func() {
		sched.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return; background loop likely leaked")
	}
}

func TestScheduler_StartTwiceReturnsError(t *testing.T) {
	dir := t.TempDir()
	store := memstore.New()
	svc := newTestService(store, dir)

	sched := NewScheduler(svc, time.Hour, logger.New())
	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	defer sched.Stop()

	if err := sched.Start(context.Background()); err == nil {
		t.Error("expected error starting an already-running scheduler")
	}
}
