package health

import (
	"context"
	"testing"
	"time"
)

func TestStartAndInvokeStopsCleanly(t *testing.T) {
	s, err := Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Invoke(ctx); err != nil {
		t.Fatalf("Invoke: %v", err)
	}

	select {
	case <-s.done:
	default:
		t.Fatal("expected the sampling goroutine to have exited")
	}
}

func TestSampleDoesNotPanic(t *testing.T) {
	s, err := Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Invoke(ctx)
	}()

	s.sample()
}
