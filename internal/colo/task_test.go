package colo

import (
	"context"
	"errors"
	"testing"
)

func TestTask_Cancel(t *testing.T) {
	task := Go(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	if task.Err() != nil {
		t.Error("Err() should be nil while running")
	}
	task.Cancel()

	if err := task.Wait(); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait() = %v, want context.Canceled", err)
	}
	if err := task.Err(); !errors.Is(err, context.Canceled) {
		t.Errorf("Err() = %v, want context.Canceled", err)
	}
}

func TestTask_Result(t *testing.T) {
	want := errors.New("boom")
	task := Go(context.Background(), func(context.Context) error { return want })

	<-task.Done()
	if task.Err() != want {
		t.Errorf("Err() = %v, want %v", task.Err(), want)
	}
}
