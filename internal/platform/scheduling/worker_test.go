package scheduling

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestWorker_AddValidates(t *testing.T) {
	w := NewWorker(zerolog.Nop())
	noop := func(context.Context) error { return nil }

	tests := []struct {
		name    string
		job     Job
		wantErr bool
	}{
		{"valid", Job{Name: "a", Interval: time.Second, Run: noop}, false},
		{"no name", Job{Interval: time.Second, Run: noop}, true},
		{"no run", Job{Name: "a", Interval: time.Second}, true},
		{"zero interval", Job{Name: "a", Run: noop}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := w.Add(tt.job); (err != nil) != tt.wantErr {
				t.Errorf("Add() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWorker_RunOnceSwallowsErrorsAndPanics(t *testing.T) {
	w := NewWorker(zerolog.Nop())
	ctx := context.Background()

	w.RunOnce(ctx, Job{Name: "fails", Run: func(context.Context) error { return errors.New("boom") }})
	if w.Runs("fails") != 1 {
		t.Errorf("expected failed job to count as a run")
	}

	w.RunOnce(ctx, Job{Name: "panics", Run: func(context.Context) error { panic("bad") }})
	if w.Runs("panics") != 0 {
		t.Errorf("expected panicking job not to count as a run")
	}
}

func TestWorker_RunOnceSkipsCancelledContext(t *testing.T) {
	w := NewWorker(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	w.RunOnce(ctx, Job{Name: "x", Run: func(context.Context) error { called = true; return nil }})
	if called {
		t.Error("expected job not to run after cancellation")
	}
}

func TestWorker_StartStopsOnCancel(t *testing.T) {
	w := NewWorker(zerolog.Nop())
	var count int32
	_ = w.Add(Job{Name: "tick", Interval: 5 * time.Millisecond, Run: func(context.Context) error {
		atomic.AddInt32(&count, 1)
		return nil
	}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for atomic.LoadInt32(&count) < 2 {
		select {
		case <-deadline:
			t.Fatal("job did not tick")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

type stubLocker struct {
	held     map[string]bool
	err      error
	released int
}

func (l *stubLocker) TryLock(_ context.Context, name string, _ time.Duration) (func(), bool, error) {
	if l.err != nil {
		return nil, false, l.err
	}
	if l.held[name] {
		return nil, false, nil
	}
	l.held[name] = true
	return func() {
		delete(l.held, name)
		l.released++
	}, true, nil
}

func TestWorker_RunOnceTakesLock(t *testing.T) {
	locker := &stubLocker{held: map[string]bool{}}
	w := NewWorker(zerolog.Nop(), WithLocker(locker))

	w.RunOnce(context.Background(), Job{Name: "reminders", Run: func(context.Context) error { return nil }})
	if w.Runs("reminders") != 1 {
		t.Fatalf("expected 1 run, got %d", w.Runs("reminders"))
	}
	if locker.released != 1 || locker.held["reminders"] {
		t.Errorf("expected lock released after run, released=%d", locker.released)
	}
}

func TestWorker_RunOnceSkipsWhenLocked(t *testing.T) {
	locker := &stubLocker{held: map[string]bool{"reminders": true}}
	w := NewWorker(zerolog.Nop(), WithLocker(locker))

	called := false
	w.RunOnce(context.Background(), Job{Name: "reminders", Run: func(context.Context) error { called = true; return nil }})
	if called || w.Runs("reminders") != 0 {
		t.Error("expected run to be skipped while another holder has the lock")
	}

	locker = &stubLocker{held: map[string]bool{}, err: errors.New("redis down")}
	w = NewWorker(zerolog.Nop(), WithLocker(locker))
	w.RunOnce(context.Background(), Job{Name: "reminders", Run: func(context.Context) error { called = true; return nil }})
	if called {
		t.Error("expected run to be skipped when the lock cannot be checked")
	}
}
