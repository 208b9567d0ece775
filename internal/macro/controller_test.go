package macro

import (
	"context"
	"reflect"
	"testing"
	"time"

	"jordanella.com/natro-go/internal/logging"
	"jordanella.com/natro-go/internal/window"
)

func TestControllerTransitions(t *testing.T) {
	c := NewController()

	if c.Pause() {
		t.Error("Expected Pause to fail while idle")
	}
	if !c.Start() {
		t.Fatal("Expected Start to succeed")
	}
	if c.Start() {
		t.Error("Expected second Start to fail")
	}
	if !c.Pause() || c.State() != StatePaused {
		t.Fatalf("Expected paused, got %v", c.State())
	}
	if !c.Resume() || c.State() != StateRunning {
		t.Fatalf("Expected running, got %v", c.State())
	}
	if c.Resume() {
		t.Error("Expected Resume to fail while running")
	}
	c.Stop()
	if c.CheckPauseOrStop(context.Background()) {
		t.Error("Expected stopped controller to halt the loop")
	}
}

func TestControllerBlocksWhilePaused(t *testing.T) {
	c := NewController()
	c.Start()
	c.Pause()

	result := make(chan bool, 1)
	go func() { result <- c.CheckPauseOrStop(context.Background()) }()

	select {
	case <-result:
		t.Fatal("Expected CheckPauseOrStop to block while paused")
	case <-time.After(20 * time.Millisecond):
	}

	c.Resume()
	select {
	case ok := <-result:
		if !ok {
			t.Error("Expected resume to continue the loop")
		}
	case <-time.After(time.Second):
		t.Fatal("Expected resume to unblock")
	}

	c.Pause()
	go func() { result <- c.CheckPauseOrStop(context.Background()) }()
	c.Stop()
	if ok := <-result; ok {
		t.Error("Expected stop to halt a paused loop")
	}
}

func TestControllerContextCancel(t *testing.T) {
	c := NewController()
	c.Start()
	c.Pause()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if c.CheckPauseOrStop(ctx) {
		t.Error("Expected cancelled context to halt a paused loop")
	}
}

func TestRoutineRegistry(t *testing.T) {
	rr := DefaultRoutines()

	if got := rr.List(); !reflect.DeepEqual(got, []string{"calibrate", "report"}) {
		t.Errorf("Unexpected built-ins %v", got)
	}

	noop := func(context.Context, *Session) error { return nil }
	tests := []struct {
		name    string
		key     string
		routine Routine
		wantErr bool
	}{
		{"new", "walk", noop, false},
		{"duplicate", "report", noop, true},
		{"empty name", "", noop, true},
		{"nil routine", "nil", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := rr.Register(tt.key, tt.routine)
			if (err != nil) != tt.wantErr {
				t.Errorf("Register(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
			}
		})
	}

	if !rr.Has("walk") {
		t.Error("Expected walk to be registered")
	}
	if _, err := rr.Get("fly"); err == nil {
		t.Error("Expected error for unknown routine")
	}
}

func TestInstanceGuard(t *testing.T) {
	procs := &fakeProcs{}
	procs.set(
		window.Process{PID: 1, Name: "natro-macro"},
		window.Process{PID: 2, Name: "natro-macro.exe"},
		window.Process{PID: 3, Name: "RobloxPlayerBeta"},
		window.Process{PID: 4, Name: "NATRO-MACRO"},
	)

	guard := NewInstanceGuard(procs).
		WithName("natro-macro").
		WithSelf(1).
		WithWait(time.Second).
		WithLogger(logging.NewLogger("InstanceTest").SetOutputs())

	others, err := guard.Others()
	if err != nil {
		t.Fatalf("Others failed: %v", err)
	}
	if !reflect.DeepEqual(others, []int32{2, 4}) {
		t.Errorf("Expected others [2 4], got %v", others)
	}

	if err := guard.Ensure(false); err == nil {
		t.Error("Expected error when others run and terminate is off")
	}

	if err := guard.Ensure(true); err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}
	if others, _ := guard.Others(); len(others) != 0 {
		t.Errorf("Expected no other instances, got %v", others)
	}
	if err := guard.Ensure(false); err != nil {
		t.Errorf("Expected sole instance to pass, got %v", err)
	}
}

func TestInstanceGuardStubborn(t *testing.T) {
	procs := &fakeProcs{stubborn: map[int32]bool{2: true}}
	procs.set(
		window.Process{PID: 1, Name: "natro-macro"},
		window.Process{PID: 2, Name: "natro-macro"},
	)

	guard := NewInstanceGuard(procs).
		WithName("natro-macro").
		WithSelf(1).
		WithWait(50 * time.Millisecond).
		WithLogger(logging.NewLogger("InstanceTest").SetOutputs())

	if err := guard.Ensure(true); err == nil {
		t.Error("Expected error when an instance refuses to exit")
	}
}
