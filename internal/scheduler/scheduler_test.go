package scheduler

import (
	"errors"
	"testing"
	"time"
)

func TestAdd_InvalidSchedule(t *testing.T) {
	s := New(nil)
	if err := s.Add("prune", "every day", func() error { return nil }); err == nil {
		t.Error("expected error for invalid schedule")
	}
	// five-field schedules need the seconds field here
	if err := s.Add("prune", "0 3 * * *", func() error { return nil }); err == nil {
		t.Error("expected error for five-field schedule")
	}
}

func TestAdd_Duplicate(t *testing.T) {
	s := New(nil)
	if err := s.Add("prune", "0 0 3 * * *", func() error { return nil }); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add("prune", "0 0 4 * * *", func() error { return nil }); err == nil {
		t.Error("expected duplicate name error")
	}
	if n := len(s.Cron.Entries()); n != 1 {
		t.Errorf("expected 1 cron entry, got %d", n)
	}
}

func TestRunNow(t *testing.T) {
	s := New(nil)
	boom := errors.New("boom")
	calls := 0
	var (
		gotName string
		gotErr  error
	)
	s.OnRun = func(name string, _ time.Duration, err error) { gotName, gotErr = name, err }

	s.Add("ok", "@daily", func() error {
		calls++
		return nil
	})
	s.Add("bad", "@daily", func() error { return boom })

	if err := s.RunNow("ok"); err != nil || calls != 1 {
		t.Errorf("RunNow(ok) = %v, calls %d", err, calls)
	}
	if gotName != "ok" || gotErr != nil {
		t.Errorf("OnRun got (%q, %v)", gotName, gotErr)
	}

	if err := s.RunNow("bad"); !errors.Is(err, boom) {
		t.Errorf("RunNow(bad) = %v, want boom", err)
	}
	if gotName != "bad" || !errors.Is(gotErr, boom) {
		t.Errorf("OnRun got (%q, %v)", gotName, gotErr)
	}

	if err := s.RunNow("missing"); err == nil {
		t.Error("expected error for unknown job")
	}
}

func TestStartStop(t *testing.T) {
	s := New(nil)
	s.Start()
	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}
