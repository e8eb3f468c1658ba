package scheduler

import (
	"context"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func TestRegisterRejectsInvalidExpression(t *testing.T) {
	s := New(context.Background(), testLogger())
	if err := s.Register("harvest", "every tuesday", func(context.Context) {}); err == nil {
		t.Error("expected an error for an invalid cron expression")
	}
	// five-field specs lack the seconds column
	if err := s.Register("harvest", "0 18 * * 1-5", func(context.Context) {}); err == nil {
		t.Error("expected an error for an expression without seconds")
	}
	if err := s.Register("harvest", "0 0 18 * * 1-5", func(context.Context) {}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestJobRunsAndSkipsOverlap(t *testing.T) {
	s := New(context.Background(), testLogger())

	var runs int32
	var concurrent int32
	var overlapped atomic.Bool
	err := s.Register("harvest", "* * * * * *", func(context.Context) {
		if atomic.AddInt32(&concurrent, 1) > 1 {
			overlapped.Store(true)
		}
		atomic.AddInt32(&runs, 1)
		time.Sleep(1500 * time.Millisecond)
		atomic.AddInt32(&concurrent, -1)
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	s.Start()
	time.Sleep(3200 * time.Millisecond)
	s.Stop()

	if atomic.LoadInt32(&runs) == 0 {
		t.Fatal("expected the job to run")
	}
	if overlapped.Load() {
		t.Error("job ran concurrently with itself")
	}
}
