package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeSessionSweeper struct {
	calls int
	err   error
}

func (f *fakeSessionSweeper) SweepIdle(context.Context, time.Time) (int, error) {
	f.calls++
	return 2, f.err
}

type fakeRefreshSweeper struct {
	calls int
}

func (f *fakeRefreshSweeper) DeleteExpired(context.Context, time.Time) (int64, error) {
	f.calls++
	return 1, nil
}

func TestSweepOnce(t *testing.T) {
	sessions := &fakeSessionSweeper{}
	refresh := &fakeRefreshSweeper{}
	s := NewSweeper(sessions, refresh, time.Minute)

	s.SweepOnce(context.Background())
	if sessions.calls != 1 || refresh.calls != 1 {
		t.Errorf("calls = %d/%d, want 1/1", sessions.calls, refresh.calls)
	}
}

func TestSweepOnce_SessionErrorStillSweepsTokens(t *testing.T) {
	sessions := &fakeSessionSweeper{err: errors.New("redis down")}
	refresh := &fakeRefreshSweeper{}
	NewSweeper(sessions, refresh, time.Minute).SweepOnce(context.Background())
	if refresh.calls != 1 {
		t.Error("refresh sweep should run even when the session sweep fails")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	sessions := &fakeSessionSweeper{}
	refresh := &fakeRefreshSweeper{}
	s := NewSweeper(sessions, refresh, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	if sessions.calls == 0 {
		t.Error("sweeper should have ticked at least once")
	}
}
