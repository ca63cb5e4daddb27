package jobserver

import (
	"context"
	"testing"
	"time"
)

func TestNewGrantsNMinusOneTokens(t *testing.T) {
	j, err := New(3)
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := 0; i < 2; i++ {
		if err := j.Acquire(ctx); err != nil {
			t.Fatalf("Acquire #%d: %v", i, err)
		}
	}

	ctx2, cancel2 := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel2()
	if err := j.Acquire(ctx2); err == nil {
		t.Fatal("Acquire succeeded with no tokens remaining")
	}
}

func TestReleaseReturnsToken(t *testing.T) {
	j, err := New(1)
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	// New(1) grants zero extra tokens; nothing should be acquirable.
	if err := j.Acquire(ctx); err == nil {
		t.Fatal("Acquire succeeded on a jobserver with n=1 (zero extra tokens)")
	}

	if err := j.Release(); err != nil {
		t.Fatal(err)
	}
	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	if err := j.Acquire(ctx2); err != nil {
		t.Fatalf("Acquire after Release: %v", err)
	}
}

func TestAcquireCancellation(t *testing.T) {
	j, err := New(1)
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := j.Acquire(ctx); err == nil {
		t.Fatal("Acquire with an already-canceled context should fail")
	}
}

func TestNewRejectsNonPositive(t *testing.T) {
	if _, err := New(0); err == nil {
		t.Fatal("New(0) should fail")
	}
}

func TestEnvRoundTrip(t *testing.T) {
	env := Env(5, 6)
	j, ok := FromEnvironment([]string{env})
	if !ok {
		t.Fatalf("FromEnvironment could not parse %q", env)
	}
	j.r.Close()
	j.w.Close()
}
