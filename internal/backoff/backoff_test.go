package backoff

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"
	"time"
)

func TestBackoff_Ceiling(t *testing.T) {
	b := New(time.Second, 30*time.Second)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{-1, time.Second},
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{40, 30 * time.Second},
		{1000, 30 * time.Second},
	}

	for _, tt := range tests {
		if got := b.Ceiling(tt.attempt); got != tt.want {
			t.Errorf("Ceiling(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestBackoff_NextWithinBounds(t *testing.T) {
	b := NewWithSource(100*time.Millisecond, 2*time.Second, rand.NewPCG(1, 2))

	for attempt := 0; attempt < 20; attempt++ {
		for i := 0; i < 50; i++ {
			d := b.Next(attempt)
			if d < 0 || d >= b.Ceiling(attempt) {
				t.Fatalf("Next(%d) = %v, want in [0, %v)", attempt, d, b.Ceiling(attempt))
			}
		}
	}
}

func TestNewWithSource_Deterministic(t *testing.T) {
	a := NewWithSource(time.Millisecond, time.Second, rand.NewPCG(7, 9))
	b := NewWithSource(time.Millisecond, time.Second, rand.NewPCG(7, 9))

	for attempt := 0; attempt < 10; attempt++ {
		if da, db := a.Next(attempt), b.Next(attempt); da != db {
			t.Fatalf("Next(%d) = %v and %v from equal seeds", attempt, da, db)
		}
	}
}

func TestNewWithSource_Normalises(t *testing.T) {
	b := NewWithSource(0, -1, rand.NewPCG(1, 2))
	if b.Base != time.Second {
		t.Errorf("Base = %v, want 1s", b.Base)
	}
	if b.Cap != b.Base {
		t.Errorf("Cap = %v, want %v", b.Cap, b.Base)
	}
}

func TestSleep(t *testing.T) {
	if err := Sleep(context.Background(), time.Millisecond); err != nil {
		t.Errorf("Sleep() error = %v, want nil", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	err := Sleep(ctx, time.Hour)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Sleep() error = %v, want context.Canceled", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Sleep() did not return promptly on cancelled context")
	}
}
