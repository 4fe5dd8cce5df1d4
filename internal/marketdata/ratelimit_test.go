package marketdata

import (
	"context"
	"testing"
	"time"
)

func TestTokenBucketAllowsBurst(t *testing.T) {
	t.Parallel()

	tb := NewTokenBucket(3, 1)
	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := tb.Wait(t.Context()); err != nil {
			t.Fatalf("Wait %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("burst within capacity took %v", elapsed)
	}
}

func TestTokenBucketBlocksWhenEmpty(t *testing.T) {
	t.Parallel()

	tb := NewTokenBucket(1, 10) // refills a token every 100 ms
	if err := tb.Wait(t.Context()); err != nil {
		t.Fatalf("first Wait: %v", err)
	}

	start := time.Now()
	if err := tb.Wait(t.Context()); err != nil {
		t.Fatalf("second Wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("empty bucket did not block, waited %v", elapsed)
	}
}

func TestTokenBucketHonorsCancellation(t *testing.T) {
	t.Parallel()

	tb := NewTokenBucket(1, 0.1) // next token is ~10 s away
	if err := tb.Wait(t.Context()); err != nil {
		t.Fatalf("first Wait: %v", err)
	}

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()
	if err := tb.Wait(ctx); err == nil {
		t.Fatal("Wait returned without a token after cancellation")
	}
}
