package guardrails

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestWithChildTimeout_NeverExtendsParent(t *testing.T) {
	parent, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	ctx, c2 := ForSubmit(parent, Timeouts{Submit: time.Hour})
	defer c2()
	if rem := Remaining(ctx); rem <= 0 || rem > 50*time.Millisecond {
		t.Fatalf("remaining = %v, want <= parent budget", rem)
	}

	ctx, c3 := ForUpload(context.Background(), Timeouts{Upload: 20 * time.Millisecond})
	defer c3()
	if rem := Remaining(ctx); rem <= 0 || rem > 20*time.Millisecond {
		t.Fatalf("upload remaining = %v", rem)
	}

	ctx, c4 := ForFetch(context.Background(), Timeouts{})
	defer c4()
	if _, ok := ctx.Deadline(); ok {
		t.Fatalf("zero budget must not add a deadline")
	}
	if Remaining(context.Background()) != 0 {
		t.Fatalf("no deadline means zero remaining")
	}
}

func TestInflight(t *testing.T) {
	f := NewInflight()
	rel, ok := f.Acquire("j")
	if !ok || !f.Held("j") {
		t.Fatalf("first acquire must succeed")
	}
	if r2, ok2 := f.Acquire("j"); ok2 || r2 != nil {
		t.Fatalf("second acquire must fail while held")
	}
	if _, ok3 := f.Acquire("other"); !ok3 {
		t.Fatalf("distinct ids are independent")
	}
	rel()
	rel()
	if f.Held("j") {
		t.Fatalf("release did not clear")
	}

	var wg sync.WaitGroup
	wins := make(chan struct{}, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := f.Acquire("race"); ok {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)
	n := 0
	for range wins {
		n++
	}
	if n != 1 {
		t.Fatalf("winners = %d, want 1", n)
	}
}
