package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	kit "cardbatch/internal/platform/testkit"
	batchdom "cardbatch/internal/services/batch/domain"
)

type step struct {
	text string
	err  error
}

type fakeGen struct {
	mu    sync.Mutex
	steps map[string][]step // keyed by inline data
	calls map[string]int
}

func (g *fakeGen) GenerateContent(_ context.Context, req batchdom.GenerateRequest) (batchdom.GenerateResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := req.Contents[0].Parts[1].InlineData.Data
	if g.calls == nil {
		g.calls = map[string]int{}
	}
	n := g.calls[key]
	g.calls[key]++
	seq := g.steps[key]
	if n >= len(seq) {
		n = len(seq) - 1
	}
	s := seq[n]
	if s.err != nil {
		return batchdom.GenerateResponse{}, s.err
	}
	return batchdom.GenerateResponse{Candidates: []batchdom.Candidate{{
		Content: batchdom.Content{Parts: []batchdom.Part{{Text: s.text}}},
	}}}, nil
}

type fakeDeck struct {
	cards []batchdom.Card
}

func (d *fakeDeck) Assemble(_ context.Context, name string, cards []batchdom.Card) (string, error) {
	d.cards = cards
	return "/out/" + name + ".apkg", nil
}

type sleeps struct {
	mu sync.Mutex
	ds []time.Duration
}

func (s *sleeps) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	s.ds = append(s.ds, d)
	s.mu.Unlock()
	return nil
}

// base64 of the bytes written by writeImage
const (
	b64A = "YWFh" // "aaa"
	b64B = "YmJi" // "bbb"
)

func writeImage(t *testing.T, dir, name, body string) batchdom.ImageRef {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return batchdom.NewImageRef(p)
}

func newTestService(gen Generator, deck batchdom.Assembler, cfg Config) (*Service, *sleeps) {
	s := New(gen, deck, cfg)
	sl := &sleeps{}
	s.sleep = sl.sleep
	return s, sl
}

func TestNew_Defaults(t *testing.T) {
	s := New(&fakeGen{}, nil, Config{})
	if s.Cfg.MaxRetries != 3 || s.Cfg.EmptyWait != 2*time.Second || s.Cfg.ErrorWait != 5*time.Second || s.Cfg.Workers != 1 {
		t.Fatalf("defaults: %+v", s.Cfg)
	}
	if s.Cfg.Prompt == "" {
		t.Fatal("default prompt missing")
	}
	kit.MustPanic(t, func() { New(nil, nil, Config{}) })
}

func TestDescribe_RetriesEmptyThenSucceeds(t *testing.T) {
	dir := t.TempDir()
	im := writeImage(t, dir, "a.png", "aaa")
	gen := &fakeGen{steps: map[string][]step{b64A: {{text: "  "}, {text: "説明"}}}}
	s, sl := newTestService(gen, nil, Config{})

	got, ok := s.Describe(context.Background(), im)
	if !ok || got != "説明" {
		t.Fatalf("got %q ok=%v", got, ok)
	}
	if len(sl.ds) != 1 || sl.ds[0] != 2*time.Second {
		t.Fatalf("sleeps = %v, want [2s]", sl.ds)
	}
}

func TestDescribe_ErrorsExhaustRetries(t *testing.T) {
	dir := t.TempDir()
	im := writeImage(t, dir, "a.png", "aaa")
	gen := &fakeGen{steps: map[string][]step{b64A: {{err: errors.New("boom")}}}}
	s, sl := newTestService(gen, nil, Config{MaxRetries: 3})

	got, ok := s.Describe(context.Background(), im)
	if ok || got != PlaceholderExhausted {
		t.Fatalf("got %q ok=%v", got, ok)
	}
	if gen.calls[b64A] != 3 {
		t.Fatalf("calls = %d, want 3", gen.calls[b64A])
	}
	// no wait after the final attempt
	if len(sl.ds) != 2 || sl.ds[0] != 5*time.Second {
		t.Fatalf("sleeps = %v", sl.ds)
	}
}

func TestDescribe_EmptyOnLastAttempt(t *testing.T) {
	dir := t.TempDir()
	im := writeImage(t, dir, "a.png", "aaa")
	gen := &fakeGen{steps: map[string][]step{b64A: {{err: errors.New("x")}, {text: ""}}}}
	s, _ := newTestService(gen, nil, Config{MaxRetries: 2})

	got, ok := s.Describe(context.Background(), im)
	if ok || got != PlaceholderEmpty {
		t.Fatalf("got %q ok=%v", got, ok)
	}
}

func TestDescribe_UnreadableImage(t *testing.T) {
	gen := &fakeGen{}
	s, _ := newTestService(gen, nil, Config{})
	got, ok := s.Describe(context.Background(), batchdom.NewImageRef(filepath.Join(t.TempDir(), "gone.png")))
	if ok || got != PlaceholderUnreadable {
		t.Fatalf("got %q ok=%v", got, ok)
	}
	if len(gen.calls) != 0 {
		t.Fatal("generator must not be called for unreadable images")
	}
}

func TestProcess_OrderAndCounts(t *testing.T) {
	for _, workers := range []int{1, 4} {
		dir := t.TempDir()
		a := writeImage(t, dir, "a.png", "aaa")
		b := writeImage(t, dir, "b.jpg", "bbb")
		gen := &fakeGen{steps: map[string][]step{
			b64A: {{text: "A"}},
			b64B: {{err: errors.New("down")}},
		}}
		deck := &fakeDeck{}
		s, sl := newTestService(gen, deck, Config{Workers: workers, MaxRetries: 2, Pace: time.Second, DeckName: "d"})

		rep, err := s.Process(context.Background(), []batchdom.ImageRef{a, b})
		if err != nil {
			t.Fatal(err)
		}
		if rep.Processed != 2 || rep.Cards != 1 || rep.Failed != 1 || rep.DeckPath != "/out/d.apkg" {
			t.Fatalf("workers=%d report %+v", workers, rep)
		}
		if len(deck.cards) != 2 || deck.cards[0].Description != "A" || deck.cards[1].Description != PlaceholderExhausted {
			t.Fatalf("workers=%d cards %+v", workers, deck.cards)
		}
		if deck.cards[1].Image.Filename != "b.jpg" {
			t.Fatalf("order lost: %+v", deck.cards)
		}
		paced := 0
		for _, d := range sl.ds {
			if d == time.Second {
				paced++
			}
		}
		if workers == 1 && paced != 1 {
			t.Fatalf("sequential pass should pace once, sleeps=%v", sl.ds)
		}
		if workers > 1 && paced != 0 {
			t.Fatalf("parallel pass must not pace, sleeps=%v", sl.ds)
		}
	}
}

func TestProcess_Empty(t *testing.T) {
	deck := &fakeDeck{}
	s, _ := newTestService(&fakeGen{}, deck, Config{})
	rep, err := s.Process(context.Background(), nil)
	if err != nil || rep.Processed != 0 || rep.DeckPath != "" || deck.cards != nil {
		t.Fatalf("rep=%+v err=%v", rep, err)
	}
}

func TestProcess_Canceled(t *testing.T) {
	dir := t.TempDir()
	a := writeImage(t, dir, "a.png", "aaa")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s, _ := newTestService(&fakeGen{steps: map[string][]step{b64A: {{text: "A"}}}}, &fakeDeck{}, Config{})
	if _, err := s.Process(ctx, []batchdom.ImageRef{a}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want canceled", err)
	}
}
