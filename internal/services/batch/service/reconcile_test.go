package service

import (
	"context"
	"fmt"
	"math/rand"
	"reflect"
	"strings"
	"testing"

	"cardbatch/internal/services/batch/domain"
)

func rec(id, text string) domain.ResultRecord {
	r := domain.ResultRecord{CustomID: id, HasCustomID: id != ""}
	r.Response = &domain.GenerateResponse{Candidates: []domain.Candidate{{
		Content: domain.Content{Parts: []domain.Part{{Text: text}}},
	}}}
	return r
}

func TestMatchPrimary_SortedRegardlessOfRecordOrder(t *testing.T) {
	ctx := context.Background()
	images := refs("a.png", "b.png", "c.png")
	records := []domain.ResultRecord{rec("b.png", "B"), rec("a.png", "A"), rec("c.png", "C")}

	out := Reconcile(ctx, images, records)
	if out.Mode != domain.MatchPrimary {
		t.Fatalf("mode = %s", out.Mode)
	}
	if got := filenames(out.Pairs); !reflect.DeepEqual(got, []string{"a.png", "b.png", "c.png"}) {
		t.Fatalf("pairs = %v", got)
	}
	for _, p := range out.Pairs {
		if p.Record.CustomID != p.Image.Filename {
			t.Fatalf("mispaired %+v", p)
		}
	}

	rng := rand.New(rand.NewSource(7))
	for range 20 {
		shuffled := append([]domain.ResultRecord(nil), records...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		imgs := append([]domain.ImageRef(nil), images...)
		rng.Shuffle(len(imgs), func(i, j int) { imgs[i], imgs[j] = imgs[j], imgs[i] })
		if got := filenames(MatchPrimary(ctx, imgs, shuffled).Pairs); !reflect.DeepEqual(got, []string{"a.png", "b.png", "c.png"}) {
			t.Fatalf("order depends on input: %v", got)
		}
	}
}

func TestMatchPrimary_CaseInsensitiveSort(t *testing.T) {
	images := refs("b.png", "A.png", "c.png")
	out := MatchPrimary(context.Background(), images, []domain.ResultRecord{rec("c.png", "x"), rec("b.png", "x"), rec("A.png", "x")})
	if got := filenames(out.Pairs); !reflect.DeepEqual(got, []string{"A.png", "b.png", "c.png"}) {
		t.Fatalf("pairs = %v", got)
	}
}

func TestMatchPrimary_UnknownIdDropped(t *testing.T) {
	images := refs("a.png", "b.png")
	records := []domain.ResultRecord{rec("a.png", "A"), rec("z.png", "Z"), rec("b.png", "B")}
	out := MatchPrimary(context.Background(), images, records)
	if len(out.Pairs) != 2 || len(out.DroppedRecords) != 1 || out.DroppedRecords[0].CustomID != "z.png" {
		t.Fatalf("out = %+v", out)
	}
	if len(out.UnmatchedImages) != 0 {
		t.Fatalf("unmatched = %+v", out.UnmatchedImages)
	}
}

func TestMatchPrimary_Injective(t *testing.T) {
	images := refs("a.png", "b.png", "c.png", "a.png")
	records := []domain.ResultRecord{
		rec("a.png", "first"), rec("a.png", "second"), rec("", "anonymous"), rec("b.png", "B"),
	}
	out := MatchPrimary(context.Background(), images, records)

	seenImg := map[string]int{}
	for _, p := range out.Pairs {
		seenImg[p.Image.Filename]++
	}
	for name, n := range seenImg {
		if n > 1 {
			t.Fatalf("image %s matched %d times", name, n)
		}
	}
	if len(out.Pairs) != 2 || out.Pairs[0].Record.Description() != "first" {
		t.Fatalf("pairs = %+v", out.Pairs)
	}
	if len(out.DroppedRecords) != 2 {
		t.Fatalf("dropped = %d, want 2 (duplicate + anonymous)", len(out.DroppedRecords))
	}
	if len(out.UnmatchedImages) != 1 || out.UnmatchedImages[0].Filename != "c.png" {
		t.Fatalf("unmatched = %+v", out.UnmatchedImages)
	}
	if len(out.Pairs)+len(out.DroppedRecords) != len(records) {
		t.Fatalf("records must be paired or dropped exactly once")
	}
}

func TestMatchPrimary_Idempotent(t *testing.T) {
	ctx := context.Background()
	images := refs("x.png", "y.png", "z.png")
	records := []domain.ResultRecord{rec("z.png", "Z"), rec("q.png", "Q"), rec("x.png", "X")}
	first := MatchPrimary(ctx, images, records)
	second := MatchPrimary(ctx, images, records)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("reconciliation not idempotent:\n%+v\n%+v", first, second)
	}
}

func TestReconcile_FallbackOnlyWithoutIdentifiers(t *testing.T) {
	ctx := context.Background()
	images := refs("graph_2024-05-01.png", "math_quiz.png")
	records := []domain.ResultRecord{
		rec("", "数式と計算の問題です"),
		rec("", "2024年のグラフと軸のデータ"),
	}
	out := Reconcile(ctx, images, records)
	if out.Mode != domain.MatchFallback {
		t.Fatalf("mode = %s", out.Mode)
	}
	if len(out.Pairs) != 2 {
		t.Fatalf("pairs = %+v", out.Pairs)
	}
	byImage := map[string]string{}
	for _, p := range out.Pairs {
		byImage[p.Image.Filename] = p.Record.Description()
		if p.Weak {
			t.Fatalf("unexpected weak match %+v", p)
		}
	}
	if !strings.Contains(byImage["graph_2024-05-01.png"], "グラフ") || !strings.Contains(byImage["math_quiz.png"], "数式") {
		t.Fatalf("fallback pairing = %v", byImage)
	}

	mixed := []domain.ResultRecord{rec("", "数式"), rec("math_quiz.png", "数式")}
	if got := Reconcile(ctx, images, mixed); got.Mode != domain.MatchPrimary {
		t.Fatalf("one identified record must keep the primary path, got %s", got.Mode)
	}
}

func TestMatchFallback_WeakAndExhausted(t *testing.T) {
	ctx := context.Background()
	images := refs("a.png", "b.png", "c.png")
	records := []domain.ResultRecord{rec("", "nothing relevant"), rec("", "still nothing")}

	out := MatchFallback(ctx, images, records)
	if len(out.Pairs) != 2 || len(out.UnmatchedImages) != 1 || out.UnmatchedImages[0].Filename != "c.png" {
		t.Fatalf("out = %+v", out)
	}
	if !out.Pairs[0].Weak || out.Pairs[0].Record.Description() != "nothing relevant" {
		t.Fatalf("weak match must take the first unused record: %+v", out.Pairs[0])
	}
	if out.Pairs[1].Record.Description() != "still nothing" {
		t.Fatalf("second image took %+v", out.Pairs[1])
	}
}

func TestScore(t *testing.T) {
	cases := []struct {
		file, text string
		want       float64
	}{
		{"a.png", "", 0},
		{"a.png", "unrelated", 0},
		{"20240501.png", "In 2024 we saw", 0.3},
		{"20240501.png", "dated 05/01", 0.3},
		{"screenshot_app.png", "ブラウザの画面", 0.4},
		{"math_equation.png", "方程式を解く", 0.5},
		{"chart.png", "データの分布", 0.4},
		{"deep_learning.png", "深層学習の基礎", 0.6},
		{"deep_learning.png", "deep learning basics", 0.3 + 0.3},
		{"ＭＡＴＨ.png", "数式", 0.5},
		{"alpha_notes.png", "the ALPHA notes", 0.3 + 0.3},
		{"img42.png", "question 42", 0.2},
	}
	for _, c := range cases {
		if got := Score(c.file, c.text); fmt.Sprintf("%.2f", got) != fmt.Sprintf("%.2f", c.want) {
			t.Fatalf("Score(%q, %q) = %.2f, want %.2f", c.file, c.text, got, c.want)
		}
	}
}

func TestScore_Bounded(t *testing.T) {
	all := "2024 05/01 画面 数式 グラフ 深層学習 ai 42 screenshot math graph chart deep learning alpha bravo charlie delta echo"
	long := "2024-05-01_screenshot_math_graph_deep_learning_alpha_bravo_charlie_delta_echo_42.png"
	if got := Score(long, all); got != MaxScore {
		t.Fatalf("Score = %v, want clamp at %v", got, MaxScore)
	}

	rng := rand.New(rand.NewSource(11))
	words := []string{"math", "graph", "screenshot", "ai", "deep", "2024", "05/01", "数式", "グラフ", "画面", "人工知能", "alpha", "42", "x"}
	pick := func(n int, sep string) string {
		var b strings.Builder
		for i := range n {
			if i > 0 {
				b.WriteString(sep)
			}
			b.WriteString(words[rng.Intn(len(words))])
		}
		return b.String()
	}
	for range 500 {
		s := Score(pick(1+rng.Intn(6), "_")+".png", pick(rng.Intn(12), " "))
		if s < 0 || s > MaxScore {
			t.Fatalf("score %v out of [0, %v]", s, MaxScore)
		}
	}
}
