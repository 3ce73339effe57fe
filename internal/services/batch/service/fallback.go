package service

import (
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

const (
	// MinScore is the acceptance threshold; a match needs a strictly greater score
	MinScore = 0.1
	// MaxScore bounds Score
	MaxScore = 2.4
)

var (
	dateRe   = regexp.MustCompile(`(\d{4})[-_]?(\d{2})[-_]?(\d{2})`)
	numberRe = regexp.MustCompile(`\d+`)
	alphaRe  = regexp.MustCompile(`[a-zA-Z]+`)
)

type keywordRule struct {
	bonus    float64
	filename []string
	text     []string
}

var keywordRules = []keywordRule{
	{0.4, []string{"screenshot", "スクリーンショット"}, []string{"画面", "スクリーン", "ウィンドウ", "ブラウザ", "アプリ"}},
	{0.5, []string{"math", "数学", "equation", "問題"}, []string{"数式", "計算", "数学", "方程式", "関数", "問題"}},
	{0.4, []string{"graph", "chart", "グラフ", "チャート"}, []string{"グラフ", "チャート", "軸", "データ", "分布"}},
	{0.6, []string{"e資格", "deep", "learning", "ai"}, []string{"深層学習", "ディープラーニング", "ai", "人工知能", "ニューラル"}},
}

// fold normalizes text for comparison: NFKC, full width to narrow, case folded
func fold(s string) string {
	t := transform.Chain(norm.NFKC, width.Fold, cases.Fold())
	out, _, err := transform.String(t, s)
	if err != nil {
		return strings.ToLower(s)
	}
	return out
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// Score rates how plausibly text describes the image named filename, in [0, MaxScore]
func Score(filename, text string) float64 {
	if text == "" {
		return 0
	}
	name := fold(filename)
	desc := fold(text)
	score := 0.0

	if m := dateRe.FindStringSubmatch(name); m != nil {
		if strings.Contains(desc, m[1]) || strings.Contains(desc, m[2]+"/"+m[3]) {
			score += 0.3
		}
	}
	for _, r := range keywordRules {
		if containsAny(name, r.filename) && containsAny(desc, r.text) {
			score += r.bonus
		}
	}
	if n := numberRe.FindString(name); n != "" && strings.Contains(desc, n) {
		score += 0.2
	}
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	for _, w := range alphaRe.FindAllString(stem, -1) {
		if len(w) > 3 && strings.Contains(desc, w) {
			score += 0.3
		}
	}
	return min(max(score, 0), MaxScore)
}
