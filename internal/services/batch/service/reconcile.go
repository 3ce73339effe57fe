package service

import (
	"context"
	"sort"

	"cardbatch/internal/platform/logger"
	"cardbatch/internal/services/batch/domain"
)

// Reconcile pairs records with images. The fallback matcher runs only when no record carries an identifier
func Reconcile(ctx context.Context, images []domain.ImageRef, records []domain.ResultRecord) domain.Reconciliation {
	if len(records) > 0 && !anyIdentified(records) {
		logger.NamedC(ctx, "reconciler").Warn().Int("records", len(records)).Msg("no record carries a customId; using the content heuristic")
		return MatchFallback(ctx, images, records)
	}
	return MatchPrimary(ctx, images, records)
}

func anyIdentified(records []domain.ResultRecord) bool {
	for _, r := range records {
		if r.HasCustomID {
			return true
		}
	}
	return false
}

// MatchPrimary pairs each record with the image whose filename equals its customId.
// Unknown, missing or repeated identifiers are dropped; each image and record is used at most once
func MatchPrimary(ctx context.Context, images []domain.ImageRef, records []domain.ResultRecord) domain.Reconciliation {
	log := logger.NamedC(ctx, "reconciler")
	out := domain.Reconciliation{Mode: domain.MatchPrimary}

	byName := make(map[string]domain.ImageRef, len(images))
	for _, im := range images {
		if _, dup := byName[im.Filename]; !dup {
			byName[im.Filename] = im
		}
	}
	matched := make(map[string]bool, len(images))

	for _, rec := range records {
		im, ok := byName[rec.CustomID]
		switch {
		case !rec.HasCustomID:
			log.Warn().Str("file", rec.Source).Int("line", rec.Line).Msg("record has no customId; dropped")
		case !ok:
			log.Warn().Str("custom_id", rec.CustomID).Msg("record matches no submitted image; dropped")
		case matched[im.Filename]:
			log.Warn().Str("custom_id", rec.CustomID).Msg("duplicate record for image; dropped")
		default:
			matched[im.Filename] = true
			out.Pairs = append(out.Pairs, domain.MatchedPair{Image: im, Record: rec, Score: 1})
			continue
		}
		out.DroppedRecords = append(out.DroppedRecords, rec)
	}

	out.UnmatchedImages = unmatched(images, matched)
	sortPairs(out.Pairs)
	return out
}

// MatchFallback assigns records to images by content score: images in filename order,
// each taking its best unused record above MinScore, else the first unused record as a weak match
func MatchFallback(ctx context.Context, images []domain.ImageRef, records []domain.ResultRecord) domain.Reconciliation {
	log := logger.NamedC(ctx, "reconciler")
	out := domain.Reconciliation{Mode: domain.MatchFallback}

	ordered := append([]domain.ImageRef(nil), images...)
	sortImages(ordered)

	texts := make([]string, len(records))
	for i, r := range records {
		texts[i] = r.Description()
	}
	used := make([]bool, len(records))
	matched := make(map[string]bool, len(images))

	for _, im := range ordered {
		if matched[im.Filename] {
			continue
		}
		best, bestScore := -1, 0.0
		for i := range records {
			if used[i] {
				continue
			}
			if sc := Score(im.Filename, texts[i]); best < 0 || sc > bestScore {
				best, bestScore = i, sc
			}
		}
		if best < 0 {
			break
		}
		pair := domain.MatchedPair{Image: im, Record: records[best], Score: bestScore}
		if bestScore <= MinScore {
			first := firstUnused(used)
			pair.Record, pair.Score, pair.Weak = records[first], Score(im.Filename, texts[first]), true
			best = first
			log.Warn().Str("image", im.Filename).Msg("no confident match; using first unused result")
		}
		used[best] = true
		matched[im.Filename] = true
		out.Pairs = append(out.Pairs, pair)
	}

	for i, u := range used {
		if !u {
			out.DroppedRecords = append(out.DroppedRecords, records[i])
		}
	}
	out.UnmatchedImages = unmatched(images, matched)
	sortPairs(out.Pairs)
	return out
}

func firstUnused(used []bool) int {
	for i, u := range used {
		if !u {
			return i
		}
	}
	return -1
}

func unmatched(images []domain.ImageRef, matched map[string]bool) []domain.ImageRef {
	var out []domain.ImageRef
	seen := make(map[string]bool, len(images))
	for _, im := range images {
		if matched[im.Filename] || seen[im.Filename] {
			continue
		}
		seen[im.Filename] = true
		out = append(out, im)
	}
	sortImages(out)
	return out
}

func lessImage(a, b domain.ImageRef) bool {
	ka, kb := a.SortKey(), b.SortKey()
	if ka != kb {
		return ka < kb
	}
	return a.Filename < b.Filename
}

func sortImages(xs []domain.ImageRef) {
	sort.SliceStable(xs, func(i, j int) bool { return lessImage(xs[i], xs[j]) })
}

func sortPairs(ps []domain.MatchedPair) {
	sort.SliceStable(ps, func(i, j int) bool { return lessImage(ps[i].Image, ps[j].Image) })
}
