// Package service describes images one request at a time, the non-batch path
package service

import (
	"context"
	"encoding/base64"
	"os"
	"time"

	"cardbatch/internal/platform/logger"
	batchdom "cardbatch/internal/services/batch/domain"
	batchsvc "cardbatch/internal/services/batch/service"

	"golang.org/x/sync/errgroup"
)

// Placeholders shown on the card back when no description could be produced
const (
	PlaceholderUnreadable = "画像の読み込みに失敗しました。"
	PlaceholderEmpty      = "解説の生成に失敗しました（応答なし）。"
	PlaceholderExhausted  = "解説の生成に失敗しました（最大試行回数超過）。"
)

// Generator is the generateContent boundary
type Generator interface {
	GenerateContent(ctx context.Context, req batchdom.GenerateRequest) (batchdom.GenerateResponse, error)
}

// RunnerPort is what the CLI drives for the realtime path
type RunnerPort interface {
	Process(ctx context.Context, images []batchdom.ImageRef) (batchdom.Report, error)
}

// Config holds realtime settings
type Config struct {
	Prompt     string
	MaxRetries int           // attempts per image; <=0 -> 3
	EmptyWait  time.Duration // wait after an empty response; <=0 -> 2s
	ErrorWait  time.Duration // wait after an error; <=0 -> 5s
	Workers    int           // <=0 -> 1
	Pace       time.Duration // pause between requests when Workers == 1
	DeckName   string
}

// Service implements RunnerPort
type Service struct {
	Gen  Generator
	Deck batchdom.Assembler
	Cfg  Config

	sleep    func(ctx context.Context, d time.Duration) error
	readFile func(string) ([]byte, error)
}

var _ RunnerPort = (*Service)(nil)

// New constructs the realtime service
func New(gen Generator, deck batchdom.Assembler, cfg Config) *Service {
	if gen == nil {
		panic("realtime.Service requires a non nil Generator")
	}
	if cfg.Prompt == "" {
		cfg.Prompt = batchsvc.DefaultPrompt
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.EmptyWait <= 0 {
		cfg.EmptyWait = 2 * time.Second
	}
	if cfg.ErrorWait <= 0 {
		cfg.ErrorWait = 5 * time.Second
	}
	cfg.Workers = max(cfg.Workers, 1)
	if cfg.DeckName == "" {
		cfg.DeckName = "anki_cards"
	}
	return &Service{Gen: gen, Deck: deck, Cfg: cfg, sleep: sleepCtx, readFile: os.ReadFile}
}

// Process describes every image and assembles one card per image in input order.
// Cards holds real descriptions; placeholders are assembled too and counted as Failed
func (s *Service) Process(ctx context.Context, images []batchdom.ImageRef) (batchdom.Report, error) {
	log := logger.NamedC(ctx, "realtime")
	rep := batchdom.Report{JobID: "realtime"}
	descs := make([]string, len(images))
	ok := make([]bool, len(images))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.Cfg.Workers)
	for i, im := range images {
		g.Go(func() error {
			// with one worker goroutines run one after another, so this paces requests
			if s.Cfg.Workers == 1 && i > 0 {
				if err := s.sleep(gctx, s.Cfg.Pace); err != nil {
					return err
				}
			}
			descs[i], ok[i] = s.Describe(gctx, im)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return rep, err
	}
	if err := ctx.Err(); err != nil {
		return rep, err
	}

	cards := make([]batchdom.Card, 0, len(images))
	for i, im := range images {
		rep.Processed++
		if ok[i] {
			rep.Cards++
		} else {
			rep.Failed++
		}
		cards = append(cards, batchdom.Card{Image: im, Description: descs[i]})
	}
	if s.Deck != nil && len(cards) > 0 {
		path, err := s.Deck.Assemble(ctx, s.Cfg.DeckName, cards)
		if err != nil {
			return rep, err
		}
		rep.DeckPath = path
	}
	log.Info().Int("cards", rep.Cards).Int("failed", rep.Failed).Str("deck", rep.DeckPath).Msg("realtime pass done")
	return rep, nil
}

// Describe asks for one description with retries. ok=false means a placeholder was returned
func (s *Service) Describe(ctx context.Context, im batchdom.ImageRef) (string, bool) {
	log := logger.NamedC(ctx, "realtime").With().Str("image", im.Filename).Logger()

	b, err := s.readFile(im.Path)
	if err != nil {
		log.Warn().Err(err).Msg("image unreadable")
		return PlaceholderUnreadable, false
	}
	req := batchdom.PromptRequest(s.Cfg.Prompt, batchdom.Part{InlineData: &batchdom.InlineData{
		MimeType: batchsvc.MimeType(im.Filename),
		Data:     base64.StdEncoding.EncodeToString(b),
	}})

	for attempt := 1; attempt <= s.Cfg.MaxRetries; attempt++ {
		last := attempt == s.Cfg.MaxRetries
		resp, err := s.Gen.GenerateContent(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return PlaceholderExhausted, false
			}
			log.Warn().Err(err).Int("attempt", attempt).Msg("generate failed")
			if !last {
				if s.sleep(ctx, s.Cfg.ErrorWait) != nil {
					return PlaceholderExhausted, false
				}
			}
			continue
		}
		if text := resp.Text(); text != "" {
			return text, true
		}
		log.Warn().Int("attempt", attempt).Msg("empty response")
		if last {
			return PlaceholderEmpty, false
		}
		if s.sleep(ctx, s.Cfg.EmptyWait) != nil {
			return PlaceholderEmpty, false
		}
	}
	return PlaceholderExhausted, false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
