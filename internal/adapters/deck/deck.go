// Package deck writes assembled cards as an Anki-importable TSV plus media folder
package deck

import (
	"bufio"
	"context"
	"fmt"
	"html"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	perr "cardbatch/internal/platform/errors"
	"cardbatch/internal/platform/logger"
	"cardbatch/internal/services/batch/domain"
)

// Writer is a domain.Assembler writing into OutputDir
type Writer struct {
	OutputDir string
	now       func() time.Time
	log       logger.Logger
}

var _ domain.Assembler = (*Writer)(nil)

// NewWriter builds a Writer rooted at outputDir
func NewWriter(outputDir string) *Writer {
	return &Writer{OutputDir: outputDir, now: time.Now, log: *logger.Named("deck")}
}

// Assemble writes <output>/<name>_<ts>/cards.tsv and copies each image into media/.
// Cards are written in the given order; an empty card list writes nothing
func (w *Writer) Assemble(ctx context.Context, name string, cards []domain.Card) (string, error) {
	if len(cards) == 0 {
		return "", nil
	}
	dir := filepath.Join(w.OutputDir, fmt.Sprintf("%s_%s", name, w.now().Format("20060102_150405")))
	media := filepath.Join(dir, "media")
	if err := os.MkdirAll(media, 0o755); err != nil {
		return "", perr.Wrapf(err, perr.ErrorCodeStorage, "create deck dir %s", dir)
	}

	path := filepath.Join(dir, "cards.tsv")
	f, err := os.Create(path)
	if err != nil {
		return "", perr.Wrapf(err, perr.ErrorCodeStorage, "create %s", path)
	}
	defer func() { _ = f.Close() }()

	bw := bufio.NewWriter(f)
	_, _ = bw.WriteString("#separator:tab\n#html:true\n#columns:Front\tBack\n")
	for _, c := range cards {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if err := copyFile(c.Image.Path, filepath.Join(media, c.Image.Filename)); err != nil {
			return "", perr.Wrapf(err, perr.ErrorCodeStorage, "copy media %s", c.Image.Filename)
		}
		fmt.Fprintf(bw, "%s\t%s\n", Front(c.Image.Filename), Back(c.Description))
	}
	if err := bw.Flush(); err != nil {
		return "", perr.Wrapf(err, perr.ErrorCodeStorage, "write %s", path)
	}
	if err := f.Sync(); err != nil {
		return "", perr.Wrapf(err, perr.ErrorCodeStorage, "sync %s", path)
	}
	w.log.Info().Str("path", path).Int("cards", len(cards)).Msg("deck written")
	return path, nil
}

// Front is the image side of a card
func Front(filename string) string {
	return fmt.Sprintf(`<img src="%s">`, html.EscapeString(filename))
}

// Back renders a description as one TSV-safe HTML field
func Back(desc string) string {
	s := html.EscapeString(strings.TrimSpace(desc))
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\n", "<br>")
	return strings.ReplaceAll(s, "\t", " ")
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
