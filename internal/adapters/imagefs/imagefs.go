// Package imagefs lists and validates the local images fed into a run
package imagefs

import (
	"image"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"os"
	"path/filepath"
	"slices"
	"strings"

	perr "cardbatch/internal/platform/errors"
	"cardbatch/internal/platform/logger"
	"cardbatch/internal/services/batch/domain"

	_ "golang.org/x/image/bmp" // register decoder
)

// DefaultMaxBytes is the per-image size ceiling
const DefaultMaxBytes int64 = 10 << 20

// Supported lists accepted extensions, lower case
var Supported = []string{".jpg", ".jpeg", ".png", ".gif", ".bmp"}

// Rejection is one image that failed preflight
type Rejection struct {
	Path string
	Err  error
}

// Validator checks images against format and size limits
type Validator struct {
	MaxBytes int64
	log      logger.Logger
}

// NewValidator builds a Validator; maxBytes <= 0 uses DefaultMaxBytes
func NewValidator(maxBytes int64) *Validator {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Validator{MaxBytes: maxBytes, log: *logger.Named("imagefs")}
}

// IsSupported reports whether the extension is accepted
func IsSupported(path string) bool {
	return slices.Contains(Supported, strings.ToLower(filepath.Ext(path)))
}

// Validate checks one file and returns its reference
func (v *Validator) Validate(path string) (domain.ImageRef, error) {
	if !IsSupported(path) {
		return domain.ImageRef{}, perr.WithField(perr.Validationf("unsupported format %q", filepath.Ext(path)), path)
	}
	st, err := os.Stat(path)
	if err != nil {
		return domain.ImageRef{}, perr.WithField(perr.Wrap(err, perr.ErrorCodeValidation, "stat image"), path)
	}
	if st.IsDir() {
		return domain.ImageRef{}, perr.WithField(perr.Validationf("is a directory"), path)
	}
	if st.Size() == 0 {
		return domain.ImageRef{}, perr.WithField(perr.Validationf("empty file"), path)
	}
	if st.Size() > v.MaxBytes {
		return domain.ImageRef{}, perr.WithField(perr.Validationf("%d bytes exceeds limit %d", st.Size(), v.MaxBytes), path)
	}
	f, err := os.Open(path)
	if err != nil {
		return domain.ImageRef{}, perr.WithField(perr.Wrap(err, perr.ErrorCodeValidation, "open image"), path)
	}
	defer func() { _ = f.Close() }()
	if _, _, err := image.DecodeConfig(f); err != nil {
		return domain.ImageRef{}, perr.WithField(perr.Wrap(err, perr.ErrorCodeValidation, "not a decodable image"), path)
	}
	ref := domain.NewImageRef(path)
	ref.Size = st.Size()
	return ref, nil
}

// Scan lists dir, validates every supported file and returns refs sorted by lower-case filename.
// Per-image failures are returned as rejections, never as the error
func (v *Validator) Scan(dir string) ([]domain.ImageRef, []Rejection, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, perr.Wrapf(err, perr.ErrorCodeConfiguration, "image folder %s does not exist", dir)
		}
		return nil, nil, perr.Wrapf(err, perr.ErrorCodeStorage, "read image folder %s", dir)
	}
	var refs []domain.ImageRef
	var rejected []Rejection
	for _, e := range entries {
		if e.IsDir() || !IsSupported(e.Name()) {
			continue
		}
		p := filepath.Join(dir, e.Name())
		ref, err := v.Validate(p)
		if err != nil {
			v.log.Warn().Err(err).Str("path", p).Msg("image skipped")
			rejected = append(rejected, Rejection{Path: p, Err: err})
			continue
		}
		refs = append(refs, ref)
	}
	SortRefs(refs)
	return refs, rejected, nil
}

// SortRefs orders refs by lower-case filename, ties broken by the original name
func SortRefs(refs []domain.ImageRef) {
	slices.SortStableFunc(refs, func(a, b domain.ImageRef) int {
		if c := strings.Compare(a.SortKey(), b.SortKey()); c != 0 {
			return c
		}
		return strings.Compare(a.Filename, b.Filename)
	})
}
