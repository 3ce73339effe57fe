package config

import (
	"errors"
	"io/fs"
	"sync"

	"cardbatch/internal/platform/logger"

	"github.com/joho/godotenv"
)

var dotenvOnce sync.Once

// LoadDotEnv loads .env style files into the process environment once per process.
// Existing variables win. A missing file is not an error; with no paths ".env" is tried
func LoadDotEnv(paths ...string) {
	dotenvOnce.Do(func() {
		if len(paths) == 0 {
			paths = []string{".env"}
		}
		for _, p := range paths {
			if err := godotenv.Load(p); err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					logger.Get().Debug().Str("path", p).Msg("no env file, using process environment")
					continue
				}
				logger.Get().Warn().Err(err).Str("path", p).Msg("env file unreadable")
			}
		}
	})
}
