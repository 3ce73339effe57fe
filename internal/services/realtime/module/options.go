package module

import (
	"time"

	"cardbatch/internal/platform/config"
)

// Options holds configuration for the realtime module
type Options struct {
	Project        string `env:"GCP_PROJECT_ID" validate:"required"`
	Location       string `env:"GCP_LOCATION" validate:"required"`
	Model          string `env:"GCP_MODEL" validate:"required"`
	VertexEndpoint string `env:"GCP_VERTEX_ENDPOINT" validate:"omitempty,url"`

	Prompt     string
	Workers    int           `env:"CORE_REALTIME_WORKERS" validate:"min=1,max=16"`
	MaxRetries int           `env:"MAX_RETRY_COUNT" validate:"min=1,max=10"`
	APIWait    time.Duration `env:"API_WAIT" validate:"gte=0"`
	EmptyWait  time.Duration `env:"CORE_REALTIME_EMPTY_WAIT" validate:"gte=0"`
	ErrorWait  time.Duration `env:"CORE_REALTIME_ERROR_WAIT" validate:"gte=0"`
	Timeout    time.Duration `env:"CORE_REALTIME_TIMEOUT" validate:"gt=0"`
	DeckName   string        `env:"CORE_REALTIME_DECK_NAME" validate:"required"`
	OutputDir  string        `env:"OUTPUT_DIR" validate:"required"`
}

// FromConfig reads GCP_* and CORE_REALTIME_* settings.
// MAX_RETRY_COUNT and API_WAIT keep their historical unprefixed names; API_WAIT is in seconds
func FromConfig(cfg config.Conf) Options {
	gcp := cfg.Prefix("GCP_")
	rt := cfg.Prefix("CORE_REALTIME_")

	prompt := rt.MayString("PROMPT", "")
	if prompt == "" {
		prompt = cfg.MayString("CORE_BATCH_PROMPT", "")
	}

	return Options{
		Project:        gcp.MayString("PROJECT_ID", ""),
		Location:       gcp.MayString("LOCATION", "asia-northeast1"),
		Model:          gcp.MayString("MODEL", "gemini-2.5-pro"),
		VertexEndpoint: gcp.MayString("VERTEX_ENDPOINT", ""),

		Prompt:     prompt,
		Workers:    rt.MayInt("WORKERS", 1),
		MaxRetries: cfg.MayInt("MAX_RETRY_COUNT", 3),
		APIWait:    time.Duration(cfg.MayFloat64("API_WAIT", 1) * float64(time.Second)),
		EmptyWait:  rt.MayDuration("EMPTY_WAIT", 2*time.Second),
		ErrorWait:  rt.MayDuration("ERROR_WAIT", 5*time.Second),
		Timeout:    rt.MayDuration("TIMEOUT", 2*time.Minute),
		DeckName:   rt.MayString("DECK_NAME", "anki_cards"),
		OutputDir:  cfg.MayPath("OUTPUT_DIR", "./output"),
	}
}

// Validate reports invalid settings as one configuration error
func (o Options) Validate() error { return config.Validate(o) }
