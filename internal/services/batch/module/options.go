package module

import (
	"os"
	"strings"
	"time"

	"cardbatch/internal/platform/config"
	"cardbatch/internal/platform/logger"
)

// Registry backends
const (
	BackendFile = "file"
	BackendPG   = "pg"
)

// Options holds configuration for the batch module
type Options struct {
	Project     string `env:"GCP_PROJECT_ID" validate:"required"`
	Location    string `env:"GCP_LOCATION" validate:"required"`
	Model       string `env:"GCP_MODEL" validate:"required"`
	Bucket      string `env:"GCP_BUCKET" validate:"required"`
	Credentials string `env:"GOOGLE_APPLICATION_CREDENTIALS"`

	// Endpoint overrides for emulators
	StorageEndpoint string `env:"GCP_STORAGE_ENDPOINT" validate:"omitempty,url"`
	VertexEndpoint  string `env:"GCP_VERTEX_ENDPOINT" validate:"omitempty,url"`

	Prompt            string
	Threshold         int           `env:"CORE_BATCH_THRESHOLD" validate:"min=1"`
	SyncCreate        bool          `env:"CORE_BATCH_SYNC_CREATE"`
	WaitForCompletion bool          `env:"CORE_BATCH_WAIT"`
	PollInterval      time.Duration `env:"CORE_BATCH_POLL_INTERVAL" validate:"gt=0"`
	PollTimeout       time.Duration `env:"CORE_BATCH_POLL_TIMEOUT" validate:"gtfield=PollInterval"`
	SettleDelay       time.Duration `env:"CORE_BATCH_SETTLE_DELAY" validate:"gte=0"`
	ResolveAttempts   int           `env:"CORE_BATCH_RESOLVE_ATTEMPTS" validate:"min=1,max=20"`
	ResolveBackoff    time.Duration `env:"CORE_BATCH_RESOLVE_BACKOFF" validate:"gte=0"`
	UploadWorkers     int           `env:"CORE_BATCH_UPLOAD_WORKERS" validate:"min=1,max=64"`
	UploadTimeout     time.Duration `env:"CORE_BATCH_UPLOAD_TIMEOUT"`
	SubmitTimeout     time.Duration `env:"CORE_BATCH_SUBMIT_TIMEOUT"`
	FetchTimeout      time.Duration `env:"CORE_BATCH_FETCH_TIMEOUT"`
	APIRetries        int           `env:"CORE_BATCH_API_RETRIES" validate:"min=1"`
	DeckName          string        `env:"CORE_BATCH_DECK_NAME" validate:"required"`

	ImageFolder  string `env:"IMAGE_FOLDER" validate:"required"`
	OutputDir    string `env:"OUTPUT_DIR" validate:"required"`
	MaxImageSize int64  `env:"MAX_IMAGE_SIZE" validate:"min=1"`

	RegistryBackend string `env:"REGISTRY_BACKEND" validate:"oneof=file pg"`
	RegistryFile    string `env:"REGISTRY_FILE" validate:"required_if=RegistryBackend file"`
	RegistryPGURL   string `env:"REGISTRY_PG_URL" validate:"required_if=RegistryBackend pg"`
}

// FromConfig reads GCP_*, CORE_BATCH_* and REGISTRY_* settings with their defaults
func FromConfig(cfg config.Conf) Options {
	gcp := cfg.Prefix("GCP_")
	bt := cfg.Prefix("CORE_BATCH_")
	reg := cfg.Prefix("REGISTRY_")

	project := gcp.MayString("PROJECT_ID", "")
	bucket := gcp.MayString("BUCKET", "")
	if bucket == "" && project != "" {
		bucket = project + "-anki-batch-processing"
	}

	o := Options{
		Project:         project,
		Location:        gcp.MayString("LOCATION", "asia-northeast1"),
		Model:           gcp.MayString("MODEL", "gemini-2.5-pro"),
		Bucket:          bucket,
		Credentials:     cfg.MayPath("GOOGLE_APPLICATION_CREDENTIALS", ""),
		StorageEndpoint: gcp.MayString("STORAGE_ENDPOINT", ""),
		VertexEndpoint:  gcp.MayString("VERTEX_ENDPOINT", ""),

		Threshold:         bt.MayInt("THRESHOLD", 10),
		SyncCreate:        bt.MayBool("SYNC_CREATE", false),
		WaitForCompletion: bt.MayBool("WAIT", false),
		PollInterval:      bt.MayDuration("POLL_INTERVAL", 30*time.Second),
		PollTimeout:       bt.MayDuration("POLL_TIMEOUT", 1800*time.Second),
		SettleDelay:       bt.MayDuration("SETTLE_DELAY", 2*time.Second),
		ResolveAttempts:   bt.MayInt("RESOLVE_ATTEMPTS", 5),
		ResolveBackoff:    bt.MayDuration("RESOLVE_BACKOFF", 2*time.Second),
		UploadWorkers:     bt.MayInt("UPLOAD_WORKERS", 4),
		UploadTimeout:     bt.MayDuration("UPLOAD_TIMEOUT", 2*time.Minute),
		SubmitTimeout:     bt.MayDuration("SUBMIT_TIMEOUT", 2*time.Minute),
		FetchTimeout:      bt.MayDuration("FETCH_TIMEOUT", 10*time.Minute),
		APIRetries:        bt.MayInt("API_RETRIES", 3),
		DeckName:          bt.MayString("DECK_NAME", "anki_batch_cards"),

		ImageFolder:  cfg.MayPath("IMAGE_FOLDER", "./img"),
		OutputDir:    cfg.MayPath("OUTPUT_DIR", "./output"),
		MaxImageSize: int64(cfg.MayInt("MAX_IMAGE_SIZE", 10<<20)),

		RegistryBackend: strings.ToLower(reg.MayEnum("BACKEND", BackendFile, BackendFile, BackendPG)),
		RegistryFile:    reg.MayPath("FILE", "batch_jobs.json"),
		RegistryPGURL:   reg.MayString("PG_URL", ""),
	}
	o.Prompt = promptFrom(bt)
	return o
}

// promptFrom reads CORE_BATCH_PROMPT, or the file named by CORE_BATCH_PROMPT_FILE; empty keeps the built-in prompt
func promptFrom(bt config.Conf) string {
	if p := bt.MayString("PROMPT", ""); p != "" {
		return p
	}
	path := bt.MayPath("PROMPT_FILE", "")
	if path == "" {
		return ""
	}
	b, err := os.ReadFile(path)
	if err != nil {
		logger.Get().Warn().Err(err).Str("path", path).Msg("prompt file unreadable; using the built-in prompt")
		return ""
	}
	return string(b)
}

// Validate reports every invalid setting as one configuration error
func (o Options) Validate() error { return config.Validate(o) }
