// Package config reads settings from the environment, optionally seeded from a .env file
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"cardbatch/internal/platform/logger"
)

// Conf is a view over environment variables sharing a prefix such as "GCP_" or "CORE_BATCH_"
type Conf struct{ prefix string }

// New returns the unprefixed root view
func New() Conf { return Conf{} }

// Prefix returns a child view, e.g. cfg.Prefix("GCP_")
func (c Conf) Prefix(p string) Conf { return Conf{prefix: c.prefix + p} }

func (c Conf) key(k string) string { return c.prefix + k }

// lookup returns the full variable name and its trimmed value
func (c Conf) lookup(key string) (string, string) {
	k := c.key(key)
	return k, strings.TrimSpace(os.Getenv(k))
}

// mayParse parses a set value with parse. Unset keeps def; a bad value logs and keeps def
func mayParse[T any](c Conf, key string, def T, parse func(string) (T, error)) T {
	k, s := c.lookup(key)
	if s == "" {
		return def
	}
	v, err := parse(s)
	if err != nil {
		logger.Get().Warn().Str("key", k).Str("value", s).Interface("default", def).Msg("unparseable setting ignored")
		return def
	}
	return v
}

// MayString returns the value or def
func (c Conf) MayString(key, def string) string {
	if _, v := c.lookup(key); v != "" {
		return v
	}
	return def
}

// MayInt returns the integer value or def
func (c Conf) MayInt(key string, def int) int { return mayParse(c, key, def, strconv.Atoi) }

// MayFloat64 returns the float value or def
func (c Conf) MayFloat64(key string, def float64) float64 {
	return mayParse(c, key, def, func(s string) (float64, error) { return strconv.ParseFloat(s, 64) })
}

// MayBool returns the strconv.ParseBool value or def
func (c Conf) MayBool(key string, def bool) bool { return mayParse(c, key, def, strconv.ParseBool) }

// MayDuration returns a time.ParseDuration value (250ms, 2s, 1h) or def
func (c Conf) MayDuration(key string, def time.Duration) time.Duration {
	return mayParse(c, key, def, time.ParseDuration)
}

// MayPath returns a cleaned path or def. A leading ~/ expands to the home directory
func (c Conf) MayPath(key, def string) string {
	v := c.MayString(key, def)
	if v == "" {
		return v
	}
	if rest, ok := strings.CutPrefix(v, "~/"); ok {
		if home, err := os.UserHomeDir(); err == nil {
			v = filepath.Join(home, rest)
		}
	}
	return filepath.Clean(v)
}

// MayCSV splits a comma separated value, dropping blanks. Nothing left means def
func (c Conf) MayCSV(key string, def []string) []string {
	_, s := c.lookup(key)
	var out []string
	for _, p := range strings.Split(s, ",") {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

// MayEnum returns the value when it case-insensitively matches one of allowed, def when unset,
// and panics otherwise
func (c Conf) MayEnum(key, def string, allowed ...string) string {
	v := c.MayString(key, def)
	if v == "" {
		return v
	}
	for _, a := range allowed {
		if strings.EqualFold(v, a) {
			return v
		}
	}
	logger.Get().Panic().Str("key", c.key(key)).Str("value", v).Strs("allowed", allowed).Msg("setting outside its allowed values")
	return ""
}
