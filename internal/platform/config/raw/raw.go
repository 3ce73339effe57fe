// Package raw reads LOG_* style settings before the logger exists.
// It must not import the logger or config packages
package raw

import (
	"os"
	"strconv"
	"strings"
)

// Env reads variables that share one prefix
type Env string

// Scope returns an Env for variables named prefix+key
func Scope(prefix string) Env { return Env(prefix) }

func (e Env) lookup(key string) string { return strings.TrimSpace(os.Getenv(string(e) + key)) }

// String returns the trimmed value or def when unset or blank
func (e Env) String(key, def string) string {
	if v := e.lookup(key); v != "" {
		return v
	}
	return def
}

// Bool accepts strconv forms plus yes/no and on/off; anything else is def
func (e Env) Bool(key string, def bool) bool {
	switch v := strings.ToLower(e.lookup(key)); v {
	case "yes", "on":
		return true
	case "no", "off":
		return false
	default:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
		return def
	}
}

// Int returns a non negative integer or def
func (e Env) Int(key string, def int) int {
	n, err := strconv.Atoi(e.lookup(key))
	if err != nil || n < 0 {
		return def
	}
	return n
}
