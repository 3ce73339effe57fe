// Package objectstore implements the blob store boundary over Cloud Storage
package objectstore

import (
	"strings"

	perr "cardbatch/internal/platform/errors"
)

// Scheme is the URI scheme of stored objects
const Scheme = "gs://"

// URI composes gs://bucket/key
func URI(bucket, key string) string {
	return Scheme + bucket + "/" + strings.TrimPrefix(key, "/")
}

// ParseURI splits gs://bucket/key; key may be empty or a prefix
func ParseURI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(uri), Scheme)
	if !ok || rest == "" {
		return "", "", perr.Newf(perr.ErrorCodeValidation, "not a %s uri: %q", Scheme, uri)
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", perr.Newf(perr.ErrorCodeValidation, "missing bucket in %q", uri)
	}
	return bucket, key, nil
}
