package objectstore

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"

	"cardbatch/internal/adapters/gcp"
	perr "cardbatch/internal/platform/errors"
	"cardbatch/internal/platform/logger"
	"cardbatch/internal/services/batch/domain"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// Options configures the GCS client
type Options struct {
	// Project owns buckets created by EnsureBucket
	Project string
	// Conn.Endpoint is a server root such as http://localhost:4443; /storage/v1/ is appended when missing
	Conn gcp.Conn
}

const jsonAPIPath = "/storage/v1/"

// GCS is a domain.ObjectStore over the Cloud Storage client library
type GCS struct {
	opts Options
	log  logger.Logger

	once    sync.Once
	client  *storage.Client
	initErr error

	mu      sync.Mutex
	buckets map[string]*bucketMemo
}

type bucketMemo struct {
	mu sync.Mutex
	ok bool
}

var _ domain.ObjectStore = (*GCS)(nil)

// NewGCS builds the store. The SDK client is created on first use
func NewGCS(o Options) *GCS {
	if ep := o.Conn.Endpoint; ep != "" && !strings.Contains(ep, jsonAPIPath) {
		o.Conn.Endpoint = strings.TrimRight(ep, "/") + jsonAPIPath
	}
	return &GCS{
		opts:    o,
		log:     *logger.Named("gcs"),
		buckets: map[string]*bucketMemo{},
	}
}

func (g *GCS) sdk(ctx context.Context) (*storage.Client, error) {
	g.once.Do(func() {
		opts := append(g.opts.Conn.ClientOptions(), storage.WithJSONReads())
		c, err := storage.NewClient(context.WithoutCancel(ctx), opts...)
		if err != nil {
			g.initErr = perr.Wrap(err, perr.ErrorCodeConfiguration, "create storage client")
			return
		}
		// every call here is idempotent
		c.SetRetry(
			storage.WithPolicy(storage.RetryAlways),
			storage.WithBackoff(gcp.Backoff),
			storage.WithMaxAttempts(g.opts.Conn.MaxRetries+1),
		)
		g.client = c
	})
	return g.client, g.initErr
}

// Close releases the SDK client
func (g *GCS) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}

// EnsureBucket creates the bucket when missing. Each bucket is checked once per process;
// a failed check is not remembered so a later call can retry
func (g *GCS) EnsureBucket(ctx context.Context, bucket, location string) error {
	g.mu.Lock()
	memo, ok := g.buckets[bucket]
	if !ok {
		memo = &bucketMemo{}
		g.buckets[bucket] = memo
	}
	g.mu.Unlock()

	memo.mu.Lock()
	defer memo.mu.Unlock()
	if memo.ok {
		return nil
	}

	c, err := g.sdk(ctx)
	if err != nil {
		return err
	}
	ctx, cancel := g.opts.Conn.WithTimeout(ctx)
	defer cancel()

	bh := c.Bucket(bucket)
	_, err = bh.Attrs(ctx)
	switch {
	case err == nil:
		g.log.Debug().Str("bucket", bucket).Msg("bucket exists")
	case errors.Is(err, storage.ErrBucketNotExist):
		cerr := bh.Create(ctx, g.opts.Project, &storage.BucketAttrs{Location: location})
		if cerr != nil && gcp.StatusOf(cerr) != http.StatusConflict {
			return gcp.Classify(cerr, "gcs.create_bucket")
		}
		g.log.Info().Str("bucket", bucket).Str("location", location).Msg("bucket created")
	default:
		return gcp.Classify(err, "gcs.get_bucket")
	}
	memo.ok = true
	return nil
}

// Put uploads r as bucket/key in a single request and returns its URI
func (g *GCS) Put(ctx context.Context, bucket, key, contentType string, r io.Reader) (string, error) {
	c, err := g.sdk(ctx)
	if err != nil {
		return "", err
	}
	ctx, cancel := g.opts.Conn.WithTimeout(ctx)
	defer cancel()

	w := c.Bucket(bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	w.ChunkSize = 0
	n, err := io.Copy(w, r)
	if err != nil {
		// canceling the context aborts the upload without creating the object
		cancel()
		return "", perr.Wrap(err, perr.ErrorCodeStorage, "stream upload body")
	}
	if err := w.Close(); err != nil {
		return "", gcp.Classify(err, "gcs.put")
	}
	uri := URI(bucket, key)
	g.log.Debug().Str("uri", uri).Int64("bytes", n).Msg("uploaded")
	return uri, nil
}

// PutFile uploads a local file
func (g *GCS) PutFile(ctx context.Context, bucket, key, path, contentType string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", perr.Wrapf(err, perr.ErrorCodeStorage, "open %s", path)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			g.log.Warn().Err(cerr).Str("path", path).Msg("close upload source failed")
		}
	}()
	return g.Put(ctx, bucket, key, contentType, f)
}

// Get downloads one object by URI
func (g *GCS) Get(ctx context.Context, uri string) ([]byte, error) {
	bucket, key, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	c, err := g.sdk(ctx)
	if err != nil {
		return nil, err
	}
	ctx, cancel := g.opts.Conn.WithTimeout(ctx)
	defer cancel()

	rd, err := c.Bucket(bucket).Object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, perr.WithField(perr.NotFoundf("object %s does not exist", uri), uri)
	}
	if err != nil {
		return nil, gcp.Classify(err, "gcs.get")
	}
	defer func() {
		if cerr := rd.Close(); cerr != nil {
			g.log.Error().Err(cerr).Str("uri", uri).Msg("close reader failed")
		}
	}()
	b, err := io.ReadAll(rd)
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeUnavailable, "read object")
	}
	return b, nil
}

// List returns every object under prefix; the iterator follows page tokens
func (g *GCS) List(ctx context.Context, bucket, prefix string) ([]domain.Object, error) {
	c, err := g.sdk(ctx)
	if err != nil {
		return nil, err
	}
	ctx, cancel := g.opts.Conn.WithTimeout(ctx)
	defer cancel()

	q := &storage.Query{Prefix: prefix}
	if err := q.SetAttrSelection([]string{"Name", "Size"}); err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeUnknown, "select list fields")
	}
	var out []domain.Object
	it := c.Bucket(bucket).Objects(ctx, q)
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, gcp.Classify(err, "gcs.list")
		}
		out = append(out, domain.Object{Bucket: bucket, Name: attrs.Name, Size: attrs.Size})
	}
}
