package iopkg

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// s3iface is the minimal subset of s3 client methods we use; allows test fakes.
type s3iface interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// newS3Client constructs an s3 client; overridden in tests.
var newS3Client = func(ctx context.Context) (s3iface, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	return s3.NewFromConfig(cfg), nil
}

// httpClient is the client used for http(s) URIs; overridden in tests.
var httpClient = http.DefaultClient

// Open returns a ReadCloser and (if known) size for file://, s3:// or
// http(s):// URIs. Bare paths are treated as local files.
func Open(ctx context.Context, uri string) (io.ReadCloser, int64, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, 0, err
	}
	switch u.Scheme {
	case "file", "":
		p := strings.TrimPrefix(uri, "file://")
		f, err := os.Open(p)
		if err != nil {
			return nil, 0, err
		}
		var sz int64
		if st, err := f.Stat(); err == nil {
			sz = st.Size()
		}
		return f, sz, nil
	case "s3":
		cl, err := newS3Client(ctx)
		if err != nil {
			return nil, 0, err
		}
		resp, err := cl.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(u.Host),
			Key:    aws.String(strings.TrimPrefix(u.Path, "/")),
		})
		if err != nil {
			return nil, 0, err
		}
		var sz int64
		if resp.ContentLength != nil {
			sz = *resp.ContentLength
		}
		return resp.Body, sz, nil
	case "http", "https":
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
		if err != nil {
			return nil, 0, err
		}
		resp, err := httpClient.Do(req)
		if err != nil {
			return nil, 0, err
		}
		if resp.StatusCode != http.StatusOK {
			_ = resp.Body.Close()
			return nil, 0, fmt.Errorf("GET %s: %s", uri, resp.Status)
		}
		return resp.Body, resp.ContentLength, nil
	default:
		return nil, 0, errors.New("unsupported scheme: " + u.Scheme)
	}
}

// OpenDecoded opens a URI and transparently un-gzips it when the name ends
// in .gz. The returned closer closes both layers.
func OpenDecoded(ctx context.Context, uri string) (io.ReadCloser, error) {
	rc, _, err := Open(ctx, uri)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(strings.ToLower(uri), ".gz") {
		return rc, nil
	}
	gr, err := gzip.NewReader(rc)
	if err != nil {
		_ = rc.Close()
		return nil, err
	}
	return &gzipReadCloser{gr: gr, under: rc}, nil
}

type gzipReadCloser struct {
	gr    *gzip.Reader
	under io.ReadCloser
}

func (g *gzipReadCloser) Read(p []byte) (int, error) { return g.gr.Read(p) }
func (g *gzipReadCloser) Close() error {
	err := g.gr.Close()
	if cerr := g.under.Close(); err == nil {
		err = cerr
	}
	return err
}

// Create creates a local file, making parent directories as needed.
func Create(path string) (io.Writer, io.Closer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, f, nil
}

// CreateWriter supports file:// and s3:// destinations. S3 writes are
// buffered in memory and uploaded on Close.
func CreateWriter(ctx context.Context, uri string) (io.Writer, io.Closer, error) {
	if strings.HasPrefix(uri, "file://") || !strings.Contains(uri, "://") {
		return Create(strings.TrimPrefix(uri, "file://"))
	}
	u, err := url.Parse(uri)
	if err != nil {
		return nil, nil, err
	}
	switch u.Scheme {
	case "s3":
		var buf bytes.Buffer
		done := false
		upload := func(b []byte) error {
			cl, err := newS3Client(ctx)
			if err != nil {
				return err
			}
			_, err = cl.PutObject(ctx, &s3.PutObjectInput{
				Bucket: aws.String(u.Host),
				Key:    aws.String(strings.TrimPrefix(u.Path, "/")),
				Body:   bytes.NewReader(b),
			})
			return err
		}
		return &buf, closerFunc(func() error {
			if done {
				return nil
			}
			done = true
			return upload(buf.Bytes())
		}), nil
	default:
		return nil, nil, errors.New("unsupported scheme for CreateWriter: " + u.Scheme)
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
