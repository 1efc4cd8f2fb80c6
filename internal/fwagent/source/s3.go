package source

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/autopeer-io/fwagent/internal/fwagent/core"
	"github.com/autopeer-io/fwagent/pkg/options"
)

var _ core.Source = (*S3Source)(nil)

// S3Source reads images from an S3 compatible object store.
// URLs have the form s3://bucket/path/to/object.
type S3Source struct {
	client      *minio.Client
	readTimeout time.Duration
}

func NewS3Source(s3 *options.S3Options, ota *options.OTAOptions) (*S3Source, error) {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: s3.InsecureSkipVerify},
		TLSHandshakeTimeout:   ota.ConnectTimeout,
		ResponseHeaderTimeout: ota.ConnectTimeout,
	}

	var creds *credentials.Credentials
	if s3.AccessKeyID != "" {
		creds = credentials.NewStaticV4(s3.AccessKeyID, s3.SecretAccessKey, "")
	} else {
		creds = credentials.NewStaticV4("", "", "")
	}

	client, err := minio.New(s3.Endpoint, &minio.Options{
		Creds:     creds,
		Secure:    s3.UseSSL,
		Region:    s3.Region,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &S3Source{client: client, readTimeout: ota.ReadTimeout}, nil
}

func (s *S3Source) Open(ctx context.Context, rawURL string) (core.Stream, error) {
	bucket, key, err := parseObjectURL(rawURL)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("get object %s/%s: %w", bucket, key, err)
	}
	// GetObject is lazy; Stat performs the request.
	info, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		cancel()
		return nil, fmt.Errorf("stat object %s/%s: %w", bucket, key, err)
	}

	return newStream(obj, info.Size, cancel, s.readTimeout), nil
}

func parseObjectURL(rawURL string) (bucket, key string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("parse %q: %w", rawURL, err)
	}
	if u.Scheme != "s3" {
		return "", "", fmt.Errorf("%w: %q", core.ErrUnsupportedScheme, u.Scheme)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", fmt.Errorf("object url %q must be s3://bucket/key", rawURL)
	}
	return u.Host, key, nil
}
