package source

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/autopeer-io/fwagent/internal/fwagent/core"
	"github.com/autopeer-io/fwagent/pkg/options"
)

var _ core.Source = (*HTTPSource)(nil)

// HTTPSource downloads images with a plain GET.
type HTTPSource struct {
	client      *http.Client
	readTimeout time.Duration
}

func NewHTTPSource(opts *options.OTAOptions) *HTTPSource {
	dialer := &net.Dialer{
		Timeout:   opts.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: opts.InsecureSkipVerify},
		TLSHandshakeTimeout:   opts.ConnectTimeout,
		ResponseHeaderTimeout: opts.ConnectTimeout,
		MaxIdleConns:          1,
		IdleConnTimeout:       30 * time.Second,
	}

	return &HTTPSource{
		client:      &http.Client{Transport: transport},
		readTimeout: opts.ReadTimeout,
	}
}

func (s *HTTPSource) Open(ctx context.Context, url string) (core.Stream, error) {
	ctx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("connect to %s: %w", req.URL.Host, err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("fetch %s: unexpected status %s", req.URL.Redacted(), resp.Status)
	}

	return newStream(resp.Body, resp.ContentLength, cancel, s.readTimeout), nil
}
