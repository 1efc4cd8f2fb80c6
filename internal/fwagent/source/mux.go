package source

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/autopeer-io/fwagent/internal/fwagent/core"
)

var _ core.Source = (*Mux)(nil)

// Mux picks a Source by URL scheme.
type Mux struct {
	sources map[string]core.Source
}

func NewMux() *Mux {
	return &Mux{sources: make(map[string]core.Source)}
}

// Handle registers src for scheme, replacing any previous registration.
func (m *Mux) Handle(scheme string, src core.Source) {
	m.sources[strings.ToLower(scheme)] = src
}

func (m *Mux) Open(ctx context.Context, rawURL string) (core.Stream, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse source url: %w", err)
	}
	src, ok := m.sources[strings.ToLower(u.Scheme)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", core.ErrUnsupportedScheme, u.Scheme)
	}
	return src.Open(ctx, rawURL)
}
