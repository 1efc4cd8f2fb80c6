package core

import (
	"context"
	"errors"
)

var (
	// ErrConnectionLost is returned by Stream.Read when the peer reset or dropped the connection.
	ErrConnectionLost = errors.New("connection lost")

	// ErrReadTimeout is returned by Stream.Read when no data arrived in time.
	ErrReadTimeout = errors.New("read timed out")

	// ErrUnsupportedScheme is returned by a Source that cannot open the URL.
	ErrUnsupportedScheme = errors.New("unsupported source scheme")
)

// Source opens firmware image streams.
type Source interface {
	Open(ctx context.Context, url string) (Stream, error)
}

// Stream is an open firmware download.
type Stream interface {
	// Read fills p unless the stream ends or fails first. It returns io.EOF
	// once the transport reports the end of the body.
	Read(p []byte) (int, error)

	// Complete reports whether every byte the transport announced was received.
	Complete() bool

	// Size is the announced length, or -1 when unknown.
	Size() int64

	Close() error
}
