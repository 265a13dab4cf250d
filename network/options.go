//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package network

import "log/slog"

// Option configures a Gateway at construction, following the functional
// options pattern the teacher library uses for responder.Option.
type Option func(*Gateway)

// WithLogger attaches structured logging. Debug records entry failures
// and a Kill shutdown; Warn covers unrecognized requests and unparseable
// write-udp destinations; Error covers a selector failure that tears the
// gateway down. Entry creation and interest changes are not logged. A
// nil logger (the default) means silence.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithScratchBufferSize overrides the reactor's reusable read buffer
// size. The default is 65535 bytes, matching the maximum size of a
// single UDP datagram.
func WithScratchBufferSize(size int) Option {
	return func(g *Gateway) {
		if size > 0 {
			g.scratchSize = size
		}
	}
}
