package ipc

import (
	"io"
)

// Channel is a bidirectional message stream between the dispatcher and one
// worker. It guarantees in-order delivery within each direction; the
// channel is considered disconnected once either end's underlying pipe is
// closed (a broken pipe surfaces as an error from Read or Write).
type Channel struct {
	*Writer
	*Reader
	closer io.Closer
}

// NewChannel wraps a duplex connection (e.g. a worker's stdin/stdout pair
// glued together) as a Channel.
func NewChannel(r io.Reader, w io.Writer, closer io.Closer) *Channel {
	return &Channel{
		Writer: NewWriter(w),
		Reader: NewReader(r),
		closer: closer,
	}
}

// Close releases the underlying transport, if it supports it.
func (c *Channel) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

// pipeEnd adapts two unidirectional io.Pipe halves into a single
// io.ReadWriteCloser, used to build an in-process Channel pair for tests
// without spawning a real subprocess.
type pipeEnd struct {
	io.Reader
	io.Writer
	closeFuncs []io.Closer
}

func (p *pipeEnd) Close() error {
	var first error
	for _, c := range p.closeFuncs {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// NewInMemoryPair returns two Channels connected back-to-back, as if one
// were the dispatcher's end and the other a worker's end of a pipe. Used by
// dispatcher and worker tests to avoid spawning real subprocesses.
func NewInMemoryPair() (a, b *Channel) {
	ar, bw := io.Pipe()
	br, aw := io.Pipe()

	aEnd := &pipeEnd{Reader: ar, Writer: aw, closeFuncs: []io.Closer{ar, aw}}
	bEnd := &pipeEnd{Reader: br, Writer: bw, closeFuncs: []io.Closer{br, bw}}

	return NewChannel(aEnd, aEnd, aEnd), NewChannel(bEnd, bEnd, bEnd)
}
