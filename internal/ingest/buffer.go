package ingest

import "bytes"

// DefaultMaxLine bounds a single pending line on a TCP connection.
const DefaultMaxLine = 1 << 20

// lineBuffer accumulates bytes from one connection. Between calls to feed it
// holds zero or one partial trailing line.
type lineBuffer struct {
	buf []byte
	max int
	// discarding is set after an overflow: bytes are dropped up to the next newline.
	discarding bool
}

func newLineBuffer(max int) *lineBuffer {
	if max <= 0 {
		max = DefaultMaxLine
	}
	return &lineBuffer{max: max}
}

// feed appends chunk and returns every complete line it closes. The returned
// slices do not alias the buffer. overflow reports that the pending partial
// line exceeded the limit and was discarded. The remainder of a discarded
// line is skipped rather than returned as a line of its own.
func (b *lineBuffer) feed(chunk []byte) (lines [][]byte, overflow bool) {
	if b.discarding {
		i := bytes.IndexByte(chunk, '\n')
		if i < 0 {
			return nil, false
		}
		b.discarding = false
		chunk = chunk[i+1:]
	}
	b.buf = append(b.buf, chunk...)

	last := bytes.LastIndexByte(b.buf, '\n')
	if last >= 0 {
		for _, l := range bytes.Split(b.buf[:last], []byte{'\n'}) {
			lines = append(lines, bytes.Clone(l))
		}
		rest := copy(b.buf, b.buf[last+1:])
		b.buf = b.buf[:rest]
	}

	if len(b.buf) > b.max {
		b.buf = b.buf[:0]
		b.discarding = true
		overflow = true
	}
	return lines, overflow
}

func (b *lineBuffer) pending() int {
	return len(b.buf)
}

func (b *lineBuffer) release() {
	b.buf = nil
	b.discarding = false
}
