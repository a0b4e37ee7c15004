package h3wire

// PartialData tracks a DATA frame that is being streamed to the application
// before the whole frame has arrived on the wire (spec §3). While active,
// the decoder must not attempt to parse a new frame header: every byte it
// sees is payload belonging to this frame.
type PartialData struct {
	total     uint64
	remaining uint64
}

// Remaining reports how many payload bytes are still owed to the frame.
func (p *PartialData) Remaining() uint64 { return p.remaining }

// Total reports the DATA frame's declared length.
func (p *PartialData) Total() uint64 { return p.total }

// take consumes up to p.remaining bytes from the front of buf as the next chunk
// of this DATA frame's payload, returning the chunk and the number of bytes
// consumed from buf. It decrements remaining accordingly.
func (p *PartialData) take(buf []byte) (chunk []byte, consumed int) {
	n := len(buf)
	if uint64(n) > p.remaining {
		n = int(p.remaining)
	}
	p.remaining -= uint64(n)
	return buf[:n], n
}

// done reports whether the frame has been fully delivered.
func (p *PartialData) done() bool { return p.remaining == 0 }
