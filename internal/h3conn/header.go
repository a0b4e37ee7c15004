package h3conn

// PseudoHeaders carries the HTTP/3 pseudo-header fields (RFC 9114 §4.3)
// that lead a request or response header block. They are absent (all
// fields empty) for a trailer block.
type PseudoHeaders struct {
	Method    string // request only
	Scheme    string // request only
	Authority string // request only
	Path      string // request only
	Status    string // response only

	// Protocol carries the :protocol pseudo-header of an extended CONNECT
	// request (RFC 9220 §4), e.g. "websocket". Empty for ordinary requests.
	Protocol string
}

// Field is one entry of the ordered field-name/value multimap (spec §3:
// "an ordered multimap of field name/value pairs").
type Field struct {
	Name  string
	Value string
}

// Header is the logical HTTP message header block a HEADERS frame's
// QPACK-encoded bytes decode to, or that EncodeHeader serializes into
// those bytes (spec §3, §4.5).
type Header struct {
	Pseudo PseudoHeaders
	Fields []Field

	// Trailer marks this block as a trailer: no pseudo-headers are legal
	// and it must be the final header block on the stream.
	Trailer bool
}

// Get returns the first value for name, if present, matching the linear
// scan a small ordered multimap calls for.
func (h Header) Get(name string) (string, bool) {
	for _, f := range h.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// Add appends a field, preserving duplicate-name ordering.
func (h *Header) Add(name, value string) {
	h.Fields = append(h.Fields, Field{Name: name, Value: value})
}
