package frame

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// EndOfMessageMarker terminates a base:1.0 message.
	EndOfMessageMarker = "]]>]]>"
	// ChunkedTerminator ends a base:1.1 chunked message.
	ChunkedTerminator = "\n##\n"
	// MaxChunkDigits bounds the chunk-size token (RFC6242 max is 4294967295).
	MaxChunkDigits = 10
	// MaxChunkSize is the largest chunk-size RFC6242 allows.
	MaxChunkSize uint64 = 4294967295
)

var (
	ErrInvalidChunkSize = errors.New("frame: invalid chunk size")
	ErrMalformedChunk   = errors.New("frame: malformed chunked message")
	ErrMessageTooLarge  = errors.New("frame: message too large")
	ErrEmptyMessage     = errors.New("frame: empty message")
	ErrUnknownFraming   = errors.New("frame: unknown framing")
)

// Framing selects the NETCONF wire framing.
type Framing int

const (
	// FramingEndOfMessage is the legacy "]]>]]>" framing.
	FramingEndOfMessage Framing = iota
	// FramingChunked is RFC6242 chunked framing.
	FramingChunked
)

func (f Framing) String() string {
	switch f {
	case FramingEndOfMessage:
		return "eom"
	case FramingChunked:
		return "chunked"
	default:
		return "framing(" + strconv.Itoa(int(f)) + ")"
	}
}

func ParseFraming(raw string) (Framing, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "eom", "end-of-message", "1.0":
		return FramingEndOfMessage, nil
	case "chunked", "1.1":
		return FramingChunked, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownFraming, raw)
	}
}

// Limits constrains decoder and encoder memory use.
type Limits struct {
	MaxMessageBytes uint64
	MaxChunkBytes   uint64
}

func DefaultLimits() Limits {
	return Limits{
		MaxMessageBytes: 64 * 1024 * 1024,
		MaxChunkBytes:   MaxChunkSize,
	}
}

func (l Limits) withDefaults() Limits {
	def := DefaultLimits()
	if l.MaxMessageBytes == 0 {
		l.MaxMessageBytes = def.MaxMessageBytes
	}
	if l.MaxChunkBytes == 0 || l.MaxChunkBytes > MaxChunkSize {
		l.MaxChunkBytes = def.MaxChunkBytes
	}
	return l
}

// Encode frames payload for the wire. maxChunk caps each chunk under
// chunked framing; zero or negative means one chunk.
func Encode(f Framing, payload []byte, maxChunk int) ([]byte, error) {
	switch f {
	case FramingEndOfMessage:
		return EncodeEndOfMessage(payload), nil
	case FramingChunked:
		return EncodeChunked(payload, maxChunk)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownFraming, int(f))
	}
}

func EncodeEndOfMessage(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+len(EndOfMessageMarker))
	out = append(out, payload...)
	return append(out, EndOfMessageMarker...)
}

func EncodeChunked(payload []byte, maxChunk int) ([]byte, error) {
	if len(payload) == 0 {
		return nil, ErrEmptyMessage
	}
	if maxChunk <= 0 || uint64(maxChunk) > MaxChunkSize {
		maxChunk = len(payload)
	}
	out := make([]byte, 0, len(payload)+len(ChunkedTerminator)+16)
	for rest := payload; len(rest) > 0; {
		n := min(len(rest), maxChunk)
		out = append(out, '\n', '#')
		out = strconv.AppendInt(out, int64(n), 10)
		out = append(out, '\n')
		out = append(out, rest[:n]...)
		rest = rest[n:]
	}
	return append(out, ChunkedTerminator...), nil
}
