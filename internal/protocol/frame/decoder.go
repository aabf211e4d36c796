package frame

import (
	"bytes"
	"fmt"
	"strconv"
)

// ResultKind classifies one decoder outcome.
type ResultKind int

const (
	// ResultMessage carries one complete message body.
	ResultMessage ResultKind = iota + 1
	// ResultEndOfSession is a terminator with no content before it.
	ResultEndOfSession
	// ResultError is a framing violation; the message it belongs to is
	// dropped through its terminator.
	ResultError
)

func (k ResultKind) String() string {
	switch k {
	case ResultMessage:
		return "message"
	case ResultEndOfSession:
		return "end_of_session"
	case ResultError:
		return "error"
	default:
		return "unknown"
	}
}

// Result is one decoder outcome in stream order.
type Result struct {
	Kind    ResultKind
	Framing Framing
	Payload []byte
	Err     error
}

type decodeState int

const (
	stateFrameStart decodeState = iota
	stateEndOfMessage
	stateChunkSize
	stateChunkBody
	stateChunkTrailer
	stateDiscard
)

var (
	eomMarker        = []byte(EndOfMessageMarker)
	chunkedEndMarker = []byte(ChunkedTerminator)
)

// Decoder incrementally splits a NETCONF byte stream into messages. The
// framing is detected per message: a message that opens with "\n#" is
// chunked, anything else is end-of-message framed.
//
// A Decoder is not safe for concurrent use.
type Decoder struct {
	limits Limits

	state     decodeState
	framing   Framing
	body      []byte
	scan      int
	pendingNL bool

	sizeToken []byte
	sawHash   bool
	remaining uint64
	chunks    int
}

func NewDecoder(limits Limits) *Decoder {
	return &Decoder{limits: limits.withDefaults()}
}

// Feed consumes p and returns every outcome completed by it. A malformed
// message yields one ResultError; its remaining bytes up to the next
// terminator are dropped and decoding resumes after it.
func (d *Decoder) Feed(p []byte) []Result {
	var out []Result
	for len(p) > 0 {
		n, res := d.step(p)
		p = p[n:]
		if res != nil {
			out = append(out, *res)
		}
	}
	return out
}

// Pending reports whether bytes of an undelimited message are buffered.
// Whitespace between messages and input being dropped after an error do
// not count.
func (d *Decoder) Pending() bool {
	switch d.state {
	case stateFrameStart, stateDiscard:
		return false
	default:
		return true
	}
}

// Discarding reports whether input is being dropped after a framing error.
func (d *Decoder) Discarding() bool {
	return d.state == stateDiscard
}

// Buffered returns the number of bytes held for the current message.
func (d *Decoder) Buffered() int {
	if d.state == stateDiscard {
		return 0
	}
	n := len(d.body) + len(d.sizeToken)
	if d.pendingNL {
		n++
	}
	return n
}

func (d *Decoder) Reset() {
	d.state = stateFrameStart
	d.framing = FramingEndOfMessage
	d.body = d.body[:0]
	d.scan = 0
	d.pendingNL = false
	d.sizeToken = d.sizeToken[:0]
	d.sawHash = false
	d.remaining = 0
	d.chunks = 0
}

func (d *Decoder) step(p []byte) (int, *Result) {
	switch d.state {
	case stateFrameStart:
		return d.stepFrameStart(p)
	case stateEndOfMessage:
		return d.stepEndOfMessage(p)
	case stateChunkSize:
		return d.stepChunkSize(p[0])
	case stateChunkBody:
		return d.stepChunkBody(p)
	case stateChunkTrailer:
		return d.stepChunkTrailer(p[0])
	case stateDiscard:
		return d.stepDiscard(p)
	default:
		return 0, d.abandon(fmt.Errorf("%w: decoder state %d", ErrMalformedChunk, d.state), nil)
	}
}

// stepFrameStart skips whitespace between messages. "\n#" opens a chunked
// message; any other non-space byte opens an end-of-message framed one.
func (d *Decoder) stepFrameStart(p []byte) (int, *Result) {
	b := p[0]
	if d.pendingNL {
		d.pendingNL = false
		if b == '#' {
			d.state = stateChunkSize
			d.framing = FramingChunked
			return 1, nil
		}
		return 0, nil
	}
	switch b {
	case '\n':
		d.pendingNL = true
		return 1, nil
	case ' ', '\t', '\r':
		return 1, nil
	}
	d.state = stateEndOfMessage
	d.framing = FramingEndOfMessage
	return 0, nil
}

func (d *Decoder) stepEndOfMessage(p []byte) (int, *Result) {
	prev := len(d.body)
	d.body = append(d.body, p...)

	window := d.body[d.scan:]
	markerAt := bytes.Index(window, eomMarker)
	chunkEndAt := bytes.Index(window, chunkedEndMarker)
	if chunkEndAt >= 0 && (markerAt < 0 || chunkEndAt < markerAt) {
		if len(bytes.TrimSpace(d.body[:d.scan+chunkEndAt])) == 0 {
			res := &Result{Kind: ResultEndOfSession, Framing: FramingChunked}
			consumed := d.scan + chunkEndAt + len(chunkedEndMarker) - prev
			d.Reset()
			return consumed, res
		}
		res := d.fail(fmt.Errorf("%w: chunked terminator without chunk framing", ErrMalformedChunk))
		consumed := d.scan + chunkEndAt + len(chunkedEndMarker) - prev
		d.Reset()
		return consumed, res
	}
	if markerAt < 0 {
		if uint64(len(d.body)) > d.limits.MaxMessageBytes+uint64(len(eomMarker)) {
			err := fmt.Errorf("%w: %d bytes without end-of-message marker", ErrMessageTooLarge, len(d.body))
			return len(p), d.abandon(err, d.body[len(d.body)-(len(eomMarker)-1):])
		}
		d.scan = max(0, len(d.body)-(len(eomMarker)-1))
		return len(p), nil
	}

	end := d.scan + markerAt
	consumed := end + len(eomMarker) - prev
	if uint64(end) > d.limits.MaxMessageBytes {
		res := d.fail(fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, end))
		d.Reset()
		return consumed, res
	}
	res := d.complete(d.body[:end], FramingEndOfMessage)
	d.Reset()
	return consumed, res
}

func (d *Decoder) stepChunkSize(b byte) (int, *Result) {
	if d.sawHash {
		if b != '\n' {
			return d.abandonAt(b, fmt.Errorf("%w: expected newline after \"##\", got %q", ErrMalformedChunk, b))
		}
		var res *Result
		if d.chunks == 0 {
			res = &Result{Kind: ResultEndOfSession, Framing: FramingChunked}
		} else {
			res = d.complete(d.body, FramingChunked)
		}
		d.Reset()
		return 1, res
	}

	switch {
	case b == '#' && len(d.sizeToken) == 0:
		d.sawHash = true
		return 1, nil
	case b == '\n':
		if len(d.sizeToken) == 0 {
			return d.abandonAt(b, fmt.Errorf("%w: empty chunk-size token", ErrInvalidChunkSize))
		}
		size, err := strconv.ParseUint(string(d.sizeToken), 10, 64)
		if err != nil || size > d.limits.MaxChunkBytes {
			return d.abandonAt(b, fmt.Errorf("%w: %q", ErrInvalidChunkSize, d.sizeToken))
		}
		if uint64(len(d.body))+size > d.limits.MaxMessageBytes {
			return d.abandonAt(b, fmt.Errorf("%w: chunk of %d bytes after %d buffered", ErrMessageTooLarge, size, len(d.body)))
		}
		d.remaining = size
		d.sizeToken = d.sizeToken[:0]
		d.state = stateChunkBody
		return 1, nil
	case b >= '0' && b <= '9':
		if len(d.sizeToken) == 0 && b == '0' {
			return d.abandonAt(b, fmt.Errorf("%w: leading zero", ErrInvalidChunkSize))
		}
		if len(d.sizeToken) >= MaxChunkDigits {
			return d.abandonAt(b, fmt.Errorf("%w: more than %d digits", ErrInvalidChunkSize, MaxChunkDigits))
		}
		d.sizeToken = append(d.sizeToken, b)
		return 1, nil
	default:
		return d.abandonAt(b, fmt.Errorf("%w: unexpected byte %q in chunk-size token", ErrInvalidChunkSize, b))
	}
}

func (d *Decoder) stepChunkBody(p []byte) (int, *Result) {
	take := len(p)
	if uint64(take) > d.remaining {
		take = int(d.remaining)
	}
	d.body = append(d.body, p[:take]...)
	d.remaining -= uint64(take)
	if d.remaining == 0 {
		d.chunks++
		d.state = stateChunkTrailer
	}
	return take, nil
}

func (d *Decoder) stepChunkTrailer(b byte) (int, *Result) {
	if !d.pendingNL {
		if b != '\n' {
			return d.abandonAt(b, fmt.Errorf("%w: %q after chunk data", ErrMalformedChunk, b))
		}
		d.pendingNL = true
		return 1, nil
	}
	d.pendingNL = false
	if b != '#' {
		return d.abandonAt(b, fmt.Errorf("%w: %q after chunk delimiter newline", ErrMalformedChunk, b))
	}
	d.state = stateChunkSize
	return 1, nil
}

// stepDiscard drops input through the next "\n##\n" or "]]>]]>". d.body
// holds only the tail needed to match a terminator split across reads.
func (d *Decoder) stepDiscard(p []byte) (int, *Result) {
	prev := len(d.body)
	d.body = append(d.body, p...)

	end := -1
	if i := bytes.Index(d.body, chunkedEndMarker); i >= 0 {
		end = i + len(chunkedEndMarker)
	}
	if i := bytes.Index(d.body, eomMarker); i >= 0 && (end < 0 || i+len(eomMarker) < end) {
		end = i + len(eomMarker)
	}
	if end < 0 {
		if keep := len(eomMarker) - 1; len(d.body) > keep {
			d.body = append(d.body[:0], d.body[len(d.body)-keep:]...)
		}
		return len(p), nil
	}
	d.Reset()
	return end - prev, nil
}

func (d *Decoder) complete(body []byte, f Framing) *Result {
	if len(bytes.TrimSpace(body)) == 0 {
		return &Result{Kind: ResultEndOfSession, Framing: f}
	}
	payload := make([]byte, len(body))
	copy(payload, body)
	return &Result{Kind: ResultMessage, Framing: f, Payload: payload}
}

func (d *Decoder) fail(err error) *Result {
	return &Result{Kind: ResultError, Framing: d.framing, Err: err}
}

// abandon reports err for the current message and switches to discarding
// its remaining bytes. tail seeds the terminator search.
func (d *Decoder) abandon(err error, tail []byte) *Result {
	res := d.fail(err)
	d.Reset()
	d.body = append(d.body, tail...)
	d.state = stateDiscard
	return res
}

// abandonAt leaves an offending newline unconsumed so it can start the
// terminator the discard is looking for.
func (d *Decoder) abandonAt(b byte, err error) (int, *Result) {
	n := 1
	if b == '\n' {
		n = 0
	}
	return n, d.abandon(err, nil)
}
