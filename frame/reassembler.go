package frame

import (
	"github.com/pkg/errors"
)

// ErrFrameTooLarge is returned when a length prefix announces more bytes than
// the reassembler accepts. The stream cannot be resynchronized after it.
var ErrFrameTooLarge = errors.New("frame too large")

// State is the position of a Reassembler within the current frame.
type State int

const (
	// Empty means no bytes of the next frame have arrived.
	Empty State = iota
	// LengthPending means part of an extended length prefix is buffered.
	LengthPending
	// BodyPending means the length is known and the payload is incomplete.
	BodyPending
)

func (s State) String() string {
	switch s {
	case Empty:
		return "empty"
	case LengthPending:
		return "length-pending"
	case BodyPending:
		return "body-pending"
	default:
		return "unknown"
	}
}

// Reassembler turns stream chunks into complete frame payloads. It handles
// frames split over many chunks as well as several frames coalesced in one.
// A Reassembler is not safe for concurrent use.
type Reassembler struct {
	maxLength int

	head     []byte // partial length prefix
	body     []byte
	expected int // -1 while the length is unknown
}

// NewReassembler returns a Reassembler that rejects frames longer than
// maxLength. A maxLength <= 0 disables the check.
func NewReassembler(maxLength int) *Reassembler {
	return &Reassembler{maxLength: maxLength, expected: -1}
}

// Feed consumes chunk and returns the payloads of every frame it completes,
// in arrival order. Residual bytes after a completed frame are processed in
// the same call. Returned payloads are owned by the caller.
func (r *Reassembler) Feed(chunk []byte) ([][]byte, error) {
	var frames [][]byte
	for {
		if r.expected < 0 {
			if len(r.head) == 0 && len(chunk) == 0 {
				return frames, nil
			}

			buf := chunk
			if len(r.head) > 0 {
				buf = append(r.head, chunk...)
			}
			length, consumed, ok := DecodeLength(buf)
			if !ok {
				r.head = append(r.head[:0:0], buf...)
				return frames, nil
			}
			if r.maxLength > 0 && length > r.maxLength {
				r.Reset()
				return frames, errors.Wrapf(ErrFrameTooLarge, "length %d exceeds %d", length, r.maxLength)
			}

			chunk = buf[consumed:]
			r.head = nil
			r.expected = length
			r.body = make([]byte, 0, length)
		}

		take := r.expected - len(r.body)
		if take > len(chunk) {
			take = len(chunk)
		}
		r.body = append(r.body, chunk[:take]...)
		chunk = chunk[take:]
		if len(r.body) < r.expected {
			return frames, nil
		}

		frames = append(frames, r.body)
		r.body = nil
		r.expected = -1
		if len(chunk) == 0 {
			return frames, nil
		}
	}
}

// State reports where the reassembler is within the current frame.
func (r *Reassembler) State() State {
	switch {
	case r.expected >= 0:
		return BodyPending
	case len(r.head) > 0:
		return LengthPending
	default:
		return Empty
	}
}

// Buffered returns the number of bytes held for the incomplete frame.
func (r *Reassembler) Buffered() int {
	return len(r.head) + len(r.body)
}

// Expected returns the payload length of the frame being assembled, or -1 if
// it is not known yet.
func (r *Reassembler) Expected() int {
	return r.expected
}

// Reset discards any partial frame.
func (r *Reassembler) Reset() {
	r.head = nil
	r.body = nil
	r.expected = -1
}
