// Package telegram implements the framing and payload format of the weight
// telegrams sent continuously by the scale.
//
// A telegram is STX, an ASCII payload and ETX:
//
//	0x02 '+' d d d d d d 0x03
//
// The payload is a leading sign followed by at least MinDigits digits, the
// last significant digit being the first decimal place ("+012345" = 1234.5).
package telegram

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

const (
	// StartMarker opens a telegram.
	StartMarker = 0x02
	// EndMarker closes a telegram.
	EndMarker = 0x03

	// MinDigits is the minimum number of digits of a valid payload.
	MinDigits = 5
	// MaxDigits is the number of leading digits that carry the weight, any
	// further digits are ignored.
	MaxDigits = 6

	// DefaultCapacity is the default maximum number of payload bytes read for
	// a single telegram.
	DefaultCapacity = 64
)

var (
	// ErrNoStartMarker is returned when the first byte read is not StartMarker.
	// The byte has been consumed and is dropped.
	ErrNoStartMarker = errors.New("no start marker")

	// ErrIncompleteFrame is returned when the stream fails after a start marker
	// but before the end marker or the capacity was reached.
	ErrIncompleteFrame = errors.New("incomplete frame")

	// ErrMalformedTelegram is returned by Decode for payloads without sign or
	// with too few digits.
	ErrMalformedTelegram = errors.New("malformed telegram")
)

// Weight is a fixed-point weight in tenths of the display unit.
type Weight int64

// FromFloat converts a weight in display units to a Weight, rounding to the
// nearest tenth.
func FromFloat(v float64) Weight {
	return Weight(math.Round(v * 10))
}

// Float64 returns the weight in display units.
func (w Weight) Float64() float64 {
	return float64(w) / 10
}

func (w Weight) String() string {
	return strconv.FormatFloat(w.Float64(), 'f', 1, 64)
}

// ReadFrame reads a single telegram from r and returns its payload (without
// markers).
//
// Exactly one start detection attempt is made: if the first byte is not
// StartMarker it is dropped and ErrNoStartMarker is returned. Otherwise bytes
// are collected until EndMarker is seen or capacity bytes have been collected,
// whichever comes first. An error of r before any byte was read is returned
// unchanged, an error after the start marker is wrapped in ErrIncompleteFrame
// and returned together with the partial payload.
func ReadFrame(r io.ByteReader, capacity int) ([]byte, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	first, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if first != StartMarker {
		return nil, ErrNoStartMarker
	}

	payload := make([]byte, 0, capacity)
	for len(payload) < capacity {
		b, err := r.ReadByte()
		if err != nil {
			return payload, fmt.Errorf("%w after %d bytes: %w", ErrIncompleteFrame, len(payload), err)
		}
		if b == EndMarker {
			break
		}
		payload = append(payload, b)
	}

	return payload, nil
}

// Decode parses a telegram payload into a Weight. Malformed payloads decode to
// zero along with ErrMalformedTelegram.
func Decode(payload []byte) (Weight, error) {
	s := strings.TrimRight(string(payload), "\x00 \t\r\n")

	if !strings.HasPrefix(s, "+") {
		return 0, fmt.Errorf("%w: missing sign in %q", ErrMalformedTelegram, s)
	}

	digits := s[1:]
	n := 0
	for n < len(digits) && digits[n] >= '0' && digits[n] <= '9' {
		n++
	}
	if n < MinDigits {
		return 0, fmt.Errorf("%w: %d digits in %q, need %d", ErrMalformedTelegram, n, s, MinDigits)
	}
	if n > MaxDigits {
		n = MaxDigits
	}

	// At most six digits always fit
	tenths, err := strconv.ParseInt(digits[:n], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrMalformedTelegram, err)
	}

	return Weight(tenths), nil
}

// Encode returns the framed telegram the scale sends for w.
func Encode(w Weight) []byte {
	sign := byte('+')
	if w < 0 {
		sign = '-'
		w = -w
	}

	buf := make([]byte, 0, MaxDigits+3)
	buf = append(buf, StartMarker, sign)
	buf = append(buf, fmt.Sprintf("%0*d", MaxDigits, int64(w))...)
	buf = append(buf, EndMarker)

	return buf
}
