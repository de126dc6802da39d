package protocol

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"

	apperrors "github.com/Iron-Ham/swarmbot/internal/errors"
)

const (
	doneTrue  = "True"
	doneFalse = "False"
)

// MaxIndex is the largest agent index the protocol carries.
const MaxIndex = math.MaxUint16

// ParseInt decodes a decimal integer payload. Surrounding whitespace is
// ignored; anything else that is not a digit or a leading sign is
// rejected.
func ParseInt(payload []byte) (int, error) {
	s := string(bytes.TrimSpace(payload))
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, apperrors.NewProtocolError("expected an integer", apperrors.ErrMalformedPayload).
			WithPayload(string(payload))
	}
	return v, nil
}

// ParseIndex decodes an agent index in [0, MaxIndex].
func ParseIndex(payload []byte) (uint32, error) {
	v, err := ParseInt(payload)
	if err != nil {
		return 0, err
	}
	if v < 0 || v > MaxIndex {
		return 0, apperrors.NewProtocolError("index out of range", apperrors.ErrMalformedPayload).
			WithPayload(string(payload))
	}
	return uint32(v), nil
}

// ParseFlag decodes a 0/1 flag. Any non-zero integer is true.
func ParseFlag(payload []byte) (bool, error) {
	v, err := ParseInt(payload)
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

// FormatInt encodes an integer payload.
func FormatInt(v int) []byte {
	return strconv.AppendInt(nil, int64(v), 10)
}

// FormatFlag encodes a flag as "1" or "0".
func FormatFlag(b bool) []byte {
	if b {
		return []byte("1")
	}
	return []byte("0")
}

// FormatObservation encodes a single distance reading.
func FormatObservation(mm float64) []byte {
	return fmt.Appendf(nil, "[%.4f]", mm)
}

// ParseObservation decodes "[x]" or "[x, y, ...]" and returns the values.
func ParseObservation(payload []byte) ([]float64, error) {
	s := string(bytes.TrimSpace(payload))
	inner, ok := strings.CutPrefix(s, "[")
	if ok {
		inner, ok = strings.CutSuffix(inner, "]")
	}
	if !ok || strings.TrimSpace(inner) == "" {
		return nil, apperrors.NewProtocolError("expected a bracketed list", apperrors.ErrMalformedPayload).
			WithPayload(s)
	}
	parts := strings.Split(inner, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, apperrors.NewProtocolError("expected a number", apperrors.ErrMalformedPayload).
				WithPayload(s)
		}
		out = append(out, v)
	}
	return out, nil
}

// FormatReward encodes a reward.
func FormatReward(r int) []byte {
	return FormatInt(r)
}

// FormatDone encodes the termination flag.
func FormatDone(done bool) []byte {
	if done {
		return []byte(doneTrue)
	}
	return []byte(doneFalse)
}

// ParseDone decodes "True" or "False".
func ParseDone(payload []byte) (bool, error) {
	switch s := string(bytes.TrimSpace(payload)); s {
	case doneTrue:
		return true, nil
	case doneFalse:
		return false, nil
	default:
		return false, apperrors.NewProtocolError(`expected "True" or "False"`, apperrors.ErrMalformedPayload).
			WithPayload(s)
	}
}
