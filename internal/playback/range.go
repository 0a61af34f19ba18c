package playback

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrInvalidRange  = errors.New("invalid range format")
	ErrUnsatisfiable = errors.New("range not satisfiable")
)

// Range is an inclusive byte span of a file.
type Range struct {
	Start int64
	End   int64
}

func (r Range) Length() int64 {
	return r.End - r.Start + 1
}

// ContentRange formats the Content-Range header value for a file of size total.
func (r Range) ContentRange(total int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, total)
}

// ParseRange parses a Range header against a file of size bytes. Only the
// first range of a multi-range request is honoured. ok is false when header
// is empty.
func ParseRange(header string, size int64) (rng Range, ok bool, err error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return Range{}, false, nil
	}

	value, found := strings.CutPrefix(header, "bytes=")
	if !found {
		return Range{}, false, ErrInvalidRange
	}
	if first, _, multi := strings.Cut(value, ","); multi {
		value = first
	}

	startStr, endStr, found := strings.Cut(strings.TrimSpace(value), "-")
	if !found {
		return Range{}, false, ErrInvalidRange
	}

	switch {
	case startStr == "":
		// Suffix form: the last n bytes.
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 {
			return Range{}, false, ErrInvalidRange
		}
		if size == 0 {
			return Range{}, false, ErrUnsatisfiable
		}
		rng = Range{Start: max(size-n, 0), End: size - 1}

	default:
		start, err := strconv.ParseInt(startStr, 10, 64)
		if err != nil || start < 0 {
			return Range{}, false, ErrInvalidRange
		}
		end := size - 1
		if endStr != "" {
			end, err = strconv.ParseInt(endStr, 10, 64)
			if err != nil {
				return Range{}, false, ErrInvalidRange
			}
		}
		if start > end || start >= size {
			return Range{}, false, ErrUnsatisfiable
		}
		rng = Range{Start: start, End: min(end, size-1)}
	}

	return rng, true, nil
}
