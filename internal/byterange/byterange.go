// Package byterange parses single-range "Range: bytes=..." request headers.
package byterange

import (
	"errors"
	"math"
	"strconv"
	"strings"
)

var (
	// ErrInvalidRange reports a Range header that does not match bytes=<start>-<end>.
	ErrInvalidRange = errors.New("invalid byte range")
	// ErrUnsatisfiable reports a range that does not overlap the resource.
	ErrUnsatisfiable = errors.New("byte range not satisfiable")
)

const unit = "bytes="

// Range is a single requested byte range. End is exclusive.
//
// A range without a start (bytes=-N) is a suffix range asking for the
// last Suffix bytes of the resource; Start and End are unused for it.
type Range struct {
	Start    int64
	End      int64
	HasStart bool
	HasEnd   bool
	Suffix   int64
}

// IsSuffix reports whether r was written as bytes=-N.
func (r Range) IsSuffix() bool {
	return !r.HasStart && !r.HasEnd
}

// Parse parses the value of a Range header. An empty value yields a nil
// range and no error, meaning the full content was requested.
func Parse(s string) (*Range, error) {
	if s == "" {
		return nil, nil
	}
	if !strings.HasPrefix(s, unit) {
		return nil, ErrInvalidRange
	}
	value := s[len(unit):]
	i := strings.IndexByte(value, '-')
	if i < 0 {
		return nil, ErrInvalidRange
	}
	startStr, endStr := value[:i], value[i+1:]
	if startStr == "" && endStr == "" {
		return nil, ErrInvalidRange
	}

	var r Range
	if startStr != "" {
		start, err := parseDigits(startStr)
		if err != nil {
			return nil, err
		}
		r.Start, r.HasStart = start, true
	}
	if endStr != "" {
		end, err := parseDigits(endStr)
		if err != nil {
			return nil, err
		}
		if !r.HasStart {
			r.Suffix = end
			return &r, nil
		}
		if r.Start > end {
			return nil, ErrInvalidRange
		}
		// end == MaxInt64 overflowed or was absurdly large; it clamps to the size either way.
		if end < math.MaxInt64 {
			r.End, r.HasEnd = end+1, true
		}
	}
	return &r, nil
}

// parseDigits accepts a non-empty run of ASCII digits. Values beyond
// int64 saturate at math.MaxInt64.
func parseDigits(s string) (int64, error) {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, ErrInvalidRange
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		var numErr *strconv.NumError
		if errors.As(err, &numErr) && numErr.Err == strconv.ErrRange {
			return math.MaxInt64, nil
		}
		return 0, ErrInvalidRange
	}
	return n, nil
}

// Resolve computes the half-open window [start, end) of a resource of
// the given size. It returns ErrUnsatisfiable when the range selects no bytes.
func (r Range) Resolve(size int64) (start, end int64, err error) {
	if r.IsSuffix() {
		if r.Suffix <= 0 || size <= 0 {
			return 0, 0, ErrUnsatisfiable
		}
		if r.Suffix >= size {
			return 0, size, nil
		}
		return size - r.Suffix, size, nil
	}

	if r.HasStart {
		start = r.Start
	}
	if start >= size {
		return 0, 0, ErrUnsatisfiable
	}
	end = size
	if r.HasEnd && r.End < size {
		end = r.End
	}
	return start, end, nil
}
