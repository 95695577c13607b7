package encoding

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrMalformed is wrapped by every DecodeVLQ failure.
var ErrMalformed = errors.New("encoding: malformed vlq")

const (
	vlqAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"
	vlqShift    = 5
	vlqCont     = 1 << vlqShift
	vlqMask     = vlqCont - 1

	// PathSeparator joins the integer runs of consecutive paths.
	PathSeparator = ';'
)

var vlqValue [256]int8

func init() {
	for i := range vlqValue {
		vlqValue[i] = -1
	}
	for i := 0; i < len(vlqAlphabet); i++ {
		vlqValue[vlqAlphabet[i]] = int8(i)
	}
}

// EncodeVLQ writes each integer as a base64 VLQ (sign in the low bit, five
// data bits per character) and joins the runs with PathSeparator.
func EncodeVLQ(runs [][]int64) string {
	var b strings.Builder
	for i, run := range runs {
		if i > 0 {
			b.WriteByte(PathSeparator)
		}
		for _, v := range run {
			appendVLQ(&b, v)
		}
	}
	return b.String()
}

func appendVLQ(b *strings.Builder, v int64) {
	u := uint64(v) << 1
	if v < 0 {
		u = (uint64(-(v+1))+1)<<1 | 1
	}
	for {
		digit := u & vlqMask
		u >>= vlqShift
		if u != 0 {
			digit |= vlqCont
		}
		b.WriteByte(vlqAlphabet[digit])
		if u == 0 {
			return
		}
	}
}

// DecodeVLQ is the inverse of EncodeVLQ. The empty string decodes to no runs.
func DecodeVLQ(s string) ([][]int64, error) {
	if s == "" {
		return nil, nil
	}
	var out [][]int64
	run := []int64{}
	var u uint64
	shift := uint(0)
	pending := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == PathSeparator {
			if pending {
				return nil, fmt.Errorf("%w: truncated value at %d", ErrMalformed, i)
			}
			out = append(out, run)
			run = []int64{}
			continue
		}
		d := vlqValue[c]
		if d < 0 {
			return nil, fmt.Errorf("%w: bad character %q at %d", ErrMalformed, c, i)
		}
		if shift >= 64 {
			return nil, fmt.Errorf("%w: value too long at %d", ErrMalformed, i)
		}
		if shift+vlqShift > 64 && uint64(d&vlqMask)>>(64-shift) != 0 {
			return nil, fmt.Errorf("%w: value overflows 64 bits at %d", ErrMalformed, i)
		}
		u |= uint64(d&vlqMask) << shift
		if d&vlqCont != 0 {
			shift += vlqShift
			pending = true
			continue
		}
		run = append(run, decodeSigned(u))
		u, shift, pending = 0, 0, false
	}
	if pending {
		return nil, fmt.Errorf("%w: truncated value at end", ErrMalformed)
	}
	out = append(out, run)
	return out, nil
}

// Negative zero stands for math.MinInt64, whose magnitude needs one bit
// more than the encoding has room for.
func decodeSigned(u uint64) int64 {
	if u == 1 {
		return math.MinInt64
	}
	if u&1 == 0 {
		return int64(u >> 1)
	}
	return -int64(u>>1-1) - 1
}
