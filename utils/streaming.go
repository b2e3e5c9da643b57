package utils

import (
	"errors"
	"io"
)

// LimitedReader wraps r and returns an error once more than max bytes have
// been read. A max of 0 disables the limit.
type LimitedReader struct {
	R   io.Reader
	Max int64
	n   int64
}

// ErrLimitExceeded is returned by LimitedReader when the cap is crossed.
var ErrLimitExceeded = errors.New("read limit exceeded")

func (l *LimitedReader) Read(p []byte) (int, error) {
	if l.Max > 0 && l.n > l.Max {
		return 0, ErrLimitExceeded
	}
	n, err := l.R.Read(p)
	l.n += int64(n)
	if l.Max > 0 && l.n > l.Max {
		return n, ErrLimitExceeded
	}
	return n, err
}
