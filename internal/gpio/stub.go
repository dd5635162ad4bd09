//go:build !linux

package gpio

import "errors"

// RealChip is not available on non-Linux platforms.
type RealChip struct{}

// OpenChip returns ErrDriverUnavailable on non-Linux platforms.
func OpenChip(name string) (*RealChip, error) {
	return nil, errors.Join(ErrDriverUnavailable, errors.New("gpio: requires Linux"))
}

// RequestLine is not implemented on non-Linux platforms.
func (c *RealChip) RequestLine(pin int, cfg LineConfig) (Line, error) {
	return nil, ErrDriverUnavailable
}

// Close is not implemented on non-Linux platforms.
func (c *RealChip) Close() error {
	return nil
}
