package cywctl

import "tinygo.org/x/drivers"

var _ drivers.SPI = spiConn{}

// SPI returns the bus as a tinygo drivers.SPI so generic drivers can share
// it. Chip select stays under the caller's control.
func (b *Bus) SPI() drivers.SPI { return spiConn{b: b} }

type spiConn struct {
	b *Bus
}

// Tx writes w and reads into r. Either may be nil; if both are given they
// must be of equal length.
func (c spiConn) Tx(w, r []byte) error {
	switch {
	case r == nil:
		return c.b.Write(w)
	case w == nil:
		return c.b.Read(r)
	case len(w) != len(r):
		return errTxLenMismatch
	}
	return c.b.exchange(w, r, len(w), ErrTimeout)
}

// Transfer exchanges a single byte.
func (c spiConn) Transfer(w byte) (byte, error) {
	var buf [2]byte
	buf[0] = w
	err := c.b.exchange(buf[:1], buf[1:2], 1, ErrTimeout)
	return buf[1], err
}
