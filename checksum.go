package cywctl

import "github.com/sigurn/crc16"

var crcTable = crc16.MakeTable(crc16.CRC16_CCITT_FALSE)

// Checksum returns the CRC-16/CCITT-FALSE of b. Bootstrap reports the same
// value for the firmware it uploads.
func Checksum(b []byte) uint16 {
	return crc16.Checksum(b, crcTable)
}

// imageCRC accumulates a checksum over an image streamed in chunks.
type imageCRC struct {
	crc uint16
}

func newImageCRC() imageCRC { return imageCRC{crc: crc16.Init(crcTable)} }

func (c *imageCRC) update(b []byte) { c.crc = crc16.Update(c.crc, b, crcTable) }

func (c *imageCRC) sum() uint16 { return crc16.Complete(c.crc, crcTable) }
