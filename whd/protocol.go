package whd

import (
	"encoding/binary"
	"errors"
)

var (
	errShortSDPCM     = errors.New("packet shorter than sdpcm hdr")
	errSizeComplement = errors.New("sdpcm hdr size complement mismatch")
	errSizeMismatch   = errors.New("sdpcm hdr size larger than packet")
	errBadHeaderLen   = errors.New("sdpcm hdr length out of range")
	errShortCDC       = errors.New("packet shorter than cdc hdr")
	errCDCLength      = errors.New("cdc length exceeds payload")
)

type SDPCMHeaderType uint8

const (
	SDPCMControl SDPCMHeaderType = CONTROL_HEADER
	SDPCMEvent   SDPCMHeaderType = ASYNCEVENT_HEADER
	SDPCMData    SDPCMHeaderType = DATA_HEADER
)

func (t SDPCMHeaderType) String() string {
	switch t {
	case SDPCMControl:
		return "control"
	case SDPCMEvent:
		return "event"
	case SDPCMData:
		return "data"
	}
	return "unknown"
}

type SDPCMHeader struct {
	Size            uint16
	SizeCom         uint16 // complement of size, so ^Size.
	Seq             uint8  // Rx/Tx sequence number
	ChanAndFlags    uint8  // 4 MSB flags, 4 LSB channel.
	NextLength      uint8  // length of next data frame, reserved for Tx
	HeaderLength    uint8  // data offset
	WirelessFlowCtl uint8  // flow control bits, reserved for Tx
	BusDataCredit   uint8  // maximum Sequence number allowed by firmware for Tx
	Reserved        [2]uint8
}

func (s SDPCMHeader) Type() SDPCMHeaderType { return SDPCMHeaderType(s.ChanAndFlags & 0xf) }

func DecodeSDPCMHeader(b []byte) (hdr SDPCMHeader) {
	_ = b[SDPCM_HEADER_LEN-1]
	hdr.Size = binary.LittleEndian.Uint16(b)
	hdr.SizeCom = binary.LittleEndian.Uint16(b[2:])
	hdr.Seq = b[4]
	hdr.ChanAndFlags = b[5]
	hdr.NextLength = b[6]
	hdr.HeaderLength = b[7]
	hdr.WirelessFlowCtl = b[8]
	hdr.BusDataCredit = b[9]
	copy(hdr.Reserved[:], b[10:])
	return hdr
}

// Put puts all 12 bytes of the header in dst. Panics if dst is shorter than 12 bytes in length.
func (s *SDPCMHeader) Put(dst []byte) {
	_ = dst[SDPCM_HEADER_LEN-1]
	binary.LittleEndian.PutUint16(dst, s.Size)
	binary.LittleEndian.PutUint16(dst[2:], s.SizeCom)
	dst[4] = s.Seq
	dst[5] = s.ChanAndFlags
	dst[6] = s.NextLength
	dst[7] = s.HeaderLength
	dst[8] = s.WirelessFlowCtl
	dst[9] = s.BusDataCredit
	copy(dst[10:12], s.Reserved[:])
}

// Parse validates the header against the packet it was decoded from and
// returns the bytes following the header.
func (s SDPCMHeader) Parse(packet []byte) (payload []byte, err error) {
	switch {
	case len(packet) < SDPCM_HEADER_LEN:
		return nil, errShortSDPCM
	case s.Size != ^s.SizeCom:
		return nil, errSizeComplement
	case int(s.Size) > len(packet):
		return nil, errSizeMismatch
	case s.HeaderLength < SDPCM_HEADER_LEN || uint16(s.HeaderLength) > s.Size:
		return nil, errBadHeaderLen
	}
	return packet[s.HeaderLength:s.Size], nil
}

type CDCHeader struct {
	Cmd    SDPCMCommand
	Length uint32
	Flags  uint16 // kind | interface<<12
	ID     uint16
	Status uint32
}

func (cdc CDCHeader) Kind() uint16 { return cdc.Flags & 0xfff }

func (cdc CDCHeader) Interface() IoctlInterface {
	return IoctlInterface(cdc.Flags >> CDCF_IOC_IF_SHIFT)
}

func DecodeCDCHeader(b []byte) (hdr CDCHeader) {
	_ = b[CDC_HEADER_LEN-1]
	hdr.Cmd = SDPCMCommand(binary.LittleEndian.Uint32(b))
	hdr.Length = binary.LittleEndian.Uint32(b[4:])
	hdr.Flags = binary.LittleEndian.Uint16(b[8:])
	hdr.ID = binary.LittleEndian.Uint16(b[10:])
	hdr.Status = binary.LittleEndian.Uint32(b[12:])
	return hdr
}

func (cdc *CDCHeader) Put(b []byte) {
	_ = b[CDC_HEADER_LEN-1]
	binary.LittleEndian.PutUint32(b, uint32(cdc.Cmd))
	binary.LittleEndian.PutUint32(b[4:], cdc.Length)
	binary.LittleEndian.PutUint16(b[8:], cdc.Flags)
	binary.LittleEndian.PutUint16(b[10:], cdc.ID)
	binary.LittleEndian.PutUint32(b[12:], cdc.Status)
}

// Parse returns the ioctl data that follows the CDC header.
func (cdc CDCHeader) Parse(payload []byte) (data []byte, err error) {
	if len(payload) < CDC_HEADER_LEN {
		return nil, errShortCDC
	}
	data = payload[CDC_HEADER_LEN:]
	if uint32(len(data)) < cdc.Length {
		return nil, errCDCLength
	}
	return data[:cdc.Length], nil
}

// DownloadHeader prefixes every chunk of a "clmload" iovar.
type DownloadHeader struct {
	Flags uint16
	Type  uint16
	Len   uint32
	CRC   uint32
}

func (dh *DownloadHeader) Put(b []byte) {
	_ = b[DOWNLOAD_HEADER_LEN-1]
	binary.LittleEndian.PutUint16(b, dh.Flags)
	binary.LittleEndian.PutUint16(b[2:], dh.Type)
	binary.LittleEndian.PutUint32(b[4:], dh.Len)
	binary.LittleEndian.PutUint32(b[8:], dh.CRC)
}

func DecodeDownloadHeader(b []byte) (dh DownloadHeader) {
	_ = b[DOWNLOAD_HEADER_LEN-1]
	dh.Flags = binary.LittleEndian.Uint16(b)
	dh.Type = binary.LittleEndian.Uint16(b[2:])
	dh.Len = binary.LittleEndian.Uint32(b[4:])
	dh.CRC = binary.LittleEndian.Uint32(b[8:])
	return dh
}

// SplitIovar splits a "name\x00value" iovar buffer.
func SplitIovar(b []byte) (name string, value []byte, ok bool) {
	for i, c := range b {
		if c == 0 {
			return string(b[:i]), b[i+1:], true
		}
	}
	return "", nil, false
}
