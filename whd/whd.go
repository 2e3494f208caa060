// Package whd holds the CYW43 gSPI register map, backplane addresses and the
// SDPCM/CDC framing used to talk to the co-processor firmware.
package whd

const (
	SDPCM_HEADER_LEN    = 12
	CDC_HEADER_LEN      = 16
	DOWNLOAD_HEADER_LEN = 12
	// Largest frame the F2 function accepts in one transaction.
	MAX_PACKET_LEN = 2048
)

// gSPI bus function registers (FuncBus).
const (
	SPI_BUS_CONTROL               = 0x0000
	SPI_RESPONSE_DELAY            = 0x0001
	SPI_STATUS_ENABLE             = 0x0002
	SPI_RESET_BP                  = 0x0003
	SPI_INTERRUPT_REGISTER        = 0x0004 // 16 bits.
	SPI_INTERRUPT_ENABLE_REGISTER = 0x0006 // 16 bits.
	SPI_STATUS_REGISTER           = 0x0008 // 32 bits.
	SPI_READ_TEST_REGISTER        = 0x0014 // 32 bits, read only.
	SPI_READ_TEST_RW_REGISTER     = 0x0018 // 32 bits.

	TEST_PATTERN    = 0xFEEDBEAD
	TEST_RW_PATTERN = 0x12345678
)

// SPI_BUS_CONTROL bits.
const (
	WORD_LENGTH_32          = 0x01
	ENDIAN_BIG              = 0x02
	CLOCK_PHASE             = 0x04
	CLOCK_POLARITY          = 0x08
	HIGH_SPEED_MODE         = 0x10
	INTERRUPT_POLARITY_HIGH = 0x20
	WAKE_UP                 = 0x80

	// Bus setup word written once the test pattern reads back correctly.
	// Byte 1 is the response delay, byte 2 enables status reporting.
	SETUP_WORD = WORD_LENGTH_32 | HIGH_SPEED_MODE | INTERRUPT_POLARITY_HIGH | WAKE_UP |
		4<<8 | 0x3<<16
)

// SPI_INTERRUPT_REGISTER bits.
const (
	DATA_UNAVAILABLE        = 0x0001
	F2_F3_FIFO_RD_UNDERFLOW = 0x0002
	F2_F3_FIFO_WR_OVERFLOW  = 0x0004
	COMMAND_ERROR           = 0x0008
	DATA_ERROR              = 0x0010
	F2_PACKET_AVAILABLE     = 0x0020
	F1_OVERFLOW             = 0x0080
)

// SPI_STATUS_REGISTER bits.
const (
	STATUS_DATA_NOT_AVAILABLE = 0x00000001
	STATUS_UNDERFLOW          = 0x00000002
	STATUS_OVERFLOW           = 0x00000004
	STATUS_F2_INTR            = 0x00000008
	STATUS_F2_RX_READY        = 0x00000020
	STATUS_HOST_CMD_DATA_ERR  = 0x00000080
	STATUS_F2_PKT_AVAILABLE   = 0x00000100
	STATUS_F2_PKT_LEN_MASK    = 0x000FFE00
	STATUS_F2_PKT_LEN_SHIFT   = 9
)

// Backplane function registers (FuncBackplane, above the 32KiB window).
const (
	SDIO_FUNCTION2_WATERMARK    = 0x10008
	SDIO_BACKPLANE_ADDRESS_LOW  = 0x1000a
	SDIO_BACKPLANE_ADDRESS_MID  = 0x1000b
	SDIO_BACKPLANE_ADDRESS_HIGH = 0x1000c
	SDIO_CHIP_CLOCK_CSR         = 0x1000e
	SDIO_PULL_UP                = 0x1000f
	SDIO_WAKEUP_CTRL            = 0x1001e
	SDIO_SLEEP_CSR              = 0x1001f
)

const (
	CHIPCOMMON_BASE_ADDRESS  = 0x18000000
	SDIO_BASE_ADDRESS        = 0x18002000
	WLAN_ARMCM3_BASE_ADDRESS = 0x18003000
	SOCSRAM_BASE_ADDRESS     = 0x18004000
	BACKPLANE_ADDR_MASK      = 0x7fff
	BACKPLANE_WINDOW_SIZE    = BACKPLANE_ADDR_MASK + 1
	WRAPPER_REGISTER_OFFSET  = 0x100000

	SBSDIO_SB_ACCESS_2_4B_FLAG = 0x08000

	SOCSRAM_BANKX_INDEX = SOCSRAM_BASE_ADDRESS + 0x10
	SOCSRAM_BANKX_PDA   = SOCSRAM_BASE_ADDRESS + 0x44

	// Backplane writes are capped at 64 bytes per transaction.
	BUS_SPI_MAX_BACKPLANE_TRANSFER_SIZE = 64

	CHIP_RAM_SIZE = 512 * 1024
	CHIP_ID_43439 = 43439
)

// SDIO_CHIP_CLOCK_CSR bits.
const (
	SBSDIO_FORCE_ALP           = 0x01
	SBSDIO_FORCE_HT            = 0x02
	SBSDIO_ALP_AVAIL_REQ       = 0x08
	SBSDIO_HT_AVAIL_REQ        = 0x10
	SBSDIO_FORCE_HW_CLKREQ_OFF = 0x20
	SBSDIO_ALP_AVAIL           = 0x40
	SBSDIO_HT_AVAIL            = 0x80
)

// Core wrapper registers.
const (
	AI_IOCTRL_OFFSET    = 0x408
	SICF_CPUHALT        = 0x0020
	SICF_FGC            = 0x0002
	SICF_CLOCK_EN       = 0x0001
	AI_RESETCTRL_OFFSET = 0x800
	AIRC_RESET          = 1

	SPI_F2_WATERMARK = 32
)

// Core identifies a chip core by its wrapper base.
type Core uint8

const (
	CoreWLAN Core = iota
	CoreSOCRAM
	CoreSDIO
)

// Base returns the core's agent wrapper base address.
func (c Core) Base() uint32 {
	switch c {
	case CoreWLAN:
		return WLAN_ARMCM3_BASE_ADDRESS + WRAPPER_REGISTER_OFFSET
	case CoreSOCRAM:
		return SOCSRAM_BASE_ADDRESS + WRAPPER_REGISTER_OFFSET
	case CoreSDIO:
		return SDIO_BASE_ADDRESS + WRAPPER_REGISTER_OFFSET
	}
	panic("bad core")
}

func (c Core) String() string {
	switch c {
	case CoreWLAN:
		return "wlan"
	case CoreSOCRAM:
		return "socram"
	case CoreSDIO:
		return "sdio"
	}
	return "unknown"
}

type IoctlInterface uint8

const (
	WWD_STA_INTERFACE IoctlInterface = 0
	WWD_AP_INTERFACE  IoctlInterface = 1
)

// SDPCM channels, low nibble of ChanAndFlags.
const (
	CONTROL_HEADER    = 0
	ASYNCEVENT_HEADER = 1
	DATA_HEADER       = 2
	CDCF_IOC_IF_SHIFT = 12
)

const (
	SDPCM_GET = 0
	SDPCM_SET = 2
)

type SDPCMCommand uint32

const (
	WLC_UP      SDPCMCommand = 2
	WLC_DOWN    SDPCMCommand = 3
	WLC_GET_PM  SDPCMCommand = 85
	WLC_SET_PM  SDPCMCommand = 86
	WLC_GET_VAR SDPCMCommand = 262
	WLC_SET_VAR SDPCMCommand = 263
)

func (c SDPCMCommand) String() string {
	switch c {
	case WLC_UP:
		return "up"
	case WLC_DOWN:
		return "down"
	case WLC_GET_PM:
		return "get_pm"
	case WLC_SET_PM:
		return "set_pm"
	case WLC_GET_VAR:
		return "get_var"
	case WLC_SET_VAR:
		return "set_var"
	}
	return "cmd?"
}

// CLM download.
const (
	CLM_CHUNK_LEN = 1024

	DOWNLOAD_FLAG_HANDLER_VER = 0x1000
	DOWNLOAD_FLAG_BEGIN       = 0x0002
	DOWNLOAD_FLAG_END         = 0x0004
	DOWNLOAD_TYPE_CLM         = 2
)

// Number of co-processor GPIOs reachable through gpioout/ccgpioin.
const NUM_GPIO = 3
