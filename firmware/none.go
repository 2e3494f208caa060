//go:build !cywfirmware

package firmware

var (
	Firmware string
	CLM      string
)
