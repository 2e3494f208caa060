//go:build cywfirmware

package firmware

import _ "embed"

var (
	// Firmware is the WLAN firmware image.
	//go:embed 43439A0.bin
	Firmware string
	// CLM is the country locale matrix blob.
	//go:embed 43439A0_clm.bin
	CLM string
)
