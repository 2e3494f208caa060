// Package blob loads firmware, CLM and NVRAM images for the host tools.
package blob

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/marcinbor85/gohex"
)

// MaxSize bounds a flattened image. CYW43439 RAM is 512KiB.
const MaxSize = 512 * 1024

var errNoData = errors.New("blob: hex file has no data records")

// Load reads the image at path. Files ending in .hex are parsed as Intel HEX
// and flattened, anything else is read as is.
func Load(path string) (string, error) {
	if strings.EqualFold(filepath.Ext(path), ".hex") {
		fp, err := os.Open(path)
		if err != nil {
			return "", err
		}
		defer fp.Close()
		data, _, err := FromHex(fp)
		if err != nil {
			return "", fmt.Errorf("%s: %w", path, err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if len(data) > MaxSize {
		return "", fmt.Errorf("%s: image of %d bytes exceeds %d", path, len(data), MaxSize)
	}
	return string(data), nil
}

// FromHex flattens the Intel HEX data in r into a contiguous image starting at
// the lowest address present. Gaps are filled with 0xff.
func FromHex(r io.Reader) (data []byte, base uint32, err error) {
	mem := gohex.NewMemory()
	err = mem.ParseIntelHex(r)
	if err != nil {
		return nil, 0, err
	}
	segs := mem.GetDataSegments()
	if len(segs) == 0 {
		return nil, 0, errNoData
	}
	base = segs[0].Address
	end := base
	for _, seg := range segs {
		base = min(base, seg.Address)
		end = max(end, seg.Address+uint32(len(seg.Data)))
	}
	if end-base > MaxSize {
		return nil, 0, fmt.Errorf("blob: hex spans %d bytes, exceeds %d", end-base, MaxSize)
	}
	data = bytes.Repeat([]byte{0xff}, int(end-base))
	for _, seg := range segs {
		copy(data[seg.Address-base:], seg.Data)
	}
	return data, base, nil
}
