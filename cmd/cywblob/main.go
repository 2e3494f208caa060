package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/inhies/go-bytesize"
	"github.com/soypat/cywctl"
	"github.com/soypat/cywctl/internal/blob"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "cywblob - Convert and inspect CYW43439 firmware and CLM images.\n\tUsage:\n\tcywblob -i 43439A0.hex -o 43439A0.bin\n")
		flag.PrintDefaults()
	}
	input := flag.String("i", "", "Input image, Intel HEX (.hex) or raw binary.")
	output := flag.String("o", "", "Output raw binary. Empty only reports.")
	chunk := flag.Int("chunk", 64, "Bootstrap chunk size, used to report chunk count.")
	flag.Parse()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if *input == "" || *chunk <= 0 {
		flag.Usage()
		os.Exit(1)
	}
	img, err := blob.Load(*input)
	if err != nil {
		logger.Error("load", slog.String("err", err.Error()))
		os.Exit(1)
	}
	if *output != "" {
		err = os.WriteFile(*output, []byte(img), 0o644)
		if err != nil {
			logger.Error("write", slog.String("err", err.Error()))
			os.Exit(1)
		}
	}
	fmt.Println(report(img, *chunk))
}

func report(img string, chunk int) string {
	return fmt.Sprintf("size=%s (%d bytes) chunks=%d crc16=%#04x",
		bytesize.New(float64(len(img))).String(),
		len(img),
		(len(img)+chunk-1)/chunk,
		cywctl.Checksum([]byte(img)),
	)
}
