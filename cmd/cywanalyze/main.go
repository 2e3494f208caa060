package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/inhies/go-bytesize"
	"github.com/soypat/saleae"
	"github.com/soypat/saleae/analyzers"
)

type options struct {
	OmitRead     bool
	OmitWrite    bool
	OmitReadData bool
	// Collapse merges consecutive identical transactions into one line.
	Collapse bool
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "cywanalyze - Decode Saleae digital captures of a cywctl bring-up over gSPI.\n\tUsage:\n")
		flag.PrintDefaults()
	}
	sdio := flag.String("f-sd", "digital_1.bin", "Input filename: shared gSPI data line.")
	enable := flag.String("f-cs", "digital_0.bin", "Input filename: chip select.")
	clk := flag.String("f-clk", "digital_2.bin", "Input filename: clock.")
	output := flag.String("o-cmd", "commands.txt", "Output filename of decoded transactions.")
	var opts options
	flag.BoolVar(&opts.OmitRead, "omit-read", false, "Omit read transactions.")
	flag.BoolVar(&opts.OmitWrite, "omit-write", false, "Omit write transactions.")
	flag.BoolVar(&opts.OmitReadData, "omit-read-data", false, "Omit read data.")
	flag.BoolVar(&opts.Collapse, "collapse", true, "Merge consecutive identical transactions.")
	flag.Parse()
	if opts.OmitRead && opts.OmitWrite {
		logger.Error("cannot omit both read and write transactions")
		os.Exit(1)
	}
	start := time.Now()
	txs, err := scanFiles(*sdio, *clk, *enable)
	if err != nil {
		logger.Error("scan", slog.String("err", err.Error()))
		os.Exit(1)
	}
	fp, err := os.Create(*output)
	if err != nil {
		logger.Error("create", slog.String("err", err.Error()))
		os.Exit(1)
	}
	defer fp.Close()
	sum, err := run(fp, txs, opts)
	if err != nil {
		logger.Error("run", slog.String("err", err.Error()))
		os.Exit(1)
	}
	logger.Info("finished",
		slog.Duration("elapsed", time.Since(start)),
		slog.Int("transactions", sum.Transactions),
		slog.Int("ioctls", sum.Ioctls),
		slog.String("written", bytesize.New(float64(sum.BytesWritten)).String()),
		slog.String("read", bytesize.New(float64(sum.BytesRead)).String()),
	)
}

func scanFiles(fsdio, fclk, fenable string) ([]analyzers.TxSPI, error) {
	sdio, err := opendigital(fsdio)
	if err != nil {
		return nil, err
	}
	clk, err := opendigital(fclk)
	if err != nil {
		return nil, err
	}
	enable, err := opendigital(fenable)
	if err != nil {
		return nil, err
	}
	spi := analyzers.SPI{}
	txs, _ := spi.Scan(clk, enable, sdio, sdio)
	return txs, nil
}

func opendigital(filename string) (*saleae.DigitalFile, error) {
	fp, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer fp.Close()
	return saleae.ReadDigitalFile(fp)
}

type summary struct {
	Transactions int
	Ioctls       int
	BytesWritten int
	BytesRead    int
}

// run decodes the raw chip select windows in txs and writes one line per
// transaction to w.
func run(w io.Writer, txs []analyzers.TxSPI, opts options) (sum summary, err error) {
	raw := make([][]byte, len(txs))
	starts := make([]float64, len(txs))
	for i := range txs {
		raw[i] = txs[i].SDO
		starts[i] = txs[i].StartTime()
	}
	return decodeAll(w, raw, starts, opts)
}

func decodeAll(w io.Writer, raw [][]byte, starts []float64, opts options) (sum summary, err error) {
	var dec decoder
	for i := 0; i < len(raw); i++ {
		tx := dec.decode(raw[i])
		count := 1
		for opts.Collapse && i+1 < len(raw) && bytes.Equal(raw[i], raw[i+1]) && !tx.modeChange {
			next := dec.decode(raw[i+1])
			if next.Note != tx.Note {
				break
			}
			count++
			i++
		}
		sum.Transactions += count
		if tx.Ioctl {
			sum.Ioctls += count
		}
		if tx.Cmd.Write {
			sum.BytesWritten += count * len(tx.Data)
		} else {
			sum.BytesRead += count * len(tx.Data)
		}
		if (opts.OmitRead && !tx.Cmd.Write) || (opts.OmitWrite && tx.Cmd.Write) {
			continue
		}
		data := tx.Data
		if opts.OmitReadData && !tx.Cmd.Write {
			data = nil
		}
		var start float64
		if i < len(starts) {
			start = starts[i]
		}
		_, err = fmt.Fprintf(w, "t=%.6f\tx%-3d %s data=%#x", start, count, tx.Cmd.String(), data)
		if err == nil && tx.Note != "" {
			_, err = fmt.Fprintf(w, " ; %s", tx.Note)
		}
		if err == nil {
			_, err = fmt.Fprintln(w)
		}
		if err != nil {
			return sum, err
		}
	}
	return sum, nil
}
