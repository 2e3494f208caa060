package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/soypat/cywctl/whd"
)

func main() {
	swapped := flag.Bool("swapped", false, "Words were captured in 16 bit word mode, before bus setup.")
	encode := flag.Bool("encode", false, "Encode a command from fields: fn addr size [w] [inc].")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "cyw43cmd - decode or encode gSPI command words.\n\tUsage:\n\tcyw43cmd [-swapped] 0x4000a004 ...\n\tcyw43cmd -encode backplane 0x1000e 1 w inc\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(1)
	}
	if *encode {
		cmd, err := encodeArgs(flag.Args())
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		w := cmd.Word()
		fmt.Printf("%#08x  swapped=%#08x  %s\n", w, swap16(w), cmd.String())
		return
	}
	for _, arg := range flag.Args() {
		w, err := parseWord(arg)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		if *swapped {
			w = swap16(w)
		}
		fmt.Printf("%#08x  %s\n", w, whd.DecodeCmd(w).String())
	}
}

func parseWord(s string) (uint32, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 32)
	return uint32(v), err
}

func encodeArgs(args []string) (cmd whd.Cmd, err error) {
	if len(args) < 3 {
		return cmd, fmt.Errorf("need fn, addr and size, got %q", args)
	}
	switch args[0] {
	case "bus":
		cmd.Fn = whd.FuncBus
	case "backplane", "bp":
		cmd.Fn = whd.FuncBackplane
	case "wlan", "f2":
		cmd.Fn = whd.FuncWLAN
	default:
		return cmd, fmt.Errorf("unknown function %q", args[0])
	}
	addr, err := strconv.ParseUint(args[1], 0, 17)
	if err != nil {
		return cmd, err
	}
	size, err := strconv.ParseUint(args[2], 0, 11)
	if err != nil {
		return cmd, err
	}
	cmd.Addr = uint32(addr)
	cmd.Size = uint32(size)
	for _, flag := range args[3:] {
		switch flag {
		case "w", "write":
			cmd.Write = true
		case "inc":
			cmd.AutoInc = true
		default:
			return cmd, fmt.Errorf("unknown modifier %q", flag)
		}
	}
	return cmd, nil
}

func swap16(v uint32) uint32 { return v<<16 | v>>16 }
