package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "cywsim - Run CYW43439 bring-up and control commands against a simulated board.\n\tUsage:\n\tcywsim [-c sim.yaml] [-e 'gpio set 0 on'] [-v]\n")
		flag.PrintDefaults()
	}
	cfgPath := flag.String("c", "", "YAML simulation config. Empty uses defaults.")
	exec := flag.String("e", "", "Script to run instead of the config's. Commands separated by ';' or newlines.")
	verbose := flag.Bool("v", false, "Log driver activity.")
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		logger.Error("config", slog.String("err", err.Error()))
		os.Exit(1)
	}
	if *exec != "" {
		cfg.Script = strings.ReplaceAll(*exec, ";", "\n")
	}
	err = run(os.Stdout, cfg, logger)
	if err != nil {
		logger.Error("cywsim", slog.String("err", err.Error()))
		os.Exit(1)
	}
}

func run(w io.Writer, cfg config, logger *slog.Logger) error {
	sh, err := newShell(w, cfg, logger)
	if err != nil {
		return err
	}
	defer sh.close()
	return sh.runScript(cfg.Script)
}
