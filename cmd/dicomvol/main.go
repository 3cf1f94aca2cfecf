package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"dicomvol/internal/logging"
	"dicomvol/pkg/config"
	"dicomvol/pkg/dicomio"
	"dicomvol/pkg/incoming"
	"dicomvol/pkg/reconstruction"
	"dicomvol/pkg/server"
	"dicomvol/pkg/studycache"
	"dicomvol/pkg/visualization"
)

const usage = `Usage:
  dicomvol [flags] <dataRoot> <outputDir>      reconstruct the series in <dataRoot>/input
  dicomvol [flags] cache [-out file] <root>    build the study cache of a DICOM tree
  dicomvol [flags] serve [-addr addr]          accept zipped jobs over HTTP
  dicomvol [flags] incoming <callingIP> <callingAE> <calledAE> <path>
                                               log an incoming transfer
  dicomvol config -init <file>                 write a default configuration file

Flags:
`

func main() {
	// Parse command line arguments
	configPath := flag.String("config", "", "Configuration file (.yaml or .toml)")
	preview := flag.Bool("preview", false, "Write orthogonal mid-plane previews next to the output")
	extractSlices := flag.Bool("extract-slices", false, "Extract and save every slice of the volume along all axes")
	slicesDir := flag.String("slices-dir", "reconstructed_slices", "Directory to save extracted slices")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error")
	logFormat := flag.String("log-format", "", "Log format: text or json")
	logFile := flag.String("log-file", "", "Write logs to a rotating file instead of stderr")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 && args[0] == "config" {
		os.Exit(runConfig(args[1:]))
	}

	cfg := config.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadConfig(*configPath); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	if *preview {
		cfg.Output.Preview = true
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Logging.Format = *logFormat
	}
	if *logFile != "" {
		cfg.Logging.File = *logFile
	}

	logger, closer, err := logging.New(logging.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	var code int
	switch {
	case len(args) > 0 && args[0] == "cache":
		code = runCache(cfg, logger, args[1:])
	case len(args) > 0 && args[0] == "serve":
		code = runServe(cfg, logger, args[1:])
	case len(args) > 0 && args[0] == "incoming":
		code = runIncoming(cfg, logger, args[1:])
	case len(args) == 2:
		code = runProcess(cfg, logger, args[0], args[1], *extractSlices, *slicesDir)
	default:
		flag.Usage()
		code = 2
	}
	closer.Close()
	os.Exit(code)
}

func runProcess(cfg *config.Config, logger *slog.Logger, dataRoot, outputDir string, extract bool, slicesDir string) int {
	params := reconstruction.ParamsFromConfig(cfg, dataRoot, outputDir)

	startTime := time.Now()
	res, err := reconstruction.NewReconstructor(params, logger).Process()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	processingTime := time.Since(startTime)

	shape := res.Volume.Shape()
	fmt.Printf("Reconstruction completed in %.2f seconds\n", processingTime.Seconds())
	fmt.Printf("Slices read: %d, excluded: %d\n", res.Read, res.Excluded)
	fmt.Printf("Volume shape: (%d, %d, %d)\n", shape[0], shape[1], shape[2])
	fmt.Printf("Aspects: axial=%.4f sagittal=%.4f coronal=%.4f\n",
		res.Volume.Aspects.Axial, res.Volume.Aspects.Sagittal, res.Volume.Aspects.Coronal)
	fmt.Printf("Output saved to: %s\n", res.OutputPath)

	if extract {
		viewer := visualization.NewViewer(res.Volume)
		for _, plane := range []string{visualization.Axial, visualization.Sagittal, visualization.Coronal} {
			dir := filepath.Join(slicesDir, plane)
			if err := viewer.SaveSliceSequence(plane, dir); err != nil {
				logger.Error("failed to extract slices", "plane", plane, "error", err)
				return 1
			}
		}
		fmt.Printf("Slices saved to: %s\n", slicesDir)
	}
	return 0
}

func runCache(cfg *config.Config, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("cache", flag.ExitOnError)
	out := fs.String("out", cfg.Cache.File, "Cache file to write")
	workers := fs.Int("workers", cfg.Processing.NumCores, "Number of files parsed in parallel")
	fs.Parse(args)
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "cache: expected exactly one root directory")
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	entries, err := studycache.NewBuilder(*workers, dicomio.Identify, logger).Build(ctx, fs.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if err := studycache.Write(*out, entries); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Printf("Cached %d series to %s\n", len(entries), *out)
	return 0
}

func runServe(cfg *config.Config, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", cfg.Server.Addr, "Listen address")
	fs.Parse(args)
	cfg.Server.Addr = *addr

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.New(cfg, nil, logger).ListenAndServe(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func runIncoming(cfg *config.Config, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("incoming", flag.ExitOnError)
	logPath := fs.String("log", cfg.Incoming.LogFile, "Incoming transfer log file")
	fs.Parse(args)
	if fs.NArg() != 4 {
		fmt.Fprintln(os.Stderr, "incoming: expected <callingIP> <callingAE> <calledAE> <path>")
		return 2
	}

	l, closer := incoming.NewFileLogger(*logPath, cfg.Incoming.MaxSizeMB, cfg.Incoming.MaxAgeDays, logger)
	defer closer.Close()

	err := l.Record(incoming.Transfer{
		CallingIP:      fs.Arg(0),
		CallingAETitle: fs.Arg(1),
		CalledAETitle:  fs.Arg(2),
		Path:           fs.Arg(3),
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func runConfig(args []string) int {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	initPath := fs.String("init", "", "Write a default configuration to this file")
	fs.Parse(args)
	if *initPath == "" {
		fs.Usage()
		return 2
	}
	if err := config.CreateDefaultConfigFile(*initPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Printf("Default configuration written to %s\n", *initPath)
	return 0
}
