package main

import (
	"context"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"chassis-can/telemetry"
	"chassis-can/utils"
)

func main() {
	var (
		cfgPath  = flag.String("config", "", "YAML config file")
		iface    = flag.String("iface", "", "SocketCAN interface name, or loopback")
		mapPath  = flag.String("map", "", "CSV signal map, compiled-in devkit protocol when empty")
		scenPath = flag.String("scenario", "", "Scenario JSON file")
		logLevel = flag.String("log", "", "trace|debug|info|warn|error|critical")
		logFile  = flag.String("logfile", "", "Also log to this file")
	)
	flag.Parse()

	cfg := NewDefaultConfig()
	if *cfgPath != "" {
		var err error
		cfg, err = LoadConfig(*cfgPath)
		if err != nil {
			_, _ = os.Stderr.WriteString("ERROR: " + err.Error() + "\n")
			os.Exit(1)
		}
	}
	applyFlags(cfg, *iface, *mapPath, *scenPath, *logLevel, *logFile)

	level := utils.ParseLevel(cfg.LogLevel)
	log := utils.NewLogger(level)
	var logCloser io.Closer
	if cfg.LogFile != "" {
		fileLog, closer, err := utils.NewFileLogger(cfg.LogFile, level, true)
		if err != nil {
			_, _ = os.Stderr.WriteString("ERROR: cannot open " + cfg.LogFile + ": " + err.Error() + "\n")
			os.Exit(1)
		}
		log, logCloser = fileLog, closer
	}
	slog.SetDefault(log)

	code := run(cfg, log)
	if logCloser != nil {
		_ = logCloser.Close()
	}
	os.Exit(code)
}

func applyFlags(cfg *Config, iface, mapPath, scenPath, logLevel, logFile string) {
	if iface != "" {
		cfg.Interface = iface
	}
	if mapPath != "" {
		cfg.SignalMap = mapPath
	}
	if scenPath != "" {
		cfg.Scenario = scenPath
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if logFile != "" {
		cfg.LogFile = logFile
	}
}

func run(cfg *Config, log *slog.Logger) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cfg.Validate(); err != nil {
		log.Log(ctx, utils.LevelCritical, "invalid config", utils.Err(err))
		return 1
	}

	shutdown, err := telemetry.Init(ctx, "chassisd", cfg.Telemetry)
	if err != nil {
		log.Log(ctx, utils.LevelCritical, "telemetry setup failed", utils.Err(err))
		return 1
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			log.Warn("telemetry shutdown", utils.Err(err))
		}
	}()

	runner, err := NewRunner(ctx, cfg, log)
	if err != nil {
		log.Log(ctx, utils.LevelCritical, "startup failed", utils.Err(err))
		return 1
	}
	defer func() {
		if err := runner.Close(); err != nil {
			log.Warn("bus close", utils.Err(err))
		}
	}()

	log.Info("chassisd running", "iface", cfg.Interface, "signal_map", cfg.SignalMap, "scenario", cfg.Scenario)

	if err := runner.Run(ctx); err != nil {
		log.Log(ctx, utils.LevelCritical, "run failed", utils.Err(err))
		return 1
	}
	return 0
}
