package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/cardwise/rewards/ledger"
	"golang.org/x/exp/slog"
)

func main() {
	configPath := flag.String("config", "", "path to TOML config file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := ledger.LoadConfig(*configPath)
	if err != nil {
		logger.Error("loading config", "err", err)
		os.Exit(1)
	}

	app := ledger.NewApp(logger, cfg)
	if err := app.Start(); err != nil {
		logger.Error("starting app", "err", err)
		os.Exit(1)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	app.Shutdown()
}
