// Command censormon observes an execution client's mempool and canonical
// chain, detects transactions that were economically includable in a block
// but were omitted by its producer, and serves the findings over a
// read-only REST API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-censorship-monitor/ethereum-censorship-monitor/config"
	"github.com/ethereum-censorship-monitor/ethereum-censorship-monitor/core/analyzer"
	"github.com/ethereum-censorship-monitor/ethereum-censorship-monitor/core/engine"
	"github.com/ethereum-censorship-monitor/ethereum-censorship-monitor/internal/pebblestore"
	"github.com/ethereum-censorship-monitor/ethereum-censorship-monitor/internal/restapi"
	"github.com/ethereum-censorship-monitor/ethereum-censorship-monitor/internal/rpcsource"
)

var (
	configFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "Path to a TOML configuration file; unset fields keep their defaults",
	}
	httpRPCFlag = &cli.StringFlag{
		Name:  "http-rpc",
		Usage: "HTTP JSON-RPC endpoint of the execution client",
	}
	wsRPCFlag = &cli.StringFlag{
		Name:  "ws-rpc",
		Usage: "WebSocket JSON-RPC endpoint of the execution client",
	}
	datadirFlag = &cli.StringFlag{
		Name:  "datadir",
		Usage: "Directory for the Pebble persistence store",
	}
	listenAddrFlag = &cli.StringFlag{
		Name:  "listen-addr",
		Usage: "Address the read-only REST API listens on",
	}
	verbosityFlag = &cli.StringFlag{
		Name:  "verbosity",
		Usage: "Log level: trace, debug, info, warn, error, crit",
	}
)

func main() {
	app := cli.NewApp()
	app.Name = "censormon"
	app.Usage = "detect censored transactions on an Ethereum-like chain"
	app.Flags = []cli.Flag{configFlag, httpRPCFlag, wsRPCFlag, datadirFlag, listenAddrFlag, verbosityFlag}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg := config.Default()
	if path := c.String(configFlag.Name); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	applyFlagOverrides(c, &cfg)

	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, levelFromString(cfg.LogLevel), true)))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := pebblestore.Open(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("censormon: open store: %w", err)
	}
	defer store.Close()

	now := func() uint64 { return uint64(time.Now().Unix()) }
	source, err := rpcsource.Dial(ctx, cfg.WSRPCURL, cfg.HTTPRPCURL, time.Duration(cfg.MempoolFetchIntervalSec)*time.Second, now)
	if err != nil {
		return fmt.Errorf("censormon: dial execution client: %w", err)
	}
	defer source.Close()

	az := analyzer.New()
	az.NonceTimeout = time.Duration(cfg.NonceRPCTimeoutMS) * time.Millisecond
	az.BaseFeeHeadroomNum = cfg.BaseFeeHeadroomNum
	az.BaseFeeHeadroomDen = cfg.BaseFeeHeadroomDen

	eng := engine.New(source, store, az, nil)

	server := restapi.NewServer(cfg.ListenAddr, store)
	serverErr := make(chan error, 1)
	go func() {
		log.Info("censormon: REST API listening", "addr", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	engineErr := make(chan error, 1)
	go func() { engineErr <- eng.Run(ctx) }()

	engineStopped := false
	select {
	case <-ctx.Done():
		log.Info("censormon: shutting down")
	case err := <-engineErr:
		engineStopped = true
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Crit("censormon: engine stopped unexpectedly", "err", err)
		}
		cancel()
	case err := <-serverErr:
		if err != nil {
			log.Error("censormon: REST API stopped unexpectedly", "err", err)
		}
		cancel()
	}

	// Wait for the engine loop to return so the Sink writes of a block in
	// progress finish before the deferred store.Close runs.
	if !engineStopped {
		<-engineErr
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("censormon: REST API shutdown did not complete cleanly", "err", err)
	}

	return nil
}

// levelFromString resolves a config/flag log-level name to the slog.Level
// NewTerminalHandlerWithLevel expects; go-ethereum's log package defines
// LevelTrace..LevelCrit as slog.Level values directly.
func levelFromString(s string) slog.Level {
	switch s {
	case "trace":
		return log.LevelTrace
	case "debug":
		return log.LevelDebug
	case "warn":
		return log.LevelWarn
	case "error":
		return log.LevelError
	case "crit":
		return log.LevelCrit
	default:
		return log.LevelInfo
	}
}

func applyFlagOverrides(c *cli.Context, cfg *config.Config) {
	if v := c.String(httpRPCFlag.Name); v != "" {
		cfg.HTTPRPCURL = v
	}
	if v := c.String(wsRPCFlag.Name); v != "" {
		cfg.WSRPCURL = v
	}
	if v := c.String(datadirFlag.Name); v != "" {
		cfg.DataDir = v
	}
	if v := c.String(listenAddrFlag.Name); v != "" {
		cfg.ListenAddr = v
	}
	if v := c.String(verbosityFlag.Name); v != "" {
		cfg.LogLevel = v
	}
}
