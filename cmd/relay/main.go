// Copyright 2025 The go-airchainpay-relay Authors
// This file is part of go-airchainpay-relay.
//
// go-airchainpay-relay is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// go-airchainpay-relay is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with go-airchainpay-relay. If not, see <http://www.gnu.org/licenses/>.

// relay is the AirChainPay transaction relay server. It accepts signed EVM
// transactions over HTTP, validates them, and broadcasts them to the
// configured chains through a persistent retrying worker pool.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/airchainpay/relay/api"
	"github.com/airchainpay/relay/blockchain"
	"github.com/airchainpay/relay/config"
	"github.com/airchainpay/relay/monitor"
	"github.com/airchainpay/relay/params"
	"github.com/airchainpay/relay/processor"
	"github.com/airchainpay/relay/resilience"
	"github.com/airchainpay/relay/storage"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/urfave/cli/v2"
)

var (
	portFlag = &cli.IntFlag{
		Name:    "port",
		Usage:   "HTTP port to serve the relay API on",
		Value:   config.DefaultPort,
		EnvVars: []string{"PORT"},
	}
	datadirFlag = &cli.StringFlag{
		Name:    "datadir",
		Usage:   "Directory holding the transaction store",
		EnvVars: []string{"DATA_DIR"},
	}
	envFlag = &cli.StringFlag{
		Name:    "env",
		Usage:   `Runtime environment ("development", "staging" or "production")`,
		EnvVars: []string{"RELAY_ENV"},
	}
	workersFlag = &cli.IntFlag{
		Name:  "workers",
		Usage: "Number of transaction broadcast workers",
		Value: processor.DefaultConfig().Workers,
	}
	queueSizeFlag = &cli.IntFlag{
		Name:  "queue.size",
		Usage: "Maximum number of transactions waiting for a worker",
		Value: processor.DefaultConfig().MaxQueueSize,
	}
	verbosityFlag = &cli.IntFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity: 0=silent, 1=error, 2=warn, 3=info, 4=debug, 5=detail",
		Value: 3,
	}
)

var versionCommand = &cli.Command{
	Name:  "version",
	Usage: "Print version numbers",
	Action: func(ctx *cli.Context) error {
		fmt.Println("AirChainPay Relay")
		fmt.Println("Version:", params.VersionWithMeta)
		fmt.Println("Go Version:", runtime.Version())
		fmt.Println("Operating System:", runtime.GOOS)
		fmt.Println("Architecture:", runtime.GOARCH)
		return nil
	},
}

func main() {
	app := &cli.App{
		Name:    "relay",
		Usage:   "AirChainPay multi-chain transaction relay",
		Version: params.VersionWithMeta,
		Flags: []cli.Flag{
			portFlag,
			datadirFlag,
			envFlag,
			workersFlag,
			queueSizeFlag,
			verbosityFlag,
		},
		Action:   run,
		Commands: []*cli.Command{versionCommand},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	level := log.FromLegacyLevel(ctx.Int(verbosityFlag.Name))
	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, level, false)))

	metrics.Enable()

	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	if ctx.IsSet(portFlag.Name) {
		cfg.Port = ctx.Int(portFlag.Name)
	}
	if ctx.IsSet(datadirFlag.Name) {
		cfg.DataDir = ctx.String(datadirFlag.Name)
	}
	if ctx.IsSet(envFlag.Name) {
		cfg.Environment = ctx.String(envFlag.Name)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	mgr, err := config.NewManager(cfg)
	if err != nil {
		return err
	}

	store, err := storage.Open(filepath.Join(cfg.DataDir, "relaydb"))
	if err != nil {
		return err
	}
	chain, err := blockchain.NewManager(cfg)
	if err != nil {
		store.Close()
		return err
	}

	handler := resilience.NewHandler()
	mon := monitor.New(store, chain, mgr)
	handler.SetAlertSink(mon)

	proc := processor.New(store, chain, handler, processor.Config{
		Workers:      ctx.Int(workersFlag.Name),
		MaxQueueSize: ctx.Int(queueSizeFlag.Name),
	})
	proc.Start()
	mon.Start()

	srv := api.New(mgr, store, chain, proc, mon, handler)
	if err := srv.Start(); err != nil {
		proc.Stop()
		mon.Stop()
		chain.Close()
		store.Close()
		return err
	}
	log.Info("Relay started", "version", params.VersionWithMeta, "env", cfg.Environment,
		"chains", len(cfg.Chains), "port", cfg.Port)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigc)
	sig := <-sigc
	log.Info("Shutting down", "signal", sig)

	if err := srv.Stop(); err != nil {
		log.Error("HTTP shutdown failed", "err", err)
	}
	proc.Stop()
	mon.Stop()
	chain.Close()
	if err := store.Close(); err != nil {
		log.Error("Store close failed", "err", err)
	}
	log.Info("Relay stopped")
	return nil
}
