package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wirepost/mop/config"
	"github.com/wirepost/mop/cpo"
	"github.com/wirepost/mop/event"
	"github.com/wirepost/mop/log"
)

var (
	configPath    string
	signalChannel = make(chan os.Signal, 1)
	mainlog       log.Logger

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "start the central post office",
		Run:   serve,
	}
)

func init() {
	var logOpenErr error
	if mainlog, logOpenErr = log.GetLogger(log.OutputStderr.String()); logOpenErr != nil {
		fmt.Fprintf(os.Stderr, "failed creating a logger to %s: %v\n", log.OutputStderr, logOpenErr)
		os.Exit(1)
	}
	serveCmd.PersistentFlags().StringVarP(&configPath, "config", "c",
		"cpo.json", "Path to the configuration file")
	rootCmd.AddCommand(serveCmd)
}

// readConfig loads and validates a CPOConfig from path.
func readConfig(path string) (*config.CPOConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return config.LoadCPOConfig(f)
}

// sigHandler waits for SIGHUP to reload the client list from disk, or
// SIGTERM/SIGINT/SIGQUIT to shut down gracefully.
func sigHandler(c *cpo.CentralPostOffice, bus *event.Bus) {
	signal.Notify(signalChannel, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGINT)
	for sig := range signalChannel {
		switch sig {
		case syscall.SIGHUP:
			newCfg, err := readConfig(configPath)
			if err != nil {
				mainlog.WithError(err).Error("error reloading config")
				continue
			}
			c.ReplaceClients(newCfg.Clients)
			if bus != nil {
				bus.Publish(event.ConfigClientsChanged)
			}
			mainlog.Info("configuration reloaded")
		default:
			mainlog.Info("shutdown signal caught")
			c.Stop()
			mainlog.Info("shutdown completed, exiting")
			return
		}
	}
}

func serve(cmd *cobra.Command, args []string) {
	logVersion()

	cfg, err := readConfig(configPath)
	if err != nil {
		mainlog.WithError(err).Fatal("error while reading config")
	}

	if fileLimit, err := getFileLimit(); err == nil && uint64(len(cfg.Clients)) > fileLimit {
		mainlog.WithField("clients", len(cfg.Clients)).WithField("fileLimit", fileLimit).
			Fatal("configured client count exceeds this process's open file limit")
	}

	bus := &event.Bus{}
	c := cpo.New(*cfg, mainlog, bus)
	c.WriteConfig = func(toWrite config.CPOConfig) error {
		f, ferr := os.Create(configPath)
		if ferr != nil {
			return ferr
		}
		defer f.Close()
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		return enc.Encode(toWrite)
	}

	if err := c.Start(); err != nil {
		mainlog.WithError(err).Fatal("error while starting central post office")
	}
	mainlog.WithField("addr", fmt.Sprintf("%s:%d", cfg.LocalAddress, cfg.Port)).Info("central post office listening")

	sigHandler(c, bus)
}
