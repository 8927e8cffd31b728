package main

import (
	"github.com/spf13/cobra"
)

const (
	Version   = "1.0"
	BuildTime = "unset"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version info",
	Run: func(cmd *cobra.Command, args []string) {
		logVersion()
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func logVersion() {
	mainlog.WithField("version", Version).WithField("buildTime", BuildTime).Info("cpod")
}
