package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "cpod",
	Short: "central post office broker",
	Long: `cpod runs a central post office: a star-topology message broker that
post offices connect to, authenticate against, and exchange direct and
published messages through.`,
	Run: nil,
}

var verbose bool

func init() {
	cobra.OnInitialize()
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"print out more debug information")
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if verbose {
			logrus.SetLevel(logrus.DebugLevel)
		} else {
			logrus.SetLevel(logrus.InfoLevel)
		}
	}
}

func main() {
	rootCmd.Execute()
}
