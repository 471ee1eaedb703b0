package main

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const serviceName = "api-accessmap"

var rootCmd = &cobra.Command{
	Use:           serviceName,
	Short:         "Crowdsourced accessibility map api",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	log.SetFormatter(&log.JSONFormatter{})

	rootCmd.AddCommand(serveCmd, catalogCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Errorf("%s failed: %s", serviceName, err.Error())
		os.Exit(1)
	}
}
