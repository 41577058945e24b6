package main

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "httpd-example",
	Short: "Example embedder of the httpd server core",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file path (optional, overrides flags below)")
	rootCmd.AddCommand(serveCmd)
}
