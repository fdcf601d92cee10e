// gowsengine runs the websocket server, connects to a websocket server from the command line and
// issues development tokens.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Path of the configuration file, shared by all commands
	configFile string

	rootCmd = &cobra.Command{
		Use:           "gowsengine",
		Short:         "Websocket server and client on raw TCP/TLS sockets.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path of the YAML configuration file.")
	rootCmd.AddCommand(serveCmd, connectCmd, tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
