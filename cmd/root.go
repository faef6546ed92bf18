// Package cmd is the sandbox command line.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var cfgFile string

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "sandbox",
	Short:         "Local chat protocol sandbox: WebSocket actions, users, groups and messages",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveCmd.RunE(cmd, args)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&cfgFile, "config", "c", "", "config file (yaml, toml or json)")
	pf.String("log-level", "info", "log level: debug, info, warn, error")
	pf.String("http-addr", ":8080", "WebSocket and HTTP listen address")
	pf.String("grpc-addr", ":50051", "gRPC health listen address, empty to disable")
	pf.String("storage", "sqlite", "conversation storage: sqlite or mongo")
	pf.String("sqlite-path", "sandbox.db", "SQLite database file")

	bind(pf, "log.level", "log-level")
	bind(pf, "http.addr", "http-addr")
	bind(pf, "grpc.addr", "grpc-addr")
	bind(pf, "storage.driver", "storage")
	bind(pf, "storage.sqlite_path", "sqlite-path")

	rootCmd.AddCommand(serveCmd, healthCmd)
}

func bind(fs *pflag.FlagSet, key, flag string) {
	if err := viper.BindPFlag(key, fs.Lookup(flag)); err != nil {
		panic(err)
	}
}
