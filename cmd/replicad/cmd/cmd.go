// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cmd

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aer0ss/aerofs-sub003/pkg/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	optionNameDataDir            = "data-dir"
	optionNameDeviceID           = "device-id"
	optionNameUserID             = "user-id"
	optionNameStores             = "stores"
	optionNameListenAddr         = "listen-addr"
	optionNamePeers              = "peer"
	optionNameDialInterval       = "dial-interval"
	optionNameDebugAPIAddr       = "debug-api-addr"
	optionCORSAllowedOrigins     = "cors-allowed-origins"
	optionNameVerbosity          = "verbosity"
	optionNameClientDownloads    = "client-downloads"
	optionNameIdentityCacheSize  = "identity-cache-size"
	optionNameRPCTimeout         = "rpc-timeout"
	optionNameMaxcastEnabled     = "maxcast-enable"
	optionNameStreamChunkSize    = "stream-chunk-size"
	optionNameStreamTimeout      = "stream-timeout"
	optionNameSchedulerWorkers   = "scheduler-workers"
	optionNameMaxUnicastSize     = "max-unicast-size"
	optionNameTracingEnabled     = "tracing-enable"
	optionNameTracingEndpoint    = "tracing-endpoint"
	optionNameTracingServiceName = "tracing-service-name"
)

func init() {
	cobra.EnableCommandSorting = false
}

type command struct {
	root    *cobra.Command
	config  *viper.Viper
	cfgFile string
	homeDir string
}

type option func(*command)

func newCommand(opts ...option) (c *command, err error) {
	c = &command{
		root: &cobra.Command{
			Use:           "replicad",
			Short:         "Peer-to-peer object replication daemon",
			SilenceErrors: true,
			SilenceUsage:  true,
			PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
				return c.initConfig()
			},
		},
	}

	for _, o := range opts {
		o(c)
	}

	// Find home directory.
	if err := c.setHomeDir(); err != nil {
		return nil, err
	}

	c.initGlobalFlags()

	if err := c.initStartCmd(); err != nil {
		return nil, err
	}

	c.initVersionCmd()

	return c, nil
}

func (c *command) Execute() (err error) {
	return c.root.Execute()
}

// Execute parses command line arguments and runs appropriate functions.
func Execute() (err error) {
	c, err := newCommand()
	if err != nil {
		return err
	}
	return c.Execute()
}

func (c *command) initGlobalFlags() {
	globalFlags := c.root.PersistentFlags()
	globalFlags.StringVar(&c.cfgFile, "config", "", "config file (default is $HOME/.replicad.yaml)")
}

func (c *command) initConfig() (err error) {
	config := viper.New()
	configName := ".replicad"
	if c.cfgFile != "" {
		// Use config file from the flag.
		config.SetConfigFile(c.cfgFile)
	} else {
		// Search config in home directory with name ".replicad" (without extension).
		config.AddConfigPath(c.homeDir)
		config.SetConfigName(configName)
	}

	// Environment
	config.SetEnvPrefix("replicad")
	config.AutomaticEnv() // read in environment variables that match
	config.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// If a config file is found, read it in.
	if err := config.ReadInConfig(); err != nil {
		var e viper.ConfigFileNotFoundError
		if !errors.As(err, &e) {
			return err
		}
	}
	c.config = config
	return nil
}

func (c *command) setHomeDir() (err error) {
	if c.homeDir != "" {
		return
	}
	dir, err := os.UserHomeDir()
	if err != nil {
		return err
	}
	c.homeDir = dir
	return nil
}

func (c *command) setAllFlags(cmd *cobra.Command) {
	cmd.Flags().String(optionNameDataDir, filepath.Join(c.homeDir, ".replicad"), "data directory, empty keeps all state in memory")
	cmd.Flags().String(optionNameDeviceID, "", "hex encoded device id, generated and stored in the data directory if empty")
	cmd.Flags().String(optionNameUserID, "", "user the device belongs to")
	cmd.Flags().StringSlice(optionNameStores, []string{"1"}, "indices of the stores the device is a member of")
	cmd.Flags().String(optionNameListenAddr, ":7300", "websocket carrier listen address")
	cmd.Flags().StringSlice(optionNamePeers, nil, "websocket urls of devices to connect to")
	cmd.Flags().Duration(optionNameDialInterval, 5*time.Second, "interval between reconnection attempts")
	cmd.Flags().String(optionNameDebugAPIAddr, ":7301", "debug HTTP API listen address, empty disables it")
	cmd.Flags().StringSlice(optionCORSAllowedOrigins, []string{}, "origins with CORS headers enabled")
	cmd.Flags().String(optionNameVerbosity, "info", "log verbosity level, a name (error, warn, info, debug, trace) or 0=panic to 6=trace, silent disables logging")
	cmd.Flags().Int64(optionNameClientDownloads, 32, "maximum concurrent downloads started by the client")
	cmd.Flags().Int(optionNameIdentityCacheSize, 1024, "number of device to user mappings kept in memory")
	cmd.Flags().Duration(optionNameRPCTimeout, 30*time.Second, "how long to wait for a reply to a request")
	cmd.Flags().Bool(optionNameMaxcastEnabled, true, "reach unknown devices of a store through maxcast")
	cmd.Flags().Int(optionNameStreamChunkSize, 64*1024, "size of content stream chunks in bytes")
	cmd.Flags().Duration(optionNameStreamTimeout, 30*time.Second, "how long to wait for the next chunk of a stream")
	cmd.Flags().Int(optionNameSchedulerWorkers, 4, "number of goroutines running scheduled events")
	cmd.Flags().Int(optionNameMaxUnicastSize, 256*1024, "largest message sent as a single datagram")
	cmd.Flags().Bool(optionNameTracingEnabled, false, "enable tracing")
	cmd.Flags().String(optionNameTracingEndpoint, "127.0.0.1:6831", "endpoint to send tracing data")
	cmd.Flags().String(optionNameTracingServiceName, "replicad", "service name identifier for tracing")
}

func newLogger(cmd *cobra.Command, verbosity string) (logging.Logger, error) {
	if verbosity == "silent" {
		return logging.New(io.Discard, 0), nil
	}
	level, err := logging.ParseVerbosity(verbosity)
	if err != nil {
		return nil, err
	}
	return logging.New(cmd.OutOrStdout(), level), nil
}
