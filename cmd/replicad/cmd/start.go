// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	replicad "github.com/aer0ss/aerofs-sub003"
	"github.com/aer0ss/aerofs-sub003/pkg/ids"
	"github.com/aer0ss/aerofs-sub003/pkg/logging"
	"github.com/aer0ss/aerofs-sub003/pkg/node"
	"github.com/spf13/cobra"
)

const deviceIDFilename = "device-id"

var errMissingUserID = errors.New("user id is required")

func (c *command) initStartCmd() (err error) {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a replication daemon",
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			if len(args) > 0 {
				return cmd.Help()
			}

			logger, err := newLogger(cmd, c.config.GetString(optionNameVerbosity))
			if err != nil {
				return fmt.Errorf("new logger: %w", err)
			}

			o, err := c.nodeOptions(logger)
			if err != nil {
				return err
			}

			logger.Infof("version: %v", replicad.Version)
			logger.Infof("device id: %s", o.DeviceID)

			b, err := node.NewReplicad(o)
			if err != nil {
				return err
			}

			logger.Infof("carrier address: %s", b.CarrierAddr())
			if a := b.DebugAPIAddr(); a != nil {
				logger.Infof("debug api address: %s", a)
			}

			// Wait for termination or interrupt signals.
			// We want to clean up things at the end.
			interruptChannel := make(chan os.Signal, 1)
			signal.Notify(interruptChannel, syscall.SIGINT, syscall.SIGTERM)

			// Block main goroutine until it is interrupted
			sig := <-interruptChannel

			logger.Debugf("received signal: %v", sig)
			logger.Info("shutting down")

			done := make(chan struct{})
			go func() {
				defer close(done)

				if err := b.Shutdown(); err != nil {
					logger.Errorf("shutdown: %v", err)
				}
			}()

			// If shutdown function is blocking too long,
			// allow process termination by receiving another signal.
			select {
			case sig := <-interruptChannel:
				logger.Debugf("received signal: %v", sig)
			case <-done:
			}

			return nil
		},
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return c.config.BindPFlags(cmd.Flags())
		},
	}

	c.setAllFlags(cmd)
	c.root.AddCommand(cmd)
	return nil
}

func (c *command) nodeOptions(logger logging.Logger) (o node.Options, err error) {
	userID := c.config.GetString(optionNameUserID)
	if userID == "" {
		return o, errMissingUserID
	}

	dataDir := c.config.GetString(optionNameDataDir)
	did, err := deviceID(c.config.GetString(optionNameDeviceID), dataDir)
	if err != nil {
		return o, fmt.Errorf("device id: %w", err)
	}

	stores, err := parseStores(c.config.GetStringSlice(optionNameStores))
	if err != nil {
		return o, err
	}

	return node.Options{
		DataDir:            dataDir,
		DeviceID:           did,
		UserID:             ids.UserID(userID),
		Stores:             stores,
		ListenAddr:         c.config.GetString(optionNameListenAddr),
		Peers:              c.config.GetStringSlice(optionNamePeers),
		DialInterval:       c.config.GetDuration(optionNameDialInterval),
		DebugAPIAddr:       c.config.GetString(optionNameDebugAPIAddr),
		CORSAllowedOrigins: c.config.GetStringSlice(optionCORSAllowedOrigins),
		Logger:             logger,
		ClientDownloads:    c.config.GetInt64(optionNameClientDownloads),
		IdentityCacheSize:  c.config.GetInt(optionNameIdentityCacheSize),
		RPCTimeout:         c.config.GetDuration(optionNameRPCTimeout),
		MaxcastEnabled:     c.config.GetBool(optionNameMaxcastEnabled),
		StreamChunkSize:    c.config.GetInt(optionNameStreamChunkSize),
		StreamTimeout:      c.config.GetDuration(optionNameStreamTimeout),
		SchedulerWorkers:   c.config.GetInt(optionNameSchedulerWorkers),
		MaxUnicastSize:     c.config.GetInt(optionNameMaxUnicastSize),
		TracingEnabled:     c.config.GetBool(optionNameTracingEnabled),
		TracingEndpoint:    c.config.GetString(optionNameTracingEndpoint),
		TracingServiceName: c.config.GetString(optionNameTracingServiceName),
	}, nil
}

// deviceID parses v, or loads the device id kept in dataDir, generating
// and storing a new one on first start.
func deviceID(v, dataDir string) (ids.DID, error) {
	if v != "" {
		return ids.ParseDID(v)
	}
	if dataDir == "" {
		return ids.NewDID(), nil
	}

	name := filepath.Join(dataDir, deviceIDFilename)
	b, err := os.ReadFile(name)
	if err == nil {
		return ids.ParseDID(strings.TrimSpace(string(b)))
	}
	if !os.IsNotExist(err) {
		return ids.DID{}, err
	}

	did := ids.NewDID()
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return ids.DID{}, err
	}
	if err := os.WriteFile(name, []byte(did.String()+"\n"), 0o600); err != nil {
		return ids.DID{}, err
	}
	return did, nil
}

func parseStores(v []string) ([]ids.SIndex, error) {
	stores := make([]ids.SIndex, 0, len(v))
	for _, s := range v {
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid store index %q", s)
		}
		stores = append(stores, ids.SIndex(n))
	}
	return stores, nil
}
