package main

import (
	"github.com/spf13/cobra"

	"FeedRelay/internal/logger"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "relayd",
		Short:         "Oracle attestation relay node",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			v, err := newViper(cmd)
			if err != nil {
				return err
			}

			return initLogger(v)
		},
	}

	bindFlags(root)

	root.AddCommand(
		newStartCmd(),
		newKeygenCmd(),
		newSnapshotCmd(),
		newGuardCmd(),
		newStatusCmd(),
		newWatchCmd(),
	)

	return root
}

func newStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the relay node",
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := newViper(cmd)
			if err != nil {
				return err
			}

			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}

			cfg.PrivateKey, err = loadOrGenerateKey(cfg.KeyPath)
			if err != nil {
				return err
			}

			node, err := NewNode(cfg)
			if err != nil {
				return err
			}

			logger.Info("starting relay",
				"data", cfg.DataPath,
				"http", cfg.HTTPAddress,
				"quic", cfg.QUICAddress,
			)

			return node.Run()
		},
	}

	bindStartFlags(cmd)

	return cmd
}
