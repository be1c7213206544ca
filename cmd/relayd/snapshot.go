package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"FeedRelay/client"
	"FeedRelay/internal/feed"
	"FeedRelay/internal/snapshot"
	"FeedRelay/internal/storage"
)

func newSnapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Export or import feed history snapshots",
	}

	cmd.AddCommand(newSnapshotExportCmd(), newSnapshotImportCmd())

	return cmd
}

func newSnapshotExportCmd() *cobra.Command {
	var out, from string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a snapshot of every feed to a file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := newViper(cmd)
			if err != nil {
				return err
			}

			var data []byte
			if from != "" {
				data, err = client.New(from).Snapshot()
			} else {
				data, err = exportLocal(v.GetString("data"))
			}

			if err != nil {
				return fmt.Errorf("export snapshot:\n%w", err)
			}

			if err := os.WriteFile(out, data, 0644); err != nil {
				return fmt.Errorf("write snapshot:\n%w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d bytes to %s\n", len(data), out)

			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "snapshot.zst", "Output file")
	cmd.Flags().StringVar(&from, "from", "", "Export from a running node's HTTP API instead of the data directory")

	return cmd
}

func newSnapshotImportCmd() *cobra.Command {
	var in string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Load a snapshot into an empty data directory",
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := newViper(cmd)
			if err != nil {
				return err
			}

			data, err := os.ReadFile(in)
			if err != nil {
				return fmt.Errorf("read snapshot:\n%w", err)
			}

			snap, err := importLocal(v.GetString("data"), data)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "imported %d records across %d feeds (created %s)\n",
				snap.RecordCount(), len(snap.Feeds), time.Unix(int64(snap.CreatedAt), 0).UTC().Format(time.RFC3339))

			return nil
		},
	}

	cmd.Flags().StringVarP(&in, "in", "i", "snapshot.zst", "Snapshot file")

	return cmd
}

// openStore opens the feed store under a data directory.
func openStore(dataPath string) (*storage.Storage, *feed.Store, error) {
	db, err := storage.New(filepath.Join(dataPath, "db"))
	if err != nil {
		return nil, nil, fmt.Errorf("open storage:\n%w", err)
	}

	store, err := feed.Open(db)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("open feed store:\n%w", err)
	}

	return db, store, nil
}

// exportLocal snapshots a stopped node's data directory.
func exportLocal(dataPath string) ([]byte, error) {
	db, store, err := openStore(dataPath)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	return snapshot.Export(store, uint64(time.Now().Unix()))
}

// importLocal replays a snapshot into a stopped node's data directory.
func importLocal(dataPath string, data []byte) (*snapshot.Snapshot, error) {
	db, store, err := openStore(dataPath)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	snap, err := snapshot.Import(store, data)
	if err != nil {
		return nil, fmt.Errorf("import snapshot:\n%w", err)
	}

	return snap, nil
}
