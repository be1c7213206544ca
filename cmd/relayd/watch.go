package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"FeedRelay/client"
	"FeedRelay/internal/api"
	"FeedRelay/internal/oracle"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print a running relay's accepted updates as they happen",
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := newViper(cmd)
			if err != nil {
				return err
			}

			var only *oracle.FeedID

			if s := v.GetString("feed"); s != "" {
				f, err := oracle.ParseFeedID(s)
				if err != nil {
					return fmt.Errorf("feed:\n%w", err)
				}

				only = &f
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			w := cmd.OutOrStdout()

			err = client.New(v.GetString("node")).Watch(ctx, only, func(ev api.Event) error {
				_, err := fmt.Fprintf(w, "%s #%d ts=%d power=%d value=%s\n", ev.Feed, ev.Index, ev.Timestamp, ev.Power, ev.Value)
				return err
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}

			return err
		},
	}
	bindNodeFlag(cmd)
	cmd.Flags().String("feed", "", "Only print this feed id (64 hex chars)")

	return cmd
}
