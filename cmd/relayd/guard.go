package main

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"FeedRelay/client"
	"FeedRelay/internal/api"
	"FeedRelay/internal/guard"
	"FeedRelay/internal/oracle"
)

// bindNodeFlag registers the --node flag of commands talking to a running relay.
func bindNodeFlag(cmd *cobra.Command) {
	cmd.Flags().String("node", "http://localhost:8080", "Relay HTTP API address")
}

func newGuardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "guard",
		Short: "Inspect or change a running relay's guard state",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the guard state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := newViper(cmd)
			if err != nil {
				return err
			}

			st, err := client.New(v.GetString("node")).GuardState()
			if err != nil {
				return err
			}

			printGuardState(cmd.OutOrStdout(), st)

			return nil
		},
	}
	bindNodeFlag(show)

	cmd.AddCommand(show)

	for _, op := range []string{guard.OpPause, guard.OpUnpause} {
		cmd.AddCommand(newGuardOpCmd(op, false))
	}

	for _, op := range []string{guard.OpAddGuardian, guard.OpRemoveGuardian, guard.OpUpdateAdmin} {
		cmd.AddCommand(newGuardOpCmd(op, true))
	}

	return cmd
}

// newGuardOpCmd builds a command that signs op with the node key and submits it.
func newGuardOpCmd(op string, withTarget bool) *cobra.Command {
	use, args := op, cobra.NoArgs
	if withTarget {
		use, args = op+" <address>", cobra.ExactArgs(1)
	}

	cmd := &cobra.Command{
		Use:   use,
		Short: "Sign and apply " + op,
		Args:  args,
		RunE: func(cmd *cobra.Command, argv []string) error {
			v, err := newViper(cmd)
			if err != nil {
				return err
			}

			target, err := guardTarget(argv)
			if err != nil {
				return err
			}

			key, err := loadKey(keyPathOf(v))
			if err != nil {
				return err
			}

			st, err := client.New(v.GetString("node")).Guard(key, op, target)
			if err != nil {
				return err
			}

			printGuardState(cmd.OutOrStdout(), st)

			return nil
		},
	}
	bindNodeFlag(cmd)

	return cmd
}

// guardTarget parses the optional target address argument.
func guardTarget(argv []string) (oracle.Address, error) {
	if len(argv) == 0 {
		return oracle.Address{}, nil
	}

	target, err := oracle.ParseAddress(argv[0])
	if err != nil {
		return oracle.Address{}, fmt.Errorf("target:\n%w", err)
	}

	return target, nil
}

// keyPathOf returns the configured key path, defaulting into the data directory.
func keyPathOf(v *viper.Viper) string {
	if p := v.GetString("key"); p != "" {
		return p
	}

	return filepath.Join(v.GetString("data"), "node.key")
}

func printGuardState(w io.Writer, st api.GuardState) {
	admin := st.Admin
	if admin == "" {
		admin = "(none)"
	}

	fmt.Fprintf(w, "admin:     %s\n", admin)
	fmt.Fprintf(w, "paused:    %v\n", st.Paused)

	if st.Paused {
		fmt.Fprintf(w, "paused by: %s\n", st.PausedBy)
	}

	fmt.Fprintf(w, "guardians: %d\n", len(st.Guardians))

	for _, g := range st.Guardians {
		fmt.Fprintf(w, "  %s\n", g)
	}
}

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print a running relay's status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := newViper(cmd)
			if err != nil {
				return err
			}

			st, err := client.New(v.GetString("node")).Status()
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "feeds:       %d\n", st.Feeds)
			fmt.Fprintf(w, "paused:      %v\n", st.Paused)
			fmt.Fprintf(w, "peers:       %d\n", st.Peers)
			fmt.Fprintf(w, "decimals:    %d\n", st.Decimals)
			fmt.Fprintf(w, "description: %s\n", st.Description)

			if st.ExpectedFeed != "" {
				fmt.Fprintf(w, "feed:        %s\n", st.ExpectedFeed)
			}

			fmt.Fprintf(w, "uptime:      %ds\n", st.Uptime)

			return nil
		},
	}
	bindNodeFlag(cmd)

	return cmd
}
