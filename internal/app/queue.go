package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/addonsync/internal/output"
)

var (
	queueClear bool

	queueCmd = &cobra.Command{
		Use:   "queue",
		Short: "Show pending notifications",
		Long: `Show the notifications waiting in the event queue, in the order the
serving process will dispatch them. Viewing the queue does not consume it.`,
		Example: `  addonsync queue

  # Discard every pending notification
  addonsync queue --clear`,
		Args: cobra.NoArgs,
		RunE: runQueue,
	}

	drainCmd = &cobra.Command{
		Use:   "drain",
		Short: "Dispatch pending notifications now",
		Long: `Dispatch every pending notification to its listeners and remove the
dispatched entries from the queue.

This is what the serving process does at each request boundary. Entries
whose package record can no longer be read stay queued for the next drain.`,
		Args: cobra.NoArgs,
		RunE: runDrain,
	}
)

func init() {
	queueCmd.Flags().BoolVar(&queueClear, "clear", false, "discard all pending notifications without dispatching them")
}

func runQueue(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	if queueClear {
		if err := e.queue.Clear(cmd.Context()); err != nil {
			return fmt.Errorf("failed to clear queue: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "✓ Queue cleared")
		return nil
	}

	entries, err := e.queue.Drain(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to read queue: %w", err)
	}
	fmt.Fprint(cmd.OutOrStdout(), output.RenderQueueTable(entries))
	return nil
}

func runDrain(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	d, err := e.dispatcher()
	if err != nil {
		return err
	}

	n, err := d.Flush(cmd.Context())
	fmt.Fprintf(cmd.OutOrStdout(), "Dispatched %d event(s)\n", n)
	if err != nil {
		return fmt.Errorf("some events could not be dispatched: %w", err)
	}
	return nil
}
