package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ppiankov/sentinel/internal/pipeline"
	"github.com/ppiankov/sentinel/internal/source"
)

var watchDeterministic bool

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().BoolVar(&watchDeterministic, "deterministic", false, "Zero-tolerance pattern matching: any identifier hit is an axiom violation")
}

var watchCmd = &cobra.Command{
	Use:   "watch <file.log>",
	Short: "Tail a log file and classify each new line",
	Long: "Attaches at the current end of the file and classifies every appended line, one oracle call\n" +
		"per record. Runs until interrupted (exit 0) or until a critical verdict trips lockdown (exit 100).",
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.close()
	if a.latch.Locked() {
		return lockdownError(a.latch.Path())
	}

	src, err := source.OpenTail(args[0])
	if err != nil {
		return inputError(err)
	}
	defer func() { _ = src.Close() }()

	var waiter source.Waiter = source.PollWaiter{}
	if a.cfg.Watch.UseFsnotify {
		nw, err := source.NewNotifyWaiter(args[0])
		if err != nil {
			a.logger.Warn("fsnotify unavailable, polling instead", "error", err)
		} else {
			waiter = nw
		}
	}
	defer func() { _ = waiter.Close() }()

	driver, err := a.newDriver(modeFor(watchDeterministic), a.reporter(), waiter)
	if err != nil {
		return err
	}
	outcome, err := driver.Watch(ctx, src)
	if err != nil {
		return err
	}
	if outcome == pipeline.OutcomeLockdown {
		return lockdownError(a.latch.Path())
	}
	return nil
}
