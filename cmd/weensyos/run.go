package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"weensyos/kernel/driver/keyboard"
	"weensyos/kernel/driver/memview"
	"weensyos/kernel/kfmt"
	"weensyos/kernel/kmain"
	"weensyos/kernel/proc"
	"weensyos/user"
)

type runFlags struct {
	program      string
	maxTicks     uint64
	stopWhenIdle bool
	tui          bool
	snapshot     string
}

func newRunCmd(global *globalFlags) *cobra.Command {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Boot the kernel and run the configured processes",
		Long: `Boot the kernel and run until interrupted, a tick limit is reached or,
with --stop-when-idle, every process has exited or faulted.

Without --tui the run is headless and the final memory map is printed when
the kernel stops.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := global.loadConfig()
			if err != nil {
				return err
			}

			if flags.program != "" {
				cfg = cfg.WithProgram(flags.program)
			}
			if cmd.Flags().Changed("max-ticks") {
				cfg.MaxTicks = flags.maxTicks
			}
			if flags.stopWhenIdle {
				cfg.StopWhenIdle = true
			}

			logger, err := kfmt.NewLogger(cfg.LogLevel, cfg.LogFile)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			programs, kerr := user.Programs(cfg.Hz)
			if kerr != nil {
				return kerr
			}

			latch := &keyboard.Latch{}
			opts := []kmain.Option{kmain.WithLogger(logger), kmain.WithKeyboard(latch)}
			var tui *tuiRunner
			if flags.tui {
				tui = newTUIRunner(cmd.InOrStdin(), cmd.OutOrStdout(), latch)
				opts = append(opts, kmain.WithTickHook(tui.onTick))
			}

			k, err := kmain.Boot(cfg, programs, opts...)
			if err != nil {
				return err
			}

			if tui != nil {
				err = tui.run(cmd.Context(), k)
			} else {
				err = runHeadless(cmd.Context(), k)
			}

			report(cmd.OutOrStdout(), k, err)
			if flags.snapshot != "" {
				if serr := writeSnapshot(flags.snapshot, k); serr != nil {
					return serr
				}
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&flags.program, "program", "p", "", "run a single built-in program in slot 1")
	cmd.Flags().Uint64Var(&flags.maxTicks, "max-ticks", 0, "stop after this many timer ticks (0 runs forever)")
	cmd.Flags().BoolVar(&flags.stopWhenIdle, "stop-when-idle", false, "stop once no process can run")
	cmd.Flags().BoolVar(&flags.tui, "tui", false, "show the console in an interactive terminal view")
	cmd.Flags().StringVar(&flags.snapshot, "snapshot", "", "write a PNG of the final memory map to this file")
	return cmd
}

// runHeadless runs the kernel next to a watcher that turns SIGINT and
// SIGTERM into a keyboard quit request, the same way pressing q does in the
// terminal view.
func runHeadless(ctx context.Context, k *kmain.Kernel) error {
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{})
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(done)
		return k.Run(gctx)
	})

	g.Go(func() error {
		select {
		case <-sigCtx.Done():
			kfmt.Logger().Info("interrupted", zap.Error(context.Cause(sigCtx)))
			k.Keyboard().RequestQuit()
		case <-done:
		}
		return nil
	})

	return g.Wait()
}

func report(w io.Writer, k *kmain.Kernel, err error) {
	fmt.Fprintln(w, memview.RenderText(finalSnapshot(k)))
	if err != nil {
		fmt.Fprintf(w, "kernel halted after %d ticks: %v\n", k.Elapsed(), err)
		return
	}
	fmt.Fprintf(w, "kernel stopped after %d ticks: %s\n", k.Elapsed(), k.StopReason())
}

func writeSnapshot(path string, k *kmain.Kernel) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	if err = memview.WritePNG(f, finalSnapshot(k)); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// finalSnapshot captures memory with the address space of the current
// process, or of the lowest numbered process that still has one.
func finalSnapshot(k *kmain.Kernel) *memview.Snapshot {
	table := k.Table()
	shown := table.Current()
	for pid := 1; pid < proc.NProc && (shown == nil || shown.PageTable == nil); pid++ {
		shown = table.Get(pid)
	}
	return memview.Take(table, shown)
}
