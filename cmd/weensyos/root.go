package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"weensyos/kernel/config"
	"weensyos/user"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
	logFile    string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "weensyos",
		Short: "WeensyOS kernel simulator",
		Long: `weensyos boots a small teaching kernel on a simulated x86-64 machine.

The kernel gives every process its own page table, hands out physical pages
on request, forks processes by copying their memory and schedules them
round-robin. The console shows which process owns every physical page and
how the displayed process maps its virtual address space.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level (overrides the configuration)")
	rootCmd.PersistentFlags().StringVar(&flags.logFile, "log-file", "", "log file (overrides the configuration)")

	rootCmd.AddCommand(
		newRunCmd(flags),
		newProgramsCmd(),
		newInitConfigCmd(),
	)
	return rootCmd
}

// loadConfig returns the configuration selected by the global flags.
func (f *globalFlags) loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if f.configPath != "" {
		loaded, err := config.Load(f.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	if f.logFile != "" {
		cfg.LogFile = f.logFile
	}
	return cfg, nil
}

var programHelp = map[string]string{
	user.Allocator:  "allocate heap pages until memory runs out, then yield forever",
	user.Allocator2: "allocator loaded at 0x140000",
	user.Allocator3: "allocator loaded at 0x180000",
	user.Allocator4: "allocator loaded at 0x1c0000",
	user.Fork:       "fork twice, then every copy runs the allocator loop",
	user.ForkExit:   "keep forking children that allocate a few pages and exit",
	user.TestKill:   "fork a child, sleep for a second, kill it and report on row 1",
	user.Sleeper:    "sleep in a loop and count wake-ups on row 23",
	user.Fault:      "write to kernel memory and get marked as faulted",
}

func newProgramsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "programs",
		Short: "List the built-in user programs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			listPrograms(cmd.OutOrStdout())
			return nil
		},
	}
}

func listPrograms(w io.Writer) {
	for _, name := range user.Names {
		fmt.Fprintf(w, "%-12s %s\n", name, programHelp[name])
	}
}

func newInitConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config PATH",
		Short: "Write the default configuration to PATH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.DefaultConfig().Save(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", args[0])
			return nil
		},
	}
}
