package main

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kingrea/slotfeed/internal/config"
	"github.com/kingrea/slotfeed/internal/status"
	"github.com/kingrea/slotfeed/internal/tui"
)

const journalLines = 8

var noteStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file (default is <workload>.yaml when present)")
	statusCmd.Flags().Bool("all", false, "list idle slots too")

	viper.SetEnvPrefix("slotfeed")
	viper.AutomaticEnv()
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("all", statusCmd.Flags().Lookup("all"))

	rootCmd.AddCommand(statusCmd, watchCmd, terminateCmd, configCmd)
}

var rootCmd = &cobra.Command{
	Use:          "slotctl",
	Short:        "Inspect and control a slotfeed run from its files",
	SilenceUsage: true,
}

var statusCmd = &cobra.Command{
	Use:   "status <workload>",
	Short: "Print remaining work, queued items and slot bindings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(args[0], viper.GetString("config"))
		if err != nil {
			return err
		}
		snap, err := status.Take(cfg.Paths(), cfg.Run.Slots.Max, journalLines)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), tui.RenderStatus(snap, viper.GetBool("all")))
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch <workload>",
	Short: "Follow a run live",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(args[0], viper.GetString("config"))
		if err != nil {
			return err
		}
		paths, maxSlots := cfg.Paths(), cfg.Run.Slots.Max
		app := tui.New(cfg.Workload, func() (status.Snapshot, error) {
			return status.Take(paths, maxSlots, journalLines)
		})
		_, err = tea.NewProgram(app, tea.WithAltScreen()).Run()
		return err
	},
}

var terminateCmd = &cobra.Command{
	Use:   "terminate <workload>",
	Short: "Ask the distributor to stop at its next cycle",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(args[0], viper.GetString("config"))
		if err != nil {
			return err
		}
		paths := cfg.Paths()
		if err := status.RequestTermination(paths); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), noteStyle.Render("created "+paths.Terminate()))
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config <workload>",
	Short: "Print the effective configuration as YAML",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(args[0], viper.GetString("config"))
		if err != nil {
			return err
		}
		data, err := cfg.Run.Marshal()
		if err != nil {
			return err
		}
		source := cfg.Source
		if source == "" {
			source = "built-in defaults"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "# source: %s\n%s", source, data)
		return nil
	},
}
