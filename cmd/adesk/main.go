package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"agent-desk/internal/app"
	"agent-desk/internal/tui"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

func main() {
	var (
		configPath string
		dataRoot   string
	)

	root := &cobra.Command{
		Use:   "adesk",
		Short: "Multi-session desktop client for tool-using AI agents",
		Long: "adesk coordinates several concurrent agent conversations: it ingests the\n" +
			"runtime's event stream, tracks tool calls and their approval gates per\n" +
			"session, and renders the active session. Ships with a built-in offline\n" +
			"runtime; prompts containing \"run\" exercise the approval gate.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(configPath)
			if err != nil {
				return err
			}
			if dataRoot != "" {
				cfg.DataRoot = dataRoot
			}
			return run(cfg)
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "path to config.yaml")
	root.Flags().StringVar(&dataRoot, "data-root", "", "override the data directory")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("adesk " + version)
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(cfg app.Config) error {
	store, err := app.NewSQLiteSessionStore(cfg.DataRoot)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	logger := app.NewFileLogger(cfg.DataRoot)
	runtime := app.NewMockRuntime(store)
	coord := app.NewCoordinator(store, runtime, logger, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		cancel()
	}()
	go coord.Run(ctx, runtime.Events)

	// Make sure there is a session to land in.
	if current, _ := store.CurrentSession(); current == "" {
		if _, err := store.CreateSession(cfg.DefaultModel, cfg.DefaultProvider); err != nil {
			return fmt.Errorf("create session: %w", err)
		}
	}

	model := tui.NewModel(coord, store, runtime.RunTurn)
	program := tea.NewProgram(model, tea.WithAltScreen())
	_, err = program.Run()
	return err
}
