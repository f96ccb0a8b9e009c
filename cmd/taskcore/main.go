// Command taskcore runs the background task orchestration core standalone:
// a daemon mode for embedding hosts that talk to it in-process, plus
// one-shot dependency analysis over a project directory.
package main

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/crucible-editor/taskcore/internal/config"
	"github.com/crucible-editor/taskcore/internal/depgraph"
	"github.com/crucible-editor/taskcore/internal/events"
	"github.com/crucible-editor/taskcore/internal/orchestrator"
	"github.com/crucible-editor/taskcore/internal/persistence"
)

var version = "dev"

var sourceExtensions = map[string]bool{
	".ts": true, ".tsx": true, ".js": true, ".jsx": true, ".mjs": true,
}

var rootCmd = &cobra.Command{
	Use:   "taskcore",
	Short: "Background task orchestration and multi-file transaction core",
}

// ── run ─────────────────────────────────────────────────────────────────

var runStorePath string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the core until interrupted, logging task events",
	RunE:  runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := config.LoadDefault()
	if err != nil {
		return err
	}
	if runStorePath != "" {
		cfg.StorePath = runStorePath
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store persistence.Store
	if cfg.StorePath != "" {
		s, err := persistence.NewSQLiteStore(ctx, cfg.StorePath)
		if err != nil {
			return err
		}
		defer s.Close()
		store = s
	}

	core := orchestrator.New(cfg, nil, store, logger)
	if err := core.Start(ctx); err != nil {
		return err
	}
	defer core.Stop()

	unsubscribe := core.Subscribe(func(ev events.Event) {
		logger.Info("event", "type", ev.EventType(), "task", ev.TaskID())
	})
	defer unsubscribe()

	logger.Info("taskcore running", "version", version, "store", cfg.StorePath)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil
		case <-ticker.C:
			stats := core.Stats()
			logger.Info("queue stats",
				"queued", stats.Queued, "running", stats.Running,
				"completed", stats.Completed, "failed", stats.Failed)
		}
	}
}

// ── impact ──────────────────────────────────────────────────────────────

var impactDir string

var impactCmd = &cobra.Command{
	Use:   "impact [path]",
	Short: "Report which files depend on the given file",
	Args:  cobra.ExactArgs(1),
	RunE:  runImpact,
}

func runImpact(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadDefault()
	if err != nil {
		return err
	}

	files, err := collectSourceFiles(impactDir)
	if err != nil {
		return err
	}

	core := orchestrator.New(cfg, nil, nil, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	analysis, err := core.AnalyzeImpact(cmd.Context(), files, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("%s\n", analysis.Path)
	fmt.Printf("  risk: %s\n", analysis.Risk)
	fmt.Printf("  direct dependents (%d):\n", len(analysis.DirectDependents))
	for _, d := range analysis.DirectDependents {
		fmt.Printf("    %s\n", d)
	}
	fmt.Printf("  transitive dependents (%d):\n", len(analysis.TransitiveDependents))
	for _, d := range analysis.TransitiveDependents {
		fmt.Printf("    %s\n", d)
	}
	return nil
}

// ── cycles ──────────────────────────────────────────────────────────────

var cyclesDir string

var cyclesCmd = &cobra.Command{
	Use:   "cycles",
	Short: "List import cycles in a project directory",
	RunE:  runCycles,
}

func runCycles(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadDefault()
	if err != nil {
		return err
	}

	files, err := collectSourceFiles(cyclesDir)
	if err != nil {
		return err
	}

	core := orchestrator.New(cfg, nil, nil, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	cycles, err := core.DetectCycles(cmd.Context(), files)
	if err != nil {
		return err
	}

	if len(cycles) == 0 {
		fmt.Println("no import cycles")
		return nil
	}
	for _, c := range cycles {
		fmt.Println(strings.Join(c, " -> "))
	}
	return nil
}

// collectSourceFiles loads every recognized source file under dir, with
// paths relative to dir so they match import specifiers.
func collectSourceFiles(dir string) ([]depgraph.SourceFile, error) {
	var files []depgraph.SourceFile
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "node_modules" || strings.HasPrefix(d.Name(), ".") && path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		if !sourceExtensions[filepath.Ext(path)] {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, depgraph.SourceFile{Path: filepath.ToSlash(rel), Content: string(content)})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func main() {
	runCmd.Flags().StringVar(&runStorePath, "store", "", "SQLite store path (overrides config)")
	impactCmd.Flags().StringVar(&impactDir, "dir", ".", "project directory to analyze")
	cyclesCmd.Flags().StringVar(&cyclesDir, "dir", ".", "project directory to analyze")

	rootCmd.Version = version
	rootCmd.AddCommand(runCmd, impactCmd, cyclesCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
