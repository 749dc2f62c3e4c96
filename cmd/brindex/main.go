package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ram-shortage/BRindeX/pkg/config"
	"github.com/ram-shortage/BRindeX/pkg/ipc"
	"github.com/ram-shortage/BRindeX/pkg/log"
	"github.com/ram-shortage/BRindeX/pkg/service"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "brindex",
	Short: "BRindeX - Instant file name search for local volumes",
	Long: `BRindeX maintains a persistent name index over local volumes and
answers substring and filtered queries in milliseconds, staying current
through the NTFS change journal where available and periodic
reconciliation everywhere else.

The same binary runs the background service (brindex serve) and talks
to it (brindex search, brindex status, brindex rebuild).`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"BRindeX version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	// Global flags
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("config", "", "Path to configuration file")
	rootCmd.PersistentFlags().String("data-dir", "", "Data directory (overrides configuration)")

	// Initialize logging before command execution
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(rebuildCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

// loadConfig resolves the configuration for any subcommand
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	var cfg *config.Config
	var err error
	if path != "" {
		cfg, err = config.Load(path)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.Default()
	}
	if dataDir, _ := cmd.Flags().GetString("data-dir"); dataDir != "" {
		cfg.DataDir = dataDir
	}
	return cfg, nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the indexing service in the foreground",
	Long: `Start the indexing core: volume discovery, initial enumeration,
change capture, and the IPC endpoint the search UI connects to.

Runs until interrupted. A service wrapper (SCM, systemd) should invoke
this command and treat process exit as service exit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		// Log files live in their own directory beside the data dir;
		// rotation belongs to the host harness
		if cfg.LogDir != "" {
			if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
				return err
			}
			f, err := os.OpenFile(filepath.Join(cfg.LogDir, "brindex.log"),
				os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return err
			}
			defer f.Close()
			logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
			log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: true, Output: f})
		}

		svc, err := service.New(cfg)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return svc.Run(ctx)
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the index through the running service",
	Long: `Query the running service over IPC. The query uses the search DSL:

  brindex search "report* ext:pdf size:>10mb modified:lastweek"
  brindex search "type:dir path:C:\Projects" --limit 50`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		client := ipc.NewClient(cfg.DataDir)
		resp, err := client.Search(strings.Join(args, " "), limit, offset)
		if err != nil {
			return err
		}

		for _, rec := range resp.Results {
			kind := "f"
			if rec.IsDir {
				kind = "d"
			}
			fmt.Printf("%s  %12d  %s  %s\n",
				kind, rec.Size,
				time.Unix(rec.ModifiedAt, 0).Format("2006-01-02 15:04"),
				rec.Path)
		}
		fmt.Printf("\n%d of %d results in %d ms\n",
			len(resp.Results), resp.TotalCount, resp.SearchTimeMS)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show per-volume index status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		client := ipc.NewClient(cfg.DataDir)
		resp, err := client.Status()
		if err != nil {
			return err
		}

		fmt.Printf("%-24s %-12s %-14s %12s %10s\n", "MOUNT", "KIND", "STATE", "ENTRIES", "FRESHNESS")
		for _, vol := range resp.Volumes {
			freshness := "-"
			if vol.Freshness >= 0 {
				freshness = fmt.Sprintf("%ds", vol.Freshness)
			}
			fmt.Printf("%-24s %-12s %-14s %12d %10s\n",
				vol.Mount, vol.Kind, vol.State, vol.EntryCount, freshness)
		}
		return nil
	},
}

var rebuildCmd = &cobra.Command{
	Use:   "rebuild <mount>",
	Short: "Drop and re-enumerate one volume",
	Long: `Ask the running service to discard a volume's index entries and
re-enumerate from scratch. The recovery path for store corruption
reports or suspected drift.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		client := ipc.NewClient(cfg.DataDir)
		if err := client.Rebuild(args[0]); err != nil {
			return err
		}
		fmt.Printf("Rebuild of %s started\n", args[0])
		return nil
	},
}

func init() {
	searchCmd.Flags().Int("limit", 25, "Maximum results to return")
	searchCmd.Flags().Int("offset", 0, "Results to skip")
}
