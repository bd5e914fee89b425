package main

import (
	"fmt"
	"os"

	"biblfs/internal/app"
	"biblfs/internal/config"

	"github.com/spf13/cobra"
)

const defaultDatabase = "bibliothecula.db"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// configPath returns the --config flag value or the default config location.
func configPath(cmd *cobra.Command) (string, error) {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		return path, nil
	}
	defaults, err := app.GetDefaults()
	if err != nil {
		return "", fmt.Errorf("getting defaults: %w", err)
	}
	return defaults["config_path"], nil
}

// loadConfig reads the config file and applies the flags the user set
// explicitly on top of it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := configPath(cmd)
	if err != nil {
		return nil, err
	}

	database, _ := cmd.Flags().GetString("database")
	cfg, err := app.LoadConfig(path, database)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("database") || cfg.Database.Path == "" {
		cfg.Database.Path = database
	}
	if flags.Changed("mount-point") {
		cfg.Mount.MountPoint, _ = flags.GetString("mount-point")
	}
	if flags.Changed("read-only") {
		cfg.Database.ReadOnly, _ = flags.GetBool("read-only")
	}
	if flags.Changed("never-replace-common-tags") {
		cfg.XAttr.NeverReplaceCommonTags, _ = flags.GetBool("never-replace-common-tags")
	}
	if flags.Changed("allow-other") {
		cfg.Mount.AllowOther, _ = flags.GetBool("allow-other")
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr, _ = flags.GetString("metrics-addr")
	}
	return cfg, nil
}

// newApp loads the config and creates a BiblApp. The caller must defer app.Close().
func newApp(cmd *cobra.Command, command string) (*app.BiblApp, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	verbosity, _ := cmd.Flags().GetCount("verbose")
	a, err := app.NewBiblApp(cmd.Context(), cfg, app.Options{Command: command, Verbosity: verbosity})
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

var rootCmd = &cobra.Command{
	Use:          "biblfs",
	Short:        "Mount a bibliothecula database as a filesystem",
	SilenceUsage: true,
	Args:         cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "mount")
		if err != nil {
			return err
		}
		defer a.Close()

		if fsck, _ := cmd.Flags().GetBool("fsck"); fsck {
			a.Logger().Warn("fsck is not implemented, mounting anyway")
		}

		return a.Run(cmd.Context())
	},
}

// tree command
var treeCmd = &cobra.Command{
	Use:   "tree",
	Short: "Print the filesystem namespace without mounting",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "tree")
		if err != nil {
			return err
		}
		defer a.Close()

		out, err := a.Tree(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Print(out)
		return nil
	},
}

// init-db command
var initDBCmd = &cobra.Command{
	Use:   "init-db",
	Short: "Create an empty bibliothecula database",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		database, _ := cmd.Flags().GetString("database")
		if err := app.InitDB(database); err != nil {
			return err
		}
		fmt.Printf("Database created at %s\n", database)
		return nil
	},
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configPath(cmd)
		if err != nil {
			return err
		}
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		database, _ := cmd.Flags().GetString("database")
		cfg := config.NewConfig(database)
		cfg.Log.Dir = defaults["log_dir"]

		if err := config.Init(path, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", path)
		fmt.Printf("Database: %s\n", cfg.Database.Path)
		fmt.Printf("Log Dir:  %s\n", cfg.Log.Dir)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configPath(cmd)
		if err != nil {
			return err
		}

		cfg, err := config.ReadFromFile(path)
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", path)
		fmt.Printf("Database:    %s (read-only: %t)\n", cfg.Database.Path, cfg.Database.ReadOnly)
		fmt.Printf("Mount Point: %s\n", cfg.Mount.MountPoint)
		fmt.Printf("FS Name:     %s\n", cfg.Mount.FsName)
		fmt.Printf("Attr TTL:    %s\n", cfg.Mount.AttrTTL)
		if cfg.Query.Default != "" {
			fmt.Printf("Query:       %s (%s)\n", cfg.Query.Default, cfg.Query.DefaultKind)
		}
		fmt.Printf("Log Dir:     %s\n", cfg.Log.Dir)
		fmt.Printf("Log Level:   %s\n", cfg.Log.Level)
		if cfg.Metrics.Addr != "" {
			fmt.Printf("Metrics:     %s\n", cfg.Metrics.Addr)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Config file (default $BIBLFS_CONFIG_PATH or ~/.config/biblfs.toml)")
	rootCmd.PersistentFlags().String("database", defaultDatabase, "Bibliothecula database file")
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase verbosity (-vv traces kernel requests)")

	// mount flags
	rootCmd.Flags().String("mount-point", "", "Directory to mount the filesystem on")
	rootCmd.Flags().Bool("read-only", false, "Open the database read-only")
	rootCmd.Flags().Bool("fsck", false, "Check the database before mounting (not implemented)")
	rootCmd.Flags().Bool("never-replace-common-tags", false, "Refuse to overwrite tags shared with other documents")
	rootCmd.Flags().Bool("allow-other", false, "Allow other users to access the mount")
	rootCmd.Flags().String("metrics-addr", "", "Serve prometheus metrics on this address")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// root commands
	rootCmd.AddCommand(treeCmd)
	rootCmd.AddCommand(initDBCmd)
	rootCmd.AddCommand(configCmd)
}
