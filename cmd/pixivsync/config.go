package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"pixivsync/pkg/config"
	"pixivsync/pkg/ui"
)

var forceInit bool

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage pixivsync configuration files.

Configuration is loaded from, highest priority first:
  - Command line flags
  - Environment variables (PIXIVSYNC_*, also read from .env)
  - Configuration file (.yaml, .json or .toml)
  - Default values`,
}

// initCmd represents the config init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with the defaults",
	Long: `Write a configuration file holding every option at its default value.

The file is written to --config, or to .pixivsync.yaml in the current
directory. A .toml extension selects TOML.`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

// showCmd represents the config show command
var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long:  `Show the merged configuration. The refresh token is masked.`,
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

// validateCmd represents the config validate command
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Long: `Load the configuration from all sources and check it.

Besides value ranges this checks that the save paths, the ledger directory
and the log directory can be created.`,
	Args: cobra.NoArgs,
	RunE: runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(initCmd)
	configCmd.AddCommand(showCmd)
	configCmd.AddCommand(validateCmd)

	initCmd.Flags().BoolVar(&forceInit, "force", false, "overwrite an existing file")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	configPath := configFile
	if configPath == "" {
		configPath = ".pixivsync.yaml"
	}

	if _, err := os.Stat(configPath); err == nil && !forceInit {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", configPath)
	}

	if err := config.DefaultConfig().Save(configPath); err != nil {
		return err
	}

	ui.PrintSuccess("Configuration file created: " + configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("1. Store a refresh token with 'pixivsync auth login'")
	fmt.Println("2. Adjust save paths and work types in the file")
	fmt.Println("3. Run 'pixivsync config validate', then 'pixivsync sync'")
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, nil)
	if err != nil {
		return err
	}

	display := *cfg
	display.Pixiv.RefreshToken = maskSecret(display.Pixiv.RefreshToken)

	data, err := yaml.Marshal(&display)
	if err != nil {
		return fmt.Errorf("failed to format configuration: %w", err)
	}

	ui.PrintHighlight("Current Configuration")
	fmt.Println()
	fmt.Print(string(data))

	fmt.Println("\nConfiguration sources (in order of priority):")
	fmt.Println("1. Command line flags")
	fmt.Println("2. Environment variables (" + config.EnvPrefix + "*)")
	if configFile != "" {
		fmt.Printf("3. Configuration file: %s\n", configFile)
	} else {
		fmt.Println("3. Configuration file: (first found in the default locations)")
	}
	fmt.Println("4. Default values")
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, nil)
	if err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	var problems, warnings []string

	if cfg.Pixiv.RefreshToken == "" {
		warnings = append(warnings, "no refresh token in the configuration, a stored account will be used")
	}
	for name, cat := range map[string]config.CategoryConfig{
		"follow":   cfg.Follow,
		"favorite": cfg.Favorite,
		"ranking":  cfg.Ranking,
	} {
		if !cat.Enabled {
			continue
		}
		if name != "follow" {
			warnings = append(warnings, name+" sync is not supported yet and will be skipped")
			continue
		}
		if !cat.Type.Illust && !cat.Type.Manga && !cat.Type.Novel {
			warnings = append(warnings, name+" is enabled but selects no work type")
		}
		if err := os.MkdirAll(cat.SavePath, 0755); err != nil {
			problems = append(problems, fmt.Sprintf("cannot create %s save path: %v", name, err))
		}
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Ledger.Path), 0755); err != nil {
		problems = append(problems, fmt.Sprintf("cannot create ledger directory: %v", err))
	}
	if cfg.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0755); err != nil {
			problems = append(problems, fmt.Sprintf("cannot create log directory: %v", err))
		}
	}

	if len(problems) > 0 {
		ui.PrintError("Configuration has errors")
		for _, p := range problems {
			fmt.Printf("  - %s\n", p)
		}
		return fmt.Errorf("%d configuration errors", len(problems))
	}

	if len(warnings) > 0 {
		ui.PrintWarning("Configuration warnings")
		for _, w := range warnings {
			fmt.Printf("  - %s\n", w)
		}
		fmt.Println()
	}

	ui.PrintSuccess("Configuration is valid")
	fmt.Println("\nConfiguration summary:")
	fmt.Printf("  Save path: %s\n", cfg.Follow.SavePath)
	fmt.Printf("  Ledger: %s\n", cfg.Ledger.Path)
	fmt.Printf("  Concurrent downloads: %d\n", cfg.Download.ConcurrentDownloads)
	fmt.Printf("  Page delay: %s\n", cfg.Pagination.Delay)
	fmt.Printf("  Rate limit: %d requests/minute (%s)\n", cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Strategy)
	fmt.Printf("  Log level: %s\n", cfg.Logging.Level)
	return nil
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "..." + s[len(s)-4:]
}
