package commands

import (
	"encoding/json"
	"fmt"

	"github.com/pelletier/go-toml/v2"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/pulseq/am"
	"github.com/teranos/pulseq/sym"
)

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: sym.AM + " Show pulseq configuration",
	Long: sym.AM + ` am: show pulseq configuration ("I am")

Configuration sources (in order of precedence):
1. --config file, when given (replaces 3-5)
2. Environment variables (PULSEQ_* prefix, DB_PATH, DATABASE_URL, RABBITMQ_URL)
3. Project config (nearest pulseq.toml, walking up from the working directory)
4. User config (~/.pulseq/config.toml)
5. System config (/etc/pulseq/config.toml)
6. Default values

Examples:
  pulseq am show                  # Effective configuration as TOML
  pulseq am show --format json    # ... as JSON
  pulseq am where                 # Which source set each value
  pulseq am check                 # Flag unrecognised keys (typos)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runAmShow,
}

var amCheckCmd = &cobra.Command{
	Use:   "check [file]",
	Short: "Report config keys that pulseq does not recognise",
	Long: `Check config files for keys that no setting reads (usually typos).
With no argument, checks every file that was merged into the current config.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAmCheck,
}

var amWhereCmd = &cobra.Command{
	Use:   "where",
	Short: "Show where each configuration value comes from",
	RunE:  runAmWhere,
}

func init() {
	amShowCmd.Flags().String("format", "toml", "Output format: toml, json, yaml")

	AmCmd.AddCommand(amShowCmd)
	AmCmd.AddCommand(amWhereCmd)
	AmCmd.AddCommand(amCheckCmd)
}

func runAmCheck(cmd *cobra.Command, args []string) error {
	files := args
	if len(files) == 0 {
		files = am.LoadedFiles()
	}
	if len(files) == 0 {
		pterm.Info.Println("No config files to check")
		return nil
	}

	unknown := 0
	for _, path := range files {
		keys, err := am.UnknownKeys(path)
		if err != nil {
			return err
		}
		for _, key := range keys {
			pterm.Warning.Printf("%s: unknown key %q\n", path, key)
		}
		unknown += len(keys)
	}

	if unknown > 0 {
		return fmt.Errorf("%d unknown config key(s)", unknown)
	}
	fmt.Println("✓ Configuration files are clean")
	return nil
}

func runAmShow(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	out, err := renderConfig(config, format)
	if err != nil {
		return err
	}
	fmt.Print(out)
	return nil
}

// renderConfig encodes cfg in the requested format.
func renderConfig(cfg *am.Config, format string) (string, error) {
	switch format {
	case "json":
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to marshal config to JSON: %w", err)
		}
		return string(data) + "\n", nil

	case "yaml":
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return "", fmt.Errorf("failed to marshal config to YAML: %w", err)
		}
		return "# pulseq configuration\n" + string(data), nil

	case "toml":
		data, err := toml.Marshal(cfg)
		if err != nil {
			return "", fmt.Errorf("failed to marshal config to TOML: %w", err)
		}
		return "# pulseq configuration\n" + string(data), nil

	default:
		return "", fmt.Errorf("unsupported format: %s (supported: toml, json, yaml)", format)
	}
}

func runAmWhere(cmd *cobra.Command, args []string) error {
	intro, err := am.GetConfigIntrospection()
	if err != nil {
		return fmt.Errorf("failed to get config introspection: %w", err)
	}

	if len(intro.Files) == 0 {
		pterm.Info.Println("No config files found; using defaults and environment")
	} else {
		pterm.Info.Println("Config files (lowest precedence first):")
		for _, f := range intro.Files {
			pterm.Printf("  %s\n", f)
		}
	}
	pterm.Println()

	data := pterm.TableData{{"Key", "Value", "Source", "From"}}
	for _, s := range intro.Settings {
		data = append(data, []string{s.Key, fmt.Sprint(s.Value), string(s.Source), s.SourcePath})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}
