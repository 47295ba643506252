package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "mend"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage mend configuration.

Running bare 'mend config' is the same as 'mend config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

// configTemplate is the template for generating config.yaml with comments.
const configTemplate = `# mend configuration
# See: mend config show (for effective values and sources)

# SQLite database path (default: ~/.config/mend/mend.db)
# db_path: {{ .DBPath }}

# Mirror of the repository under review
mirror:
  # Remote to clone and keep synchronized (required)
  remote: "{{ .MirrorRemote }}"

  # Branch to track (default: main)
  branch: "{{ .MirrorBranch }}"

  # Local working copy path (default: ~/.config/mend/mirror)
  # path: {{ .MirrorPath }}

# Verification command, run from the mirror root on each approved proposal
test_command: [{{ .TestCommand }}]

# How often the reconcile loop verifies and publishes (default: 15m)
reconcile_interval: "{{ .ReconcileInterval }}"

# Reviewer definitions file; empty uses the built-in roles
# reviewers_file: ""

# Publishing
publish:
  # Base branch proposals are opened against (default: main)
  base_branch: "{{ .BaseBranch }}"

# Anthropic API for the suggestion engine
anthropic:
  # API key; falls back to ANTHROPIC_API_KEY
  api_key: ""

  # Model used for suggestions
  model: "{{ .AnthropicModel }}"
`

type configTemplateData struct {
	DBPath            string
	MirrorRemote      string
	MirrorBranch      string
	MirrorPath        string
	TestCommand       string
	ReconcileInterval string
	BaseBranch        string
	AnthropicModel    string
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if file already exists
	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	testCmd := viper.GetStringSlice("test_command")
	quoted := make([]string, len(testCmd))
	for i, arg := range testCmd {
		quoted[i] = fmt.Sprintf("%q", arg)
	}

	data := configTemplateData{
		DBPath:            viper.GetString("db_path"),
		MirrorRemote:      viper.GetString("mirror.remote"),
		MirrorBranch:      viper.GetString("mirror.branch"),
		MirrorPath:        viper.GetString("mirror.path"),
		TestCommand:       strings.Join(quoted, ", "),
		ReconcileInterval: viper.GetString("reconcile_interval"),
		BaseBranch:        viper.GetString("publish.base_branch"),
		AnthropicModel:    viper.GetString("anthropic.model"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("template parse error: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("template execute error: %w", err)
	}

	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(cfgPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, buf.String())
	return nil
}

// configKeyInfo describes a config key for display purposes.
type configKeyInfo struct {
	Key    string
	EnvVar string
}

var configKeys = []configKeyInfo{
	{Key: "db_path", EnvVar: "MEND_DB_PATH"},
	{Key: "mirror.remote", EnvVar: "MEND_MIRROR_REMOTE"},
	{Key: "mirror.branch", EnvVar: "MEND_MIRROR_BRANCH"},
	{Key: "mirror.path", EnvVar: "MEND_MIRROR_PATH"},
	{Key: "test_command", EnvVar: "MEND_TEST_COMMAND"},
	{Key: "reconcile_interval", EnvVar: "MEND_RECONCILE_INTERVAL"},
	{Key: "reviewers_file", EnvVar: "MEND_REVIEWERS_FILE"},
	{Key: "publish.base_branch", EnvVar: "MEND_PUBLISH_BASE_BRANCH"},
	{Key: "anthropic.model", EnvVar: "MEND_ANTHROPIC_MODEL"},
	{Key: "port", EnvVar: "MEND_PORT"},
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if config file exists
	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	// Read config file values to determine file source
	fileValues := readConfigFileValues(cfgPath)

	for _, k := range configKeys {
		val := viper.Get(k.Key)
		source := detectSource(k.Key, k.EnvVar, fileValues)
		fmt.Fprintf(ui.Out, "  %-22s %v  %s\n", k.Key, val, source)
	}

	return nil
}

// readConfigFileValues reads the raw YAML file and returns a flat map of keys present in it.
func readConfigFileValues(path string) map[string]bool {
	result := make(map[string]bool)

	data, err := os.ReadFile(path)
	if err != nil {
		return result
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return result
	}

	// Flatten nested keys with dot notation
	flattenKeys("", parsed, result)
	return result
}

// flattenKeys recursively flattens a nested map to dot-notation keys.
func flattenKeys(prefix string, m map[string]any, result map[string]bool) {
	for key, val := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			flattenKeys(fullKey, nested, result)
		} else {
			result[fullKey] = true
		}
	}
}

// detectSource determines where a config value is coming from.
func detectSource(key, envVar string, fileValues map[string]bool) string {
	if _, ok := os.LookupEnv(envVar); ok {
		return fmt.Sprintf("(env: %s)", envVar)
	}
	if fileValues[key] {
		return "(file)"
	}
	return "(default)"
}

func configEditRun() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set; set it to your preferred editor (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'mend config init' first)", cfgPath)
	}

	editCmd := exec.Command(editor, cfgPath)
	editCmd.Stdin = os.Stdin
	editCmd.Stdout = os.Stdout
	editCmd.Stderr = os.Stderr
	return editCmd.Run()
}
