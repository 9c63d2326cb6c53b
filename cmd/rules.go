// Package cmd provides command-line interface commands for SecuriWatch.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"securiwatch/config"
	"securiwatch/core"
	"securiwatch/storage"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// CLI output formatters
var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
)

var (
	configFile string
	noColor    bool
)

// maxImportFileSize caps rule files at 10MB as protection against memory
// exhaustion from a bad path argument.
const maxImportFileSize = 10 * 1024 * 1024

const cliTimeout = 1 * time.Minute

// ruleDefinition is the YAML shape of one rule in an import file.
type ruleDefinition struct {
	ID             string                 `yaml:"id"`
	Name           string                 `yaml:"name"`
	Type           string                 `yaml:"type"`
	Description    string                 `yaml:"description"`
	Condition      map[string]interface{} `yaml:"condition"`
	Severity       string                 `yaml:"severity"`
	Enabled        *bool                  `yaml:"enabled"`
	WindowSeconds  int                    `yaml:"window_seconds"`
	GroupBy        []string               `yaml:"group_by"`
	Threshold      int                    `yaml:"threshold"`
	BaseConfidence float64                `yaml:"base_confidence"`
	CreatedBy      string                 `yaml:"created_by"`
}

type ruleImportFile struct {
	Rules []ruleDefinition `yaml:"rules"`
}

// NewRulesCmd creates the root rules command with all subcommands.
func NewRulesCmd() *cobra.Command {
	rulesCmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage detection rules",
		Long: `Manage detection rules: import rule files, list rules, and toggle them.

Rule files are YAML documents with a top-level "rules" list. Each rule carries
a condition document that is validated before import; invalid rules are
reported and skipped without aborting the rest of the file.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.NoColor = true
			}
		},
	}

	rulesCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file path")
	rulesCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	rulesCmd.AddCommand(newImportCmd())
	rulesCmd.AddCommand(newListCmd())
	rulesCmd.AddCommand(newEnableCmd())
	rulesCmd.AddCommand(newDisableCmd())

	return rulesCmd
}

func openRuleStore() (*storage.SQLite, *storage.SQLiteRuleStore, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	db, err := storage.NewSQLite(cfg.DataPaths.SQLitePath, zap.NewNop().Sugar())
	if err != nil {
		return nil, nil, err
	}
	return db, storage.NewSQLiteRuleStore(db), nil
}

func newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Import detection rules from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), cliTimeout)
			defer cancel()

			info, err := os.Stat(args[0])
			if err != nil {
				return fmt.Errorf("cannot read rule file: %w", err)
			}
			if info.Size() > maxImportFileSize {
				return fmt.Errorf("rule file too large: %d bytes (max %d)", info.Size(), maxImportFileSize)
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("cannot read rule file: %w", err)
			}

			var file ruleImportFile
			if err := yaml.Unmarshal(data, &file); err != nil {
				return fmt.Errorf("invalid YAML: %w", err)
			}
			if len(file.Rules) == 0 {
				warningColor.Println("No rules found in file")
				return nil
			}

			db, rules, err := openRuleStore()
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			imported, skipped := 0, 0
			for _, def := range file.Rules {
				rule, err := ruleFromDefinition(def)
				if err != nil {
					errorColor.Printf("✗ %s: %v\n", def.Name, err)
					skipped++
					continue
				}
				if err := rules.CreateRule(ctx, rule); err != nil {
					errorColor.Printf("✗ %s: %v\n", rule.Name, err)
					skipped++
					continue
				}
				successColor.Printf("✓ %s (%s, %s)\n", rule.Name, rule.Type, rule.Severity)
				imported++
			}

			infoColor.Printf("\nImported %d rule(s), skipped %d\n", imported, skipped)
			return nil
		},
	}
}

// ruleFromDefinition validates one YAML rule and converts it. The condition
// document is parsed up front so broken rules fail at import time rather than
// being skipped every evaluation cycle.
func ruleFromDefinition(def ruleDefinition) (*core.DetectionRule, error) {
	if def.Name == "" {
		return nil, fmt.Errorf("rule has no name")
	}
	severity := core.Severity(def.Severity)
	if !severity.IsValid() {
		return nil, fmt.Errorf("invalid severity %q", def.Severity)
	}
	switch def.Type {
	case core.RuleTypeThreshold, core.RuleTypePattern, core.RuleTypeSequence:
	default:
		return nil, fmt.Errorf("unknown rule type %q", def.Type)
	}

	id := def.ID
	if id == "" {
		id = uuid.New().String()
	}
	if _, err := core.ParseCondition(id, def.Condition); err != nil {
		return nil, fmt.Errorf("invalid condition: %w", err)
	}

	enabled := true
	if def.Enabled != nil {
		enabled = *def.Enabled
	}

	now := time.Now().UTC()
	rule := &core.DetectionRule{
		ID:             id,
		Name:           def.Name,
		Type:           def.Type,
		Description:    def.Description,
		Condition:      def.Condition,
		Severity:       severity,
		Enabled:        enabled,
		Window:         time.Duration(def.WindowSeconds) * time.Second,
		GroupBy:        def.GroupBy,
		Threshold:      def.Threshold,
		BaseConfidence: def.BaseConfidence,
		CreatedBy:      def.CreatedBy,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if rule.IsWindowed() && rule.Window <= 0 {
		return nil, fmt.Errorf("sequence rule requires window_seconds > 0")
	}
	return rule, nil
}

func newListCmd() *cobra.Command {
	var outputJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all detection rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), cliTimeout)
			defer cancel()

			db, store, err := openRuleStore()
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			rules, err := store.GetAllRules(ctx)
			if err != nil {
				return fmt.Errorf("failed to list rules: %w", err)
			}

			if outputJSON {
				return json.NewEncoder(os.Stdout).Encode(rules)
			}

			if len(rules) == 0 {
				warningColor.Println("No rules configured")
				return nil
			}
			for _, rule := range rules {
				state := "enabled"
				printer := successColor
				if !rule.Enabled {
					state = "disabled"
					printer = warningColor
				}
				printer.Printf("%-36s  %-10s  %-8s  %-8s  %s\n",
					rule.ID, rule.Type, rule.Severity, state, rule.Name)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&outputJSON, "json", false, "Output in JSON format")
	return cmd
}

func newEnableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enable <rule-id>",
		Short: "Enable a detection rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setEnabled(args[0], true)
		},
	}
}

func newDisableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disable <rule-id>",
		Short: "Disable a detection rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setEnabled(args[0], false)
		},
	}
}

func setEnabled(id string, enabled bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), cliTimeout)
	defer cancel()

	db, store, err := openRuleStore()
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	if err := store.SetRuleEnabled(ctx, id, enabled); err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}
	if enabled {
		successColor.Printf("✓ Rule %s enabled\n", id)
	} else {
		warningColor.Printf("✓ Rule %s disabled\n", id)
	}
	return nil
}
