package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/eliteGoblin/focusd/ai_mon/internal/config"
	"github.com/eliteGoblin/focusd/ai_mon/internal/domain"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "List the active AI website and academic platform rules",
	RunE:  runRulesList,
}

var rulesImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Replace rule overrides from a yaml, toml or json file",
	Long: `Imports rule overrides. Each category present in the file replaces the
built-in list for that category; absent categories keep their rules.`,
	Args: cobra.ExactArgs(1),
	RunE: runRulesImport,
}

var rulesResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Drop rule overrides and return to the configured rules",
	RunE:  runRulesReset,
}

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Show the active policy",
	RunE:  runPolicyShow,
}

var policySetCmd = &cobra.Command{
	Use:   "set",
	Short: "Change the policy",
	Long: `Changes the policy of the running host, or of the stored state when no host
is running. The change persists across restarts. Editing the policy section of
the config file later replaces it again; edits to other sections do not.`,
	RunE: runPolicySet,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the config file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config file with the built-in rules",
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective config",
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the config file",
	RunE:  runConfigValidate,
}

var manifestCmd = &cobra.Command{
	Use:   "manifest",
	Short: "Print the native messaging host manifest",
	Long: `Prints the manifest the browser needs to launch aimon. Install it in the
browser's NativeMessagingHosts directory as <name>.json.`,
	RunE: runManifest,
}

var (
	policyEnabled   bool
	policyThreshold int
	policyDuration  int

	configForce bool

	manifestBrowser string
	manifestIDs     []string
	manifestOutput  string
)

func init() {
	policySetCmd.Flags().BoolVar(&policyEnabled, "enabled", true, "Enable blocking")
	policySetCmd.Flags().IntVar(&policyThreshold, "threshold", 0, "Consecutive red violations before a block")
	policySetCmd.Flags().IntVar(&policyDuration, "duration", 0, "Block duration in minutes (at most one week)")

	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing file")

	manifestCmd.Flags().StringVar(&manifestBrowser, "browser", "chrome", "Browser: chrome or firefox")
	manifestCmd.Flags().StringSliceVar(&manifestIDs, "extension-id", nil, "Extension ID or origin (default host.allowed_origins)")
	manifestCmd.Flags().StringVarP(&manifestOutput, "output", "o", "", "Write to file instead of stdout")

	rulesCmd.AddCommand(rulesImportCmd)
	rulesCmd.AddCommand(rulesResetCmd)
	policyCmd.AddCommand(policySetCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)

	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(policyCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(manifestCmd)
}

func runRulesList(cmd *cobra.Command, args []string) error {
	return withCaller(func(ctx context.Context, c caller, remote bool) error {
		var rules domain.RuleOverrides
		if err := c.Call(ctx, domain.GetRules{}, &rules); err != nil {
			return err
		}
		printRules(cmd.OutOrStdout(), rules)
		return nil
	})
}

func printRules(w io.Writer, rules domain.RuleOverrides) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CATEGORY\tNAME\tPATTERN")
	for _, r := range rules.AIWebsites {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", domain.CategoryAIWebsite, r.Name, r.Pattern)
	}
	for _, r := range rules.AcademicPlatforms {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", domain.CategoryAcademicPlatform, r.Name, r.Pattern)
	}
	tw.Flush()
}

func runRulesImport(cmd *cobra.Command, args []string) error {
	var overrides domain.RuleOverrides
	if err := config.DecodeFile(args[0], &overrides); err != nil {
		return err
	}
	if overrides.IsEmpty() {
		return fmt.Errorf("%s has no ai_websites or academic_platforms", args[0])
	}
	return reconfigureRules(cmd, overrides)
}

func runRulesReset(cmd *cobra.Command, args []string) error {
	return reconfigureRules(cmd, domain.RuleOverrides{})
}

func reconfigureRules(cmd *cobra.Command, overrides domain.RuleOverrides) error {
	return withCaller(func(ctx context.Context, c caller, remote bool) error {
		var rules domain.RuleOverrides
		if err := c.Call(ctx, domain.ReconfigureRules{Overrides: overrides}, &rules); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Rules updated: %d AI websites, %d academic platforms\n",
			len(rules.AIWebsites), len(rules.AcademicPlatforms))
		return nil
	})
}

func runPolicyShow(cmd *cobra.Command, args []string) error {
	return withCaller(func(ctx context.Context, c caller, remote bool) error {
		var cfg domain.PolicyConfig
		if err := c.Call(ctx, domain.GetPolicy{}, &cfg); err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), cfg)
	})
}

func runPolicySet(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	if !flags.Changed("enabled") && !flags.Changed("threshold") && !flags.Changed("duration") {
		return fmt.Errorf("nothing to set: pass --enabled, --threshold or --duration")
	}

	return withCaller(func(ctx context.Context, c caller, remote bool) error {
		var cfg domain.PolicyConfig
		if err := c.Call(ctx, domain.GetPolicy{}, &cfg); err != nil {
			return err
		}
		cfg = mergePolicyFlags(cfg, flags.Changed)
		if err := c.Call(ctx, domain.ReconfigurePolicy{Config: cfg}, &cfg); err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), cfg)
	})
}

// mergePolicyFlags applies the policy set flags that changed.
func mergePolicyFlags(cfg domain.PolicyConfig, changed func(string) bool) domain.PolicyConfig {
	if changed("enabled") {
		cfg.Enabled = policyEnabled
	}
	if changed("threshold") {
		cfg.ViolationThreshold = policyThreshold
	}
	if changed("duration") {
		cfg.BlockDurationMinutes = policyDuration
	}
	return cfg
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	if err := config.WriteFile(configPath, config.TemplateConfig(), configForce); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", configPath)
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return err
	}
	data, err := config.Encode(configPath, cfg)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s does not exist, built-in defaults apply\n", configPath)
		return nil
	}
	if _, err := config.LoadFile(configPath); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s is valid\n", configPath)
	return nil
}

// nativeManifest is the browser's native messaging host manifest.
type nativeManifest struct {
	Name              string   `json:"name"`
	Description       string   `json:"description"`
	Path              string   `json:"path"`
	Type              string   `json:"type"`
	AllowedOrigins    []string `json:"allowed_origins,omitempty"`
	AllowedExtensions []string `json:"allowed_extensions,omitempty"`
}

// buildManifest fills in the manifest for browser. Chrome IDs are turned
// into chrome-extension:// origins; Firefox takes extension IDs as given.
func buildManifest(browser, name, binPath string, ids []string) (nativeManifest, error) {
	if len(ids) == 0 {
		return nativeManifest{}, fmt.Errorf("no extension id: pass --extension-id or set host.allowed_origins")
	}
	m := nativeManifest{
		Name:        name,
		Description: "aimon AI usage monitor",
		Path:        binPath,
		Type:        "stdio",
	}
	switch browser {
	case "chrome", "chromium", "edge", "brave":
		for _, id := range ids {
			if !strings.HasPrefix(id, "chrome-extension://") {
				id = "chrome-extension://" + id + "/"
			}
			m.AllowedOrigins = append(m.AllowedOrigins, id)
		}
	case "firefox":
		m.AllowedExtensions = append(m.AllowedExtensions, ids...)
	default:
		return nativeManifest{}, fmt.Errorf("unknown browser %q", browser)
	}
	return m, nil
}

func runManifest(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return err
	}
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to resolve executable: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}

	ids := manifestIDs
	if len(ids) == 0 {
		ids = cfg.Host.AllowedOrigins
	}
	m, err := buildManifest(manifestBrowser, cfg.Host.Name, exe, ids)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	if manifestOutput == "" {
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.MkdirAll(filepath.Dir(manifestOutput), 0755); err != nil {
		return fmt.Errorf("failed to create manifest directory: %w", err)
	}
	if err := os.WriteFile(manifestOutput, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", manifestOutput)
	return nil
}
