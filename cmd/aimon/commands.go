package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/eliteGoblin/focusd/ai_mon/internal/daemon"
	"github.com/eliteGoblin/focusd/ai_mon/internal/domain"
	"github.com/eliteGoblin/focusd/ai_mon/internal/infra"
	"github.com/eliteGoblin/focusd/ai_mon/internal/policy"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show host, block and violation status",
	RunE:  runStatus,
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear the block and the red violation counters",
	RunE:  runReset,
}

var countsCmd = &cobra.Command{
	Use:   "counts",
	Short: "Show 30-day message counts per tier",
	RunE:  runCounts,
}

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Show the recent activity log",
	RunE:  runLog,
}

var classifyCmd = &cobra.Command{
	Use:   "classify <text>",
	Short: "Classify a chat message",
	Long: `Classifies text with the configured keywords. With --record the message
is recorded like one sent from the browser and may trigger a block.`,
	Args: cobra.ExactArgs(1),
	RunE: runClassify,
}

var checkCmd = &cobra.Command{
	Use:   "check <url>",
	Short: "Show how a URL would be evaluated",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheck,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream events from the running host",
	RunE:  runWatch,
}

var (
	statusJSON   bool
	logLimit     int
	recordMsg    bool
	classifySite string
)

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output status as JSON")
	logCmd.Flags().IntVarP(&logLimit, "limit", "n", 0, "Number of entries (default 50, max 100)")
	classifyCmd.Flags().BoolVar(&recordMsg, "record", false, "Record the message and count violations")
	classifyCmd.Flags().StringVar(&classifySite, "platform", "", "Platform name for the activity log")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(countsCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(watchCmd)
}

// statusReport is the status command's JSON output.
type statusReport struct {
	Host   string                 `json:"host"`
	PID    int                    `json:"pid,omitempty"`
	Block  domain.BlockStatus     `json:"block"`
	Counts domain.ViolationCounts `json:"counts"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	return withCaller(func(ctx context.Context, c caller, remote bool) error {
		report := statusReport{Host: "NOT RUNNING"}
		if remote {
			report.Host = "RUNNING"
		} else if rec, ok := hostRecord(ctx, c); ok {
			report.Host = "RUNNING (control socket unavailable)"
			report.PID = rec.PID
		}

		if err := c.Call(ctx, domain.GetBlockStatus{}, &report.Block); err != nil {
			return err
		}
		if err := c.Call(ctx, domain.GetViolationCounts{}, &report.Counts); err != nil {
			return err
		}

		if statusJSON {
			return writeJSON(cmd.OutOrStdout(), report)
		}
		printStatus(cmd.OutOrStdout(), report, time.Now())
		return nil
	})
}

// hostRecord returns the stored record of a live host. Only the local caller
// can see it.
func hostRecord(ctx context.Context, c caller) (domain.HostRecord, bool) {
	local, ok := c.(*localCaller)
	if !ok {
		return domain.HostRecord{}, false
	}
	rec, ok := local.rt.repo.LoadHostRecord(ctx)
	if !ok {
		return domain.HostRecord{}, false
	}
	maxAge := 3 * daemon.DefaultRouterConfig().HeartbeatInterval
	if rec.IsStale(time.Now(), maxAge) || !infra.NewProcessInspector().IsRunning(rec.PID) {
		return domain.HostRecord{}, false
	}
	return rec, true
}

func printStatus(w io.Writer, r statusReport, now time.Time) {
	fmt.Fprintln(w, "\n=== aimon Status ===")
	if r.PID != 0 {
		fmt.Fprintf(w, "Host: %s, pid %d\n", r.Host, r.PID)
	} else {
		fmt.Fprintf(w, "Host: %s\n", r.Host)
	}

	if r.Block.IsBlocked {
		fmt.Fprintf(w, "\nAI tools: BLOCKED (%s remaining)\n", r.Block.Remaining(now).Round(time.Second))
		if r.Block.BlockEndTime != nil {
			fmt.Fprintf(w, "Block ends: %s\n", r.Block.BlockEndTime.Local().Format(time.RFC3339))
		}
	} else {
		fmt.Fprintln(w, "\nAI tools: allowed")
	}
	fmt.Fprintf(w, "Consecutive red violations: %d/%d\n",
		r.Block.ConsecutiveViolationCount, r.Block.ViolationThreshold)

	fmt.Fprintln(w, "\nMessages (30 days):")
	for _, tier := range []domain.Tier{domain.Red, domain.Yellow, domain.Green} {
		fmt.Fprintf(w, "  %-7s %d\n", tier.String()+":", r.Counts[tier])
	}
}

func runReset(cmd *cobra.Command, args []string) error {
	return withCaller(func(ctx context.Context, c caller, remote bool) error {
		var status domain.BlockStatus
		if err := c.Call(ctx, domain.ResetBlock{}, &status); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Block cleared, red violations reset.")
		return nil
	})
}

func runCounts(cmd *cobra.Command, args []string) error {
	return withCaller(func(ctx context.Context, c caller, remote bool) error {
		var counts domain.ViolationCounts
		if err := c.Call(ctx, domain.GetViolationCounts{}, &counts); err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), counts)
	})
}

func runLog(cmd *cobra.Command, args []string) error {
	return withCaller(func(ctx context.Context, c caller, remote bool) error {
		var entries []domain.ActivityEntry
		if err := c.Call(ctx, domain.GetActivityLog{Limit: logLimit}, &entries); err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No activity recorded.")
			return nil
		}
		printActivity(cmd.OutOrStdout(), entries)
		return nil
	})
}

func printActivity(w io.Writer, entries []domain.ActivityEntry) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tTIER\tCONTEXT\tREASON\tURL")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Local().Format("2006-01-02 15:04:05"), e.Tier, e.ContextID, e.Reason, e.URL)
	}
	tw.Flush()
}

func runClassify(cmd *cobra.Command, args []string) error {
	text := args[0]
	if !recordMsg {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		kw := policy.MergeKeywords(policy.DefaultKeywords(), cfg.Keywords)
		fmt.Fprintln(cmd.OutOrStdout(), policy.NewClassifier(kw).Classify(text))
		return nil
	}

	return withCaller(func(ctx context.Context, c caller, remote bool) error {
		var res daemon.TierResult
		err := c.Call(ctx, domain.ClassifyAndRecord{
			ContextID: "cli",
			Text:      text,
			Timestamp: time.Now(),
			Platform:  classifySite,
		}, &res)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), res.Tier)
		return nil
	})
}

func runCheck(cmd *cobra.Command, args []string) error {
	return withCaller(func(ctx context.Context, c caller, remote bool) error {
		var rules domain.RuleOverrides
		if err := c.Call(ctx, domain.GetRules{}, &rules); err != nil {
			return err
		}
		ev := policy.NewRegistryWithRules(rules).Evaluate(policy.NormalizeURL(args[0]))

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Tier:   %s\n", ev.Tier)
		fmt.Fprintf(w, "Reason: %s\n", ev.Reason)
		if ev.IsAI {
			fmt.Fprintf(w, "AI tool: %s (%s)\n", ev.AITool.Name, ev.AITool.Pattern)
		}
		if ev.IsPlatform {
			fmt.Fprintf(w, "Platform: %s (%s)\n", ev.Platform.Name, ev.Platform.Pattern)
		}
		return nil
	})
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signalContext()
	defer stop()

	client, err := daemon.Dial(ctx, cfg.SocketPath())
	if err != nil {
		return err
	}
	defer client.Close()

	w := cmd.OutOrStdout()
	return client.Subscribe(ctx, func(ev daemon.EventMessage) {
		fmt.Fprintf(w, "%s %s %s\n", time.Now().Format(time.TimeOnly), ev.Type, ev.Payload)
	})
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
