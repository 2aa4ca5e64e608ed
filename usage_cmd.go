package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dgnsrekt/speechkit/internal/usage"
)

var (
	exportFormat string
	exportOutput string
	clearYes     bool

	newLimits usage.Limits

	usageCmd = &cobra.Command{
		Use:   "usage",
		Short: "Show usage and estimated cost",
		Long:  paragraph(fmt.Sprintf("\nShow request counts and %s for today, the last 7 and 30 days and all time.", keyword("estimated cost"))),
		Args:  cobra.NoArgs,
		RunE:  runUsageStats,
	}

	usageLimitsCmd = &cobra.Command{
		Use:   "limits",
		Short: "Show daily limits and how close today is to them",
		Args:  cobra.NoArgs,
		RunE:  runUsageLimits,
	}

	usageSetLimitsCmd = &cobra.Command{
		Use:   "set",
		Short: "Change daily limits in the ledger",
		Long:  paragraph("\nChange the daily ceilings stored with the usage ledger. Limits in the config file take precedence when the service starts. Zero disables a ceiling."),
		Example: paragraph("speechkit usage limits set --max-total-cost-cents 2000\n" +
			"speechkit usage limits set --max-synthesize-requests 0"),
		Args: cobra.NoArgs,
		RunE: runUsageSetLimits,
	}

	usageExportCmd = &cobra.Command{
		Use:   "export",
		Short: "Export every usage record",
		Args:  cobra.NoArgs,
		RunE:  runUsageExport,
	}

	usageClearCmd = &cobra.Command{
		Use:   "clear",
		Short: "Delete all usage records and reset limits",
		Args:  cobra.NoArgs,
		RunE:  runUsageClear,
	}
)

func runUsageStats(cmd *cobra.Command, _ []string) error {
	ledger, st, err := openLedger()
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	printStats(cmd.OutOrStdout(), ledger.Stats(), ledger.Today())
	return nil
}

func printStats(w io.Writer, s usage.Stats, today usage.DailyAggregate) {
	row := func(label string, p usage.Period) {
		fmt.Fprintf(w, "%s %s requests  %s\n",
			labelCell(label),
			humanize.Comma(int64(p.Requests)),
			keyword(formatCents(p.CostCents)))
	}

	fmt.Fprintln(w, heading("Usage"))
	row("Today", s.Today)
	row("Last 7 days", s.Last7Days)
	row("Last 30 days", s.Last30Days)
	row("All time", s.AllTime)
	if !s.AllTime.FirstUse.IsZero() {
		fmt.Fprintln(w, subtle("First use "+humanize.Time(s.AllTime.FirstUse)))
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, heading("Today"))
	fmt.Fprintf(w, "%s %d requests, %s, %.0fs of audio  %s\n",
		labelCell("Transcribe"),
		today.Transcribe.Count,
		humanize.Bytes(uint64(today.Transcribe.TotalBytes)), //nolint:gosec
		today.Transcribe.TotalDurationSec,
		keyword(formatCents(today.Transcribe.CostCents)))
	fmt.Fprintf(w, "%s %d requests, %s characters  %s\n",
		labelCell("Synthesize"),
		today.Synthesize.Count,
		humanize.Comma(today.Synthesize.TotalChars),
		keyword(formatCents(today.Synthesize.CostCents)))
}

func runUsageLimits(cmd *cobra.Command, _ []string) error {
	ledger, st, err := openLedger()
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	// the ledger only learns config limits once a service starts
	if err := ledger.SetLimits(cfg.UsageLimits()); err != nil {
		return err
	}
	printLimits(cmd.OutOrStdout(), ledger.Limits(), ledger.CheckLimits(), cfg.EnforceLimits)
	return nil
}

func printLimits(w io.Writer, l usage.Limits, status usage.LimitStatus, enforced bool) {
	show := func(label string, v int64, unit func(int64) string) {
		val := "off"
		if v > 0 {
			val = unit(v)
		}
		fmt.Fprintf(w, "%s %s\n", labelCell(label), val)
	}
	count := func(v int64) string { return humanize.Comma(v) }

	fmt.Fprintln(w, heading("Daily limits"))
	show("Transcribe", int64(l.MaxTranscribeRequests), count)
	show("Synthesize", int64(l.MaxSynthesizeRequests), count)
	show("STT cost", l.MaxTranscribeCostCents, formatCents)
	show("TTS cost", l.MaxSynthesizeCostCents, formatCents)
	show("Total cost", l.MaxTotalCostCents, formatCents)
	if !enforced {
		fmt.Fprintln(w, subtle("Limits are reported but not enforced."))
	}

	fmt.Fprintln(w)
	switch {
	case !status.WithinLimits:
		fmt.Fprintln(w, danger("A daily limit has been reached."))
	case len(status.Warnings) == 0:
		fmt.Fprintln(w, keyword("Well within limits."))
	}
	for _, warn := range status.Warnings {
		style := warning
		if warn.Used >= warn.Limit {
			style = danger
		}
		fmt.Fprintln(w, style(warn.Message))
	}
}

func runUsageSetLimits(cmd *cobra.Command, _ []string) error {
	ledger, st, err := openLedger()
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	l := ledger.Limits()
	flags := cmd.Flags()
	if flags.Changed("max-transcribe-requests") {
		l.MaxTranscribeRequests = newLimits.MaxTranscribeRequests
	}
	if flags.Changed("max-synthesize-requests") {
		l.MaxSynthesizeRequests = newLimits.MaxSynthesizeRequests
	}
	if flags.Changed("max-transcribe-cost-cents") {
		l.MaxTranscribeCostCents = newLimits.MaxTranscribeCostCents
	}
	if flags.Changed("max-synthesize-cost-cents") {
		l.MaxSynthesizeCostCents = newLimits.MaxSynthesizeCostCents
	}
	if flags.Changed("max-total-cost-cents") {
		l.MaxTotalCostCents = newLimits.MaxTotalCostCents
	}

	if err := ledger.SetLimits(l); err != nil {
		return err
	}
	printLimits(cmd.OutOrStdout(), ledger.Limits(), ledger.CheckLimits(), cfg.EnforceLimits)
	return nil
}

func runUsageExport(cmd *cobra.Command, _ []string) error {
	ledger, st, err := openLedger()
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	w := cmd.OutOrStdout()
	if exportOutput != "" {
		f, err := os.Create(exportOutput)
		if err != nil {
			return fmt.Errorf("unable to create export file: %w", err)
		}
		defer func() { _ = f.Close() }()
		w = f
	}
	return writeExport(w, ledger.Export(), exportFormat)
}

func writeExport(w io.Writer, e usage.Export, format string) error {
	switch strings.ToLower(format) {
	case "json", "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(e)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(e); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported export format %q: use json or yaml", format)
	}
}

func runUsageClear(cmd *cobra.Command, _ []string) error {
	if !clearYes {
		return errors.New("this deletes every usage record; pass --yes to confirm")
	}
	ledger, st, err := openLedger()
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	if err := ledger.Clear(); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Usage data cleared.")
	return nil
}

func formatCents(c int64) string {
	return fmt.Sprintf("$%d.%02d", c/100, c%100)
}

func init() {
	usageExportCmd.Flags().StringVarP(&exportFormat, "format", "f", "json", "export format (json or yaml)")
	usageExportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "write to a file instead of stdout")
	usageClearCmd.Flags().BoolVarP(&clearYes, "yes", "y", false, "confirm deletion")

	f := usageSetLimitsCmd.Flags()
	f.IntVar(&newLimits.MaxTranscribeRequests, "max-transcribe-requests", 0, "daily transcription requests")
	f.IntVar(&newLimits.MaxSynthesizeRequests, "max-synthesize-requests", 0, "daily synthesis requests")
	f.Int64Var(&newLimits.MaxTranscribeCostCents, "max-transcribe-cost-cents", 0, "daily transcription cost in cents")
	f.Int64Var(&newLimits.MaxSynthesizeCostCents, "max-synthesize-cost-cents", 0, "daily synthesis cost in cents")
	f.Int64Var(&newLimits.MaxTotalCostCents, "max-total-cost-cents", 0, "daily total cost in cents")

	usageLimitsCmd.AddCommand(usageSetLimitsCmd)
	usageCmd.AddCommand(usageLimitsCmd, usageExportCmd, usageClearCmd)
}
