package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/dgnsrekt/speechkit/internal/cache"
	"github.com/dgnsrekt/speechkit/internal/storage"
)

var (
	cacheClearYes bool

	cacheCmd = &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the speech cache",
		Long:  paragraph(fmt.Sprintf("\nSynthesized speech is %s by text, model and format so repeated phrases cost nothing.", keyword("cached"))),
		Args:  cobra.NoArgs,
		RunE:  runCacheStats,
	}

	cacheStatsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Show cache and store usage",
		Args:  cobra.NoArgs,
		RunE:  runCacheStats,
	}

	cacheListCmd = &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List cached phrases, most recently used first",
		Args:    cobra.NoArgs,
		RunE:    runCacheList,
	}

	cacheCleanupCmd = &cobra.Command{
		Use:   "cleanup",
		Short: "Remove expired entries",
		Args:  cobra.NoArgs,
		RunE:  runCacheCleanup,
	}

	cacheClearCmd = &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached phrase",
		Args:  cobra.NoArgs,
		RunE:  runCacheClear,
	}

	cachePreloadCmd = &cobra.Command{
		Use:   "preload",
		Short: "Synthesize and cache common phrases",
		Args:  cobra.NoArgs,
		RunE:  runCachePreload,
	}
)

func runCacheStats(cmd *cobra.Command, _ []string) error {
	rc, st, err := openCache()
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	printCacheStats(cmd.OutOrStdout(), rc.Stats(), st.Stats())
	return nil
}

func printCacheStats(w io.Writer, cs cache.Stats, ss storage.Stats) {
	fmt.Fprintln(w, heading("Cache"))
	fmt.Fprintf(w, "%s %d of %d\n", labelCell("Entries"), cs.Entries, cs.MaxEntries)
	fmt.Fprintf(w, "%s %s of %s\n", labelCell("Size"),
		humanize.IBytes(uint64(cs.Bytes)), humanize.IBytes(uint64(cs.MaxBytes))) //nolint:gosec
	if !cs.Oldest.IsZero() {
		fmt.Fprintf(w, "%s %s\n", labelCell("Oldest"), humanize.Time(cs.Oldest))
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, heading("Store"))
	fmt.Fprintf(w, "%s %s of %s (%.1f%%)\n", labelCell("Used"),
		humanize.IBytes(uint64(ss.UsedBytes)), humanize.IBytes(uint64(ss.QuotaBytes)), ss.UsagePercent) //nolint:gosec
	fmt.Fprintf(w, "%s %d\n", labelCell("Items"), ss.ItemCount)
	if ss.Largest.Key != "" {
		fmt.Fprintf(w, "%s %s %s\n", labelCell("Largest"), ss.Largest.Key,
			subtle(humanize.IBytes(uint64(ss.Largest.Size)))) //nolint:gosec
	}
	if ss.UsagePercent >= 80 {
		fmt.Fprintln(w, warning("The store is nearly full; old items will be reclaimed on the next write."))
	}
}

func runCacheList(cmd *cobra.Command, _ []string) error {
	rc, st, err := openCache()
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	printEntries(cmd.OutOrStdout(), rc.Entries(), terminalWidth())
	return nil
}

func printEntries(w io.Writer, entries []cache.Entry, width int) {
	if len(entries) == 0 {
		fmt.Fprintln(w, subtle("The cache is empty."))
		return
	}

	const sizeWidth, hitsWidth, usedWidth = 9, 6, 16
	textWidth := max(width-sizeWidth-hitsWidth-usedWidth-6, 12)

	for _, e := range entries {
		fmt.Fprintf(w, "%s  %s  %s  %s\n",
			runewidth.FillRight(runewidth.Truncate(e.NormalizedText, textWidth, "…"), textWidth),
			runewidth.FillLeft(humanize.IBytes(uint64(e.SizeBytes)), sizeWidth), //nolint:gosec
			runewidth.FillLeft(fmt.Sprintf("%dx", e.AccessCount), hitsWidth),
			subtle(humanize.Time(e.LastAccessAt)),
		)
	}
}

func runCacheCleanup(cmd *cobra.Command, _ []string) error {
	rc, st, err := openCache()
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	n := rc.Cleanup()
	m := st.Cleanup()
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d expired cache entries and %d expired items.\n", n, m)
	return nil
}

func runCacheClear(cmd *cobra.Command, _ []string) error {
	if !cacheClearYes {
		return errors.New("this removes every cached phrase; pass --yes to confirm")
	}
	rc, st, err := openCache()
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	rc.Clear()
	fmt.Fprintln(cmd.OutOrStdout(), "Cache cleared.")
	return nil
}

func runCachePreload(cmd *cobra.Command, _ []string) error {
	svc, err := openService(false)
	if err != nil {
		return err
	}
	defer svc.Close() //nolint:errcheck

	if svc.Cache() == nil {
		return errors.New("caching is disabled")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	n, err := svc.Preload(ctx)
	if err != nil {
		return describeError(err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Cached %s new %s.\n", keyword(fmt.Sprint(n)), pluralize(n, "phrase", "phrases"))
	return nil
}

func pluralize(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func init() {
	cacheClearCmd.Flags().BoolVarP(&cacheClearYes, "yes", "y", false, "confirm deletion")
	cacheCmd.AddCommand(cacheStatsCmd, cacheListCmd, cacheCleanupCmd, cacheClearCmd, cachePreloadCmd)
}
