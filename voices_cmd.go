package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/sahilm/fuzzy"
	"github.com/spf13/cobra"

	"github.com/dgnsrekt/speechkit/internal/ttypes"
)

var (
	voicesSearch string
	voicesJSON   bool

	voicesCmd = &cobra.Command{
		Use:     "voices",
		Short:   "List the voices offered by the provider",
		Example: paragraph("speechkit voices\nspeechkit voices --search rach"),
		Args:    cobra.NoArgs,
		RunE:    runVoices,
	}
)

func runVoices(cmd *cobra.Command, _ []string) error {
	svc, err := openService(false)
	if err != nil {
		return err
	}
	defer svc.Close() //nolint:errcheck

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	voices, err := svc.Voices(ctx)
	if err != nil {
		return describeError(err)
	}
	voices = filterVoices(voices, voicesSearch)

	if voicesJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(voices)
	}
	return printVoices(cmd.OutOrStdout(), voices, terminalWidth())
}

type voiceNames []ttypes.Voice

func (v voiceNames) String(i int) string {
	return v[i].Name + " " + v[i].Category + " " + v[i].Description
}

func (v voiceNames) Len() int { return len(v) }

// filterVoices fuzzy-matches pattern against voice names and descriptions,
// best match first. An empty pattern keeps the list as is.
func filterVoices(voices []ttypes.Voice, pattern string) []ttypes.Voice {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return voices
	}
	matches := fuzzy.FindFrom(pattern, voiceNames(voices))
	out := make([]ttypes.Voice, 0, len(matches))
	for _, m := range matches {
		out = append(out, voices[m.Index])
	}
	return out
}

func printVoices(w io.Writer, voices []ttypes.Voice, width int) error {
	if len(voices) == 0 {
		_, err := fmt.Fprintln(w, subtle("No voices found."))
		return err
	}

	const idWidth, nameWidth = 22, 20
	descWidth := max(width-idWidth-nameWidth-4, 10)

	for _, v := range voices {
		desc := v.Description
		if desc == "" {
			desc = v.Category
		}
		line := fmt.Sprintf("%s  %s  %s",
			runewidth.FillRight(runewidth.Truncate(v.ID, idWidth, "…"), idWidth),
			keyword(runewidth.FillRight(runewidth.Truncate(v.Name, nameWidth, "…"), nameWidth)),
			subtle(runewidth.Truncate(desc, descWidth, "…")),
		)
		if _, err := fmt.Fprintln(w, strings.TrimRight(line, " ")); err != nil {
			return err
		}
	}
	return nil
}

func init() {
	voicesCmd.Flags().StringVarP(&voicesSearch, "search", "s", "", "fuzzy search voice names")
	voicesCmd.Flags().BoolVar(&voicesJSON, "json", false, "print voices as JSON")
}
