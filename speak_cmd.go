package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dgnsrekt/speechkit/internal/speech"
)

var (
	speakOutput string
	speakModel  string
	speakFormat string

	speakCmd = &cobra.Command{
		Use:   "speak [TEXT...]",
		Short: "Synthesize text to speech",
		Long: paragraph(fmt.Sprintf("\n%s text with the configured provider and play it, or save it with --output. Text is read from stdin when piped. Repeated phrases are served from the cache.",
			keyword("Speak"))),
		Example: paragraph("speechkit speak Hello there\necho 'Your build is done' | speechkit speak\nspeechkit speak -o greeting.mp3 Welcome back"),
		RunE:    runSpeak,
	}
)

func runSpeak(cmd *cobra.Command, args []string) error {
	text := strings.Join(args, " ")
	if text == "" {
		if yes, err := stdinIsPipe(); err != nil {
			return err
		} else if yes {
			b, err := io.ReadAll(io.LimitReader(os.Stdin, 4*speech.MaxTextChars+1))
			if err != nil {
				return fmt.Errorf("unable to read from stdin: %w", err)
			}
			text = string(b)
		}
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("nothing to say: pass text as arguments or on stdin")
	}

	svc, err := openService(speakOutput == "")
	if err != nil {
		return err
	}
	defer svc.Close() //nolint:errcheck

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	req := speech.SynthesizeRequest{Text: text, ModelID: speakModel, Format: speakFormat}

	var sp *speech.Speech
	if speakOutput != "" {
		sp, err = svc.Synthesize(ctx, req)
		if err != nil {
			return describeError(err)
		}
		if err := os.WriteFile(speakOutput, sp.Audio, 0o644); err != nil { //nolint:gosec
			return fmt.Errorf("unable to write audio: %w", err)
		}
	} else {
		sp, err = svc.Speak(ctx, req)
		if err != nil {
			return describeError(err)
		}
	}

	if stdoutIsTerminal() {
		info := humanize.Bytes(uint64(len(sp.Audio))) //nolint:gosec
		if sp.Cached {
			info += " from cache"
		}
		if speakOutput != "" {
			info += ", saved to " + speakOutput
		}
		fmt.Fprintln(cmd.ErrOrStderr(), subtle(info))
	}
	return nil
}

func init() {
	speakCmd.Flags().StringVarP(&speakOutput, "output", "o", "", "write audio to a file instead of playing it")
	speakCmd.Flags().StringVar(&speakModel, "model", "", "synthesis model (default from config)")
	speakCmd.Flags().StringVar(&speakFormat, "format", "", "output format (default from config)")
}
