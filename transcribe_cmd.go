package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dgnsrekt/speechkit/internal/speech"
	"github.com/dgnsrekt/speechkit/internal/ttypes"
)

var (
	transcribeLang     string
	transcribeTrim     string
	transcribeCompress bool
	transcribeCopy     bool
	transcribeJSON     bool

	transcribeCmd = &cobra.Command{
		Use:   "transcribe FILE",
		Short: "Transcribe an audio file to text",
		Long: paragraph(fmt.Sprintf("\n%s an audio file with the configured provider. Use - to read from stdin. Large WAV and AIFF files are downsampled before upload unless --compress=false.",
			keyword("Transcribe"))),
		Example: paragraph("speechkit transcribe memo.wav\nspeechkit transcribe --trim 1.5:20 --copy interview.m4a\ncat memo.wav | speechkit transcribe -"),
		Args:    cobra.ExactArgs(1),
		RunE:    runTranscribe,
	}
)

func runTranscribe(cmd *cobra.Command, args []string) error {
	data, name, err := readAudioArg(args[0])
	if err != nil {
		return err
	}

	req := speech.TranscribeRequest{
		Audio:    data,
		FileName: name,
		MimeType: mime.TypeByExtension(strings.ToLower(filepath.Ext(name))),
		Language: transcribeLang,
		Compress: transcribeCompress,
	}
	if !cmd.Flags().Changed("compress") {
		req.Compress = cfg.Audio.CompressUploads
	}
	if transcribeTrim != "" {
		tr, err := parseTimeRange(transcribeTrim)
		if err != nil {
			return err
		}
		req.Trim = tr
	}

	svc, err := openService(false)
	if err != nil {
		return err
	}
	defer svc.Close() //nolint:errcheck

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	transcript, err := svc.Transcribe(ctx, req)
	if err != nil {
		return describeError(err)
	}

	out := cmd.OutOrStdout()
	if transcribeJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(transcript); err != nil {
			return fmt.Errorf("unable to encode transcript: %w", err)
		}
	} else if _, err := fmt.Fprintln(out, transcript.Text); err != nil {
		return fmt.Errorf("unable to write to writer: %w", err)
	}

	if transcribeCopy {
		if err := clipboard.WriteAll(transcript.Text); err != nil {
			return fmt.Errorf("unable to copy to clipboard: %w", err)
		}
	}

	if stdoutIsTerminal() {
		info := fmt.Sprintf("%s uploaded", humanize.Bytes(uint64(len(data)))) //nolint:gosec
		if transcript.DurationSec > 0 {
			info += fmt.Sprintf(", %.1fs of speech", transcript.DurationSec)
		}
		if transcribeCopy {
			info += ", copied to clipboard"
		}
		fmt.Fprintln(cmd.ErrOrStderr(), subtle(info))
	}
	return nil
}

// readAudioArg reads a file argument, or stdin for "-".
func readAudioArg(arg string) ([]byte, string, error) {
	if arg == "-" {
		data, err := io.ReadAll(io.LimitReader(os.Stdin, speech.MaxUploadBytes+1))
		if err != nil {
			return nil, "", fmt.Errorf("unable to read from stdin: %w", err)
		}
		return data, "", nil
	}

	data, err := os.ReadFile(arg)
	if err != nil {
		return nil, "", fmt.Errorf("unable to open file: %w", err)
	}
	return data, filepath.Base(arg), nil
}

// parseTimeRange parses "start:end" in seconds.
func parseTimeRange(s string) (*speech.TimeRange, error) {
	start, end, ok := strings.Cut(s, ":")
	if !ok {
		return nil, fmt.Errorf("%w: trim must look like START:END, got %q", ttypes.ErrValidation, s)
	}
	a, err := strconv.ParseFloat(strings.TrimSpace(start), 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad trim start %q", ttypes.ErrValidation, start)
	}
	b, err := strconv.ParseFloat(strings.TrimSpace(end), 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad trim end %q", ttypes.ErrValidation, end)
	}
	if a < 0 || b <= a {
		return nil, fmt.Errorf("%w: trim end must be after start", ttypes.ErrValidation)
	}
	return &speech.TimeRange{Start: a, End: b}, nil
}

// describeError adds a hint for errors a user can act on.
func describeError(err error) error {
	switch {
	case errors.Is(err, ttypes.ErrLimitExceeded):
		return fmt.Errorf("%w\n%s", err, subtle("see 'speechkit usage limits' to inspect or raise the ceilings"))
	case errors.Is(err, ttypes.ErrAdmissionRejected):
		return fmt.Errorf("%w\n%s", err, subtle("raise coordinator.max_concurrent to allow more parallel requests"))
	case errors.Is(err, ttypes.ErrUnauthorized):
		return fmt.Errorf("%w\n%s", err, subtle("check the provider API key in 'speechkit config show'"))
	case errors.Is(err, ttypes.ErrNetworkUnreachable):
		return fmt.Errorf("%w\n%s", err, subtle("check your network connection"))
	}
	return err
}

func init() {
	transcribeCmd.Flags().StringVarP(&transcribeLang, "lang", "l", "", "language code hint, e.g. en")
	transcribeCmd.Flags().StringVar(&transcribeTrim, "trim", "", "only transcribe START:END seconds")
	transcribeCmd.Flags().BoolVar(&transcribeCompress, "compress", true, "downsample large uncompressed audio before upload")
	transcribeCmd.Flags().BoolVarP(&transcribeCopy, "copy", "c", false, "copy the transcript to the clipboard")
	transcribeCmd.Flags().BoolVar(&transcribeJSON, "json", false, "print the full transcript as JSON")
}
