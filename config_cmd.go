package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/charmbracelet/x/editor"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const defaultConfig = `speechkit:
  # speech provider: elevenlabs or openai
  provider: "elevenlabs"
  # where the store lives (default: the per-user data directory)
  # data_dir: "~/.local/share/speechkit"
  # refuse new requests once a daily limit is reached
  enforce_limits: true
  # listen address for "speechkit metrics serve"
  metrics_addr: "127.0.0.1:9464"

  storage:
    # sqlite, disk, memory or none
    backend: "sqlite"
    # path: "~/.local/share/speechkit/speechkit.db"
    quota_bytes: 52428800
    # payloads larger than this are zstd compressed
    compress_threshold: 1024

  cache:
    enabled: true
    ttl: "168h"
    max_entries: 100
    max_bytes: 20971520

  coordinator:
    max_concurrent: 3
    transcribe_timeout: "60s"
    synthesize_timeout: "30s"
    sweep_interval: "60s"

  retry:
    # retries after the first attempt
    max_attempts: 2
    base_delay: "1s"

  # daily ceilings, 0 disables a ceiling. Edits apply without a restart.
  limits:
    max_transcribe_requests: 100
    max_synthesize_requests: 200
    max_transcribe_cost_cents: 500
    max_synthesize_cost_cents: 500
    max_total_cost_cents: 1000

  audio:
    # downsample large WAV/AIFF uploads before transcription
    compress_uploads: true
    # playback device: 44100 or 48000
    sample_rate: 44100
    channels: 1

  elevenlabs:
    # api_key: "" (or set ELEVENLABS_API_KEY)
    voice_id: "21m00Tcm4TlvDq8ikWAM"
    model_id: "eleven_multilingual_v2"
    transcribe_model: "scribe_v1"
    output_format: "mp3_44100_128"
    requests_per_minute: 50

  openai:
    # api_key: "" (or set OPENAI_API_KEY)
    transcribe_model: "whisper-1"
    speech_model: "tts-1"
    voice: "alloy"
    requests_per_minute: 50
`

var configCmd = &cobra.Command{
	Use:     "config",
	Hidden:  false,
	Short:   "Edit the speechkit config file",
	Long:    paragraph(fmt.Sprintf("\n%s the speechkit config file. We’ll use EDITOR to determine which editor to use. If the config file doesn't exist, it will be created.", keyword("Edit"))),
	Example: paragraph("speechkit config\nspeechkit config --config path/to/config.yml"),
	Args:    cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		if err := ensureConfigFile(); err != nil {
			return err
		}

		c, err := editor.Cmd("Speechkit", configFile)
		if err != nil {
			return fmt.Errorf("unable to set config file: %w", err)
		}
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Run(); err != nil {
			return fmt.Errorf("unable to run command: %w", err)
		}

		fmt.Println("Wrote config file to:", configFile)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long:  paragraph("\nPrint the configuration after merging the config file, the environment and defaults. API keys are masked."),
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		c := cfg
		c.ElevenLabs.APIKey = maskSecret(c.ElevenLabs.APIKey)
		c.OpenAI.APIKey = maskSecret(c.OpenAI.APIKey)

		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		if err := enc.Encode(map[string]any{"speechkit": c}); err != nil {
			return fmt.Errorf("unable to encode config: %w", err)
		}
		return enc.Close()
	},
}

func maskSecret(s string) string {
	if len(s) <= 4 {
		if s == "" {
			return ""
		}
		return "****"
	}
	return "****" + s[len(s)-4:]
}

func ensureConfigFile() error {
	if configFile == "" {
		configFile = viper.GetViper().ConfigFileUsed()
		if err := os.MkdirAll(filepath.Dir(configFile), 0o755); err != nil { //nolint:gosec
			return fmt.Errorf("could not write configuration file: %w", err)
		}
	}

	if ext := path.Ext(configFile); ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("'%s' is not a supported configuration type: use '%s' or '%s'", ext, ".yaml", ".yml")
	}

	if _, err := os.Stat(configFile); errors.Is(err, fs.ErrNotExist) {
		// File doesn't exist yet, create all necessary directories and
		// write the default config file
		if err := os.MkdirAll(filepath.Dir(configFile), 0o700); err != nil {
			return fmt.Errorf("unable create directory: %w", err)
		}

		f, err := os.Create(configFile)
		if err != nil {
			return fmt.Errorf("unable to create config file: %w", err)
		}
		defer func() { _ = f.Close() }()

		if _, err := f.WriteString(defaultConfig); err != nil {
			return fmt.Errorf("unable to write config file: %w", err)
		}
	} else if err != nil { // some other error occurred
		return fmt.Errorf("unable to stat config file: %w", err)
	}
	return nil
}

func init() {
	configCmd.AddCommand(configShowCmd)
}
