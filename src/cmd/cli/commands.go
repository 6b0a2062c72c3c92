package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"gemini-ocr-capture/src/config"
	"gemini-ocr-capture/src/hotkey"
	"gemini-ocr-capture/src/llm"
	"gemini-ocr-capture/src/logutil"
	"gemini-ocr-capture/src/ocr"
	"gemini-ocr-capture/src/screenshot"
	"gemini-ocr-capture/src/session"
	"gemini-ocr-capture/src/sound"
)

var pngMagic = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}

type fileOptions struct {
	filePath   string
	jsonOutput bool
}

func addFileFlags(cmd *cobra.Command, opts *fileOptions) {
	cmd.Flags().StringVar(&opts.filePath, "file", "", "Path to PNG file (use '-' for stdin)")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output results as JSON")
}

func newFileCmd(env *cliEnv, g *globalOptions) *cobra.Command {
	opts := &fileOptions{}
	cmd := &cobra.Command{
		Use:   "file --file PATH",
		Short: "Run OCR on a PNG file or stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFile(cmd, env, g, *opts)
		},
	}
	addFileFlags(cmd, opts)
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func runFile(cmd *cobra.Command, env *cliEnv, g *globalOptions, opts fileOptions) error {
	app, err := env.bootstrap(g)
	if err != nil {
		return err
	}
	client, err := app.EnsureClient()
	if err != nil {
		return err
	}

	data, err := readImageInput(env, g, opts.filePath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), app.Deadline())
	defer cancel()

	start := time.Now()
	text, err := ocr.Recognize(ctx, client, ocr.Reader(bytes.NewReader(data)), app.Logger)
	elapsed := time.Since(start)
	if err != nil {
		env.verbosef(g, "OCR failed after %v", elapsed)
		return fmt.Errorf("OCR failed: %w", err)
	}
	env.verbosef(g, "OCR completed in %v, extracted %d characters", elapsed, len([]rune(text)))
	return outputResult(env.stdout, text, opts.filePath, elapsed, opts.jsonOutput)
}

func readImageInput(env *cliEnv, g *globalOptions, path string) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		env.verbosef(g, "Reading image from stdin")
		data, err = io.ReadAll(io.LimitReader(env.stdin, maxFileSize+1))
		if err != nil {
			return nil, fmt.Errorf("failed to read from stdin: %w", err)
		}
	} else {
		env.verbosef(g, "Reading image from file: %s", path)
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read file %s: %w", path, err)
		}
	}
	if len(data) > maxFileSize {
		return nil, fmt.Errorf("input file exceeds maximum size of %d MB", maxFileSizeMB)
	}
	if err := validatePNG(data); err != nil {
		return nil, err
	}
	env.verbosef(g, "Read %d bytes of PNG data", len(data))
	return data, nil
}

func validatePNG(data []byte) error {
	if len(data) == 0 {
		return errors.New("input file is empty")
	}
	if !bytes.HasPrefix(data, pngMagic) {
		return errors.New("input is not a valid PNG file (invalid magic number)")
	}
	return nil
}

type OCRResult struct {
	Text      string  `json:"text"`
	Source    string  `json:"source"`
	Timestamp string  `json:"timestamp"`
	Duration  float64 `json:"duration_seconds"`
	CharCount int     `json:"character_count"`
}

func outputResult(w io.Writer, text, source string, elapsed time.Duration, jsonOutput bool) error {
	if !jsonOutput {
		_, err := fmt.Fprint(w, text)
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(OCRResult{
		Text:      text,
		Source:    source,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Duration:  elapsed.Seconds(),
		CharCount: len([]rune(text)),
	}); err != nil {
		return fmt.Errorf("failed to encode JSON output: %w", err)
	}
	return nil
}

func newCaptureCmd(env *cliEnv, g *globalOptions) *cobra.Command {
	var (
		region   string
		toStdout bool
	)
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Capture the screen (or a region) and copy the recognized text",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := env.bootstrap(g)
			if err != nil {
				return err
			}
			client, err := app.EnsureClient()
			if err != nil {
				return err
			}

			source := ocr.FullScreen(env.capturer)
			if region != "" {
				r, err := screenshot.ParseRegion(region)
				if err != nil {
					return err
				}
				source = ocr.Region(env.capturer, r)
			}

			var target session.ResultTarget
			if toStdout {
				target = session.StdoutTarget{Writer: env.stdout}
			} else {
				target = session.Targets{
					session.ClipboardTarget{},
					session.NotifyTarget{Settings: app.Store, BaseDir: app.Runtime.Home},
					session.SoundTarget{Settings: app.Store, Player: sound.NewPlayer(sound.WithLogger(app.Logger))},
				}
			}

			res, err := session.Execute(cmd.Context(), session.Options{
				Deadline: app.Deadline(),
				Source:   source,
				Analyzer: client,
				Target:   target,
				Logger:   app.Logger,
			})
			if err != nil {
				return err
			}
			if !toStdout {
				printOK(env.stderr, "Copied %d characters to the clipboard", len([]rune(res.Text)))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&region, "region", "", "Capture x,y,width,height instead of the primary display")
	cmd.Flags().BoolVar(&toStdout, "stdout", false, "Print the text instead of copying it")
	return cmd
}

func newValidateKeyCmd(env *cliEnv, g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate-key [KEY]",
		Short: "Check an API key (default: the configured one) against the API",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := env.bootstrap(g)
			if err != nil {
				return err
			}
			key := app.Store.CurrentConfig().APIKey
			if len(args) == 1 {
				key = args[0]
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), app.Deadline())
			defer cancel()
			if !llm.ValidateKey(ctx, key, app.ClientOptions()...) {
				return fmt.Errorf("key %s: %w", logutil.RedactKey(key), &llm.APIError{StatusCode: 401, Message: llm.MsgInvalidKey})
			}
			printOK(env.stdout, "API key %s is valid", logutil.RedactKey(key))
			return nil
		},
	}
}

func newConfigCmd(env *cliEnv, g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change the saved settings",
	}
	cmd.AddCommand(newConfigShowCmd(env, g), newConfigSetKeyCmd(env, g), newConfigSetCmd(env, g))
	return cmd
}

func newConfigShowCmd(env *cliEnv, g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the settings with the API key masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := env.bootstrap(g)
			if err != nil {
				return err
			}
			view := configView{Path: app.Store.Path(), Configuration: app.Store.CurrentConfig()}
			view.APIKey = logutil.RedactKey(view.APIKey)
			enc := json.NewEncoder(env.stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(view)
		},
	}
}

func newConfigSetKeyCmd(env *cliEnv, g *globalOptions) *cobra.Command {
	var skipValidate bool
	cmd := &cobra.Command{
		Use:   "set-key KEY",
		Short: "Validate and save the Gemini API key (use '-' to read it from stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := env.bootstrap(g)
			if err != nil {
				return err
			}
			key := args[0]
			if key == "-" {
				b, err := io.ReadAll(io.LimitReader(env.stdin, 4096))
				if err != nil {
					return fmt.Errorf("failed to read key from stdin: %w", err)
				}
				key = string(b)
			}
			key = strings.TrimSpace(key)
			if key == "" {
				return llm.ErrMissingAPIKey
			}

			if !skipValidate {
				ctx, cancel := context.WithTimeout(cmd.Context(), app.Deadline())
				defer cancel()
				if !llm.ValidateKey(ctx, key, app.ClientOptions()...) {
					return &llm.APIError{StatusCode: 401, Message: llm.MsgInvalidKey}
				}
			}
			if _, err := app.Store.Update(func(c *config.Configuration) { c.APIKey = key }); err != nil {
				return err
			}
			printOK(env.stderr, "Saved API key %s to %s", logutil.RedactKey(key), app.Store.Path())
			return nil
		},
	}
	cmd.Flags().BoolVar(&skipValidate, "skip-validate", false, "Save without checking the key against the API")
	return cmd
}

func newConfigSetCmd(env *cliEnv, g *globalOptions) *cobra.Command {
	var (
		language      string
		displayResult bool
		playSound     bool
		soundFile     string
		shortcut      string
	)
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change individual settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			changed := false
			for _, name := range []string{"language", "display-result", "play-sound", "sound-file", "shortcut"} {
				changed = changed || flags.Changed(name)
			}
			if !changed {
				return errors.New("nothing to change; pass at least one flag")
			}
			if flags.Changed("language") && strings.TrimSpace(language) == "" {
				return errors.New("--language must not be empty")
			}
			if flags.Changed("shortcut") {
				if _, err := hotkey.Parse(shortcut); err != nil {
					return err
				}
			}
			if flags.Changed("sound-file") && soundFile != "" {
				if _, err := os.Stat(soundFile); err != nil {
					return fmt.Errorf("sound file: %w", err)
				}
			}

			app, err := env.bootstrap(g)
			if err != nil {
				return err
			}
			_, err = app.Store.Update(func(c *config.Configuration) {
				if flags.Changed("language") {
					c.Language = strings.TrimSpace(language)
				}
				if flags.Changed("display-result") {
					c.DisplayOCRResult = displayResult
				}
				if flags.Changed("play-sound") {
					c.PlaySoundOnOCRSuccess = playSound
				}
				if flags.Changed("sound-file") {
					c.CustomSoundFilePath = soundFile
				}
				if flags.Changed("shortcut") {
					c.FullscreenShortcut = shortcut
				}
			})
			if err != nil {
				return err
			}
			printOK(env.stderr, "Settings saved to %s", app.Store.Path())
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&language, "language", config.DefaultLanguage, "Target language code for recognition")
	f.BoolVar(&displayResult, "display-result", true, "Show the recognized text in a notification")
	f.BoolVar(&playSound, "play-sound", true, "Play a sound when recognition succeeds")
	f.StringVar(&soundFile, "sound-file", "", "WAV file to play instead of the system beep (empty to clear)")
	f.StringVar(&shortcut, "shortcut", config.DefaultFullscreenShortcut, "Global shortcut for full-screen capture")
	return cmd
}
