package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gemini-ocr-capture/src/clipboard"
	"gemini-ocr-capture/src/config"
	"gemini-ocr-capture/src/logutil"
	"gemini-ocr-capture/src/notification"
	"gemini-ocr-capture/src/ocr"
	"gemini-ocr-capture/src/singleinstance"
	"gemini-ocr-capture/src/sound"
)

var ErrSelectionCancelled = ocr.ErrSelectionCancelled

const DefaultDeadline = 30 * time.Second

type ResultTarget interface {
	OnSuccess(text string) error
	OnFailure(err error) error
}

// SettingsSource is read when a target needs the current settings.
type SettingsSource interface {
	CurrentConfig() config.Configuration
}

type Options struct {
	Deadline time.Duration
	Source   ocr.Source
	Analyzer ocr.Analyzer
	Target   ResultTarget
	Logger   logutil.Logger
}

type Result struct {
	Text string
}

// Execute runs one capture: take the image, recognize it under the deadline,
// then hand the text to the target. A cancelled selection reaches the target
// as ErrSelectionCancelled.
func Execute(ctx context.Context, opts Options) (Result, error) {
	if opts.Source == nil {
		return Result{}, errors.New("Source is required")
	}
	if opts.Analyzer == nil {
		return Result{}, errors.New("Analyzer is required")
	}
	if opts.Target == nil {
		return Result{}, errors.New("Target is required")
	}
	logger := logutil.OrNop(opts.Logger)

	deadline := opts.Deadline
	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	jobCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	start := time.Now()
	text, err := ocr.Recognize(jobCtx, opts.Analyzer, opts.Source, logger)
	if err != nil {
		if errors.Is(err, ErrSelectionCancelled) {
			err = ErrSelectionCancelled
			logger.Printf("Session: selection cancelled")
		} else {
			logger.Printf("Session: recognition failed after %v: %v", time.Since(start).Round(time.Millisecond), err)
		}
		_ = opts.Target.OnFailure(err)
		return Result{}, err
	}
	logger.Printf("Session: recognized %d chars in %v", len(text), time.Since(start).Round(time.Millisecond))

	if err := opts.Target.OnSuccess(text); err != nil {
		_ = opts.Target.OnFailure(err)
		return Result{}, err
	}
	return Result{Text: text}, nil
}

// Targets fans a result out to several targets. Every target runs; their
// errors are joined.
type Targets []ResultTarget

func (ts Targets) OnSuccess(text string) error {
	var errs []error
	for _, t := range ts {
		if err := t.OnSuccess(text); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (ts Targets) OnFailure(err error) error {
	var errs []error
	for _, t := range ts {
		if ferr := t.OnFailure(err); ferr != nil {
			errs = append(errs, ferr)
		}
	}
	return errors.Join(errs...)
}

type ClipboardTarget struct{}

func (ClipboardTarget) OnSuccess(text string) error {
	if err := clipboard.Write(text); err != nil {
		return fmt.Errorf("clipboard error: %w", err)
	}
	return nil
}

func (ClipboardTarget) OnFailure(err error) error {
	return nil
}

type StdoutTarget struct {
	Writer io.Writer
}

func (t StdoutTarget) OnSuccess(text string) error {
	w := t.Writer
	if w == nil {
		w = os.Stdout
	}
	_, err := fmt.Fprintln(w, text)
	return err
}

func (t StdoutTarget) OnFailure(err error) error {
	return nil
}

// NotifyTarget shows the text when displayOcrResult is on, and reports
// failures other than a cancelled selection.
type NotifyTarget struct {
	Settings SettingsSource
	// BaseDir receives error.log.
	BaseDir string
}

func (t NotifyTarget) OnSuccess(text string) error {
	if t.Settings != nil && t.Settings.CurrentConfig().DisplayOCRResult {
		notification.ShowOCRResult(text)
	}
	return nil
}

func (t NotifyTarget) OnFailure(err error) error {
	if err == nil || errors.Is(err, ErrSelectionCancelled) {
		return nil
	}
	notification.ReportError(t.BaseDir, err, "OCR failed")
	return nil
}

// SoundTarget plays the success cue when playSoundOnOcrSuccess is on.
type SoundTarget struct {
	Settings SettingsSource
	Player   *sound.Player
}

func (t SoundTarget) OnSuccess(text string) error {
	if t.Settings == nil || t.Player == nil {
		return nil
	}
	cfg := t.Settings.CurrentConfig()
	if cfg.PlaySoundOnOCRSuccess {
		t.Player.PlaySuccess(cfg.CustomSoundFilePath)
	}
	return nil
}

func (SoundTarget) OnFailure(err error) error {
	return nil
}

// DelegatedTarget answers a run-once client. Clipboard requests are copied
// here, in the resident, before success is reported.
type DelegatedTarget struct {
	Conn *singleinstance.Conn
}

func (t DelegatedTarget) OnSuccess(text string) error {
	if t.Conn == nil {
		return errors.New("delegated target missing connection")
	}
	if !t.Conn.Request().OutputToStdout {
		if err := clipboard.Write(text); err != nil {
			return fmt.Errorf("clipboard error: %w", err)
		}
	}
	return t.Conn.RespondSuccess(text)
}

func (t DelegatedTarget) OnFailure(err error) error {
	if t.Conn == nil {
		return nil
	}
	if err == nil {
		return t.Conn.RespondError("unknown session error")
	}
	return t.Conn.RespondError(err.Error())
}
