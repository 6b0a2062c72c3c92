package notification

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gemini-ocr-capture/src/config"
	"gemini-ocr-capture/src/llm"
	"gemini-ocr-capture/src/screenshot"
)

// ErrorLogFile is created in the base directory by ReportError.
const ErrorLogFile = "error.log"

// Kind is the category recorded in error.log.
type Kind string

const (
	KindAPI     Kind = "API_ERROR"
	KindCapture Kind = "CAPTURE_ERROR"
	KindFile    Kind = "FILE_ERROR"
	KindNetwork Kind = "NETWORK_ERROR"
	KindUnknown Kind = "UNKNOWN_ERROR"
)

const (
	msgMissingKey     = "The Gemini API key is not set. Set it with \"gemini-ocr config set-key\"."
	msgNetwork        = "A network error occurred. Check your internet connection."
	msgTimeout        = "The request timed out. Try again."
	msgCancelled      = "The operation was cancelled."
	msgBadResponse    = "The Gemini API returned a response that could not be read."
	msgInvalidImage   = "The captured image could not be processed."
	msgCapture        = "Failed to capture the screen."
	msgNoDisplay      = "No display is available for capture."
	msgConfigLoad     = "The settings file %s is damaged, so the application cannot start. Fix or remove the file and start again."
	msgConfigSave     = "The settings could not be saved."
	msgPermission     = "The application does not have the access rights it needs."
	msgUnexpected     = "An unexpected error occurred."
	defaultLogContext = "An error occurred"
)

// UserMessage turns err into text suitable for a notification.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var (
		apiErr     *llm.APIError
		netErr     *llm.NetworkError
		cancelErr  *llm.CancelledError
		parseErr   *llm.ResponseParseError
		loadErr    *config.LoadError
		saveErr    *config.SaveError
		captureErr *screenshot.CaptureError
	)
	switch {
	case errors.Is(err, llm.ErrMissingAPIKey):
		return msgMissingKey
	case errors.As(err, &apiErr):
		return Truncate(apiErr.Message, MaxDisplayLen)
	case errors.As(err, &cancelErr):
		if errors.Is(err, context.DeadlineExceeded) {
			return msgTimeout
		}
		return msgCancelled
	case errors.As(err, &netErr):
		return msgNetwork
	case errors.As(err, &parseErr):
		return msgBadResponse
	case errors.Is(err, llm.ErrInvalidArgument):
		return msgInvalidImage
	case errors.Is(err, screenshot.ErrNoDisplay):
		return msgNoDisplay
	case errors.As(err, &captureErr):
		return msgCapture
	case errors.As(err, &loadErr):
		return fmt.Sprintf(msgConfigLoad, loadErr.Path)
	case errors.As(err, &saveErr):
		return msgConfigSave
	case errors.Is(err, fs.ErrPermission):
		return msgPermission
	case errors.Is(err, context.DeadlineExceeded):
		return msgTimeout
	case errors.Is(err, context.Canceled):
		return msgCancelled
	}
	return msgUnexpected
}

// KindOf classifies err for the error log.
func KindOf(err error) Kind {
	var (
		apiErr     *llm.APIError
		parseErr   *llm.ResponseParseError
		netErr     *llm.NetworkError
		captureErr *screenshot.CaptureError
		loadErr    *config.LoadError
		saveErr    *config.SaveError
	)
	switch {
	case errors.As(err, &apiErr), errors.As(err, &parseErr), errors.Is(err, llm.ErrMissingAPIKey):
		return KindAPI
	case errors.As(err, &netErr):
		return KindNetwork
	case errors.As(err, &captureErr), errors.Is(err, screenshot.ErrNoDisplay):
		return KindCapture
	case errors.As(err, &loadErr), errors.As(err, &saveErr), errors.Is(err, fs.ErrPermission):
		return KindFile
	}
	return KindUnknown
}

var logMu sync.Mutex

// LogError appends an entry for err to error.log in baseDir. Failures to
// write are logged and otherwise ignored.
func LogError(baseDir string, err error, what string) {
	if err == nil {
		return
	}
	if what == "" {
		what = defaultLogContext
	}
	entry := fmt.Sprintf("[%s] %s\nType: %s\nMessage: %s\n----------------------------------------\n",
		time.Now().Format("2006-01-02 15:04:05.000"), what, KindOf(err), err.Error())

	logMu.Lock()
	defer logMu.Unlock()
	f, ferr := os.OpenFile(filepath.Join(baseDir, ErrorLogFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if ferr != nil {
		log.Printf("Notification: cannot open error log: %v", ferr)
		return
	}
	defer f.Close()
	if _, werr := f.WriteString(entry); werr != nil {
		log.Printf("Notification: cannot write error log: %v", werr)
	}
}

// ReportError records err in error.log and shows the user-facing message.
func ReportError(baseDir string, err error, what string) {
	if err == nil {
		return
	}
	LogError(baseDir, err, what)
	ShowBlockingError(AppName, UserMessage(err))
}
