package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"gemini-ocr-capture/src/config"
	"gemini-ocr-capture/src/logutil"
	"gemini-ocr-capture/src/notification"
	"gemini-ocr-capture/src/runtimeinit"
	"gemini-ocr-capture/src/screenshot"
)

const (
	maxFileSizeMB = 10
	maxFileSize   = maxFileSizeMB * 1024 * 1024
)

// cliEnv holds everything a command touches outside its flags, so tests can
// run commands in-process.
type cliEnv struct {
	stdin    io.Reader
	stdout   io.Writer
	stderr   io.Writer
	boot     runtimeinit.Options
	capturer screenshot.Capturer
}

type globalOptions struct {
	verbose bool
	home    string
	envFile string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env := &cliEnv{stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr, capturer: screenshot.Screen{}}
	if err := runWithArgs(ctx, env, normalizeLegacyArgs(os.Args)); err != nil {
		printError(env.stderr, err)
		os.Exit(1)
	}
}

func runWithArgs(ctx context.Context, env *cliEnv, args []string) error {
	if len(args) == 0 {
		args = []string{"gemini-ocr"}
	}
	cmd := newRootCmd(env)
	cmd.SetArgs(args[1:])
	cmd.SetIn(env.stdin)
	cmd.SetOut(env.stdout)
	cmd.SetErr(env.stderr)
	return cmd.ExecuteContext(ctx)
}

func newRootCmd(env *cliEnv) *cobra.Command {
	g := &globalOptions{}
	fileOpts := &fileOptions{}

	cmd := &cobra.Command{
		Use:           "gemini-ocr",
		Short:         "Recognize text in screenshots and images with Gemini",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if fileOpts.filePath == "" {
				return cmd.Help()
			}
			return runFile(cmd, env, g, *fileOpts)
		},
	}

	pf := cmd.PersistentFlags()
	pf.BoolVarP(&g.verbose, "verbose", "v", false, "Verbose output to stderr")
	pf.StringVar(&g.home, "home", "", "Directory holding config.json (default: next to the executable)")
	pf.StringVar(&g.envFile, "env-file", "", "Path to a .env file")
	addFileFlags(cmd, fileOpts)

	cmd.AddCommand(
		newFileCmd(env, g),
		newCaptureCmd(env, g),
		newValidateKeyCmd(env, g),
		newConfigCmd(env, g),
	)
	return cmd
}

// bootstrap configures logging before anything else and wires the app.
func (e *cliEnv) bootstrap(g *globalOptions) (*runtimeinit.App, error) {
	opts := e.boot
	if g.home != "" {
		opts.LoadOptions.HomeOverride = g.home
	}
	if g.envFile != "" {
		opts.LoadOptions.EnvPathOverride = g.envFile
	}
	opts.SetupLogging = func(dir string, enableFileLogging bool) {
		if g.verbose {
			log.SetFlags(log.Ltime)
			log.SetOutput(e.stderr)
			return
		}
		logutil.Setup(dir, enableFileLogging)
	}
	app, err := runtimeinit.Bootstrap(opts)
	if err != nil {
		return nil, err
	}
	e.verbosef(g, "Config loaded from %s (model %s)", app.Store.Path(), app.Runtime.Model)
	return app, nil
}

func (e *cliEnv) verbosef(g *globalOptions, format string, args ...any) {
	if g.verbose {
		fmt.Fprintf(e.stderr, "[verbose] "+format+"\n", args...)
	}
}

func printError(w io.Writer, err error) {
	red := color.New(color.FgRed, color.Bold)
	red.Fprint(w, "Error: ")
	fmt.Fprintln(w, err)
	if notification.KindOf(err) == notification.KindUnknown {
		return
	}
	if msg := notification.UserMessage(err); !strings.Contains(err.Error(), msg) {
		color.New(color.FgYellow).Fprintln(w, msg)
	}
}

func printOK(w io.Writer, format string, args ...any) {
	color.New(color.FgGreen).Fprintf(w, format+"\n", args...)
}

// normalizeLegacyArgs accepts single-dash long flags (-file, -json).
func normalizeLegacyArgs(args []string) []string {
	if len(args) == 0 {
		return args
	}
	normalized := make([]string, len(args))
	copy(normalized, args)

	legacy := []string{"file", "json", "verbose", "home", "env-file", "region", "stdout"}
	for i := 1; i < len(normalized); i++ {
		arg := normalized[i]
		for _, name := range legacy {
			if arg == "-"+name || strings.HasPrefix(arg, "-"+name+"=") {
				normalized[i] = "-" + arg
				break
			}
		}
	}
	return normalized
}

// configView is what "config show" prints. The key is never shown in full.
type configView struct {
	Path string `json:"path"`
	config.Configuration
}
