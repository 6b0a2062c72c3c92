package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"gemini-ocr-capture/src/clipboard"
	"gemini-ocr-capture/src/config"
	"gemini-ocr-capture/src/hotkey"
	"gemini-ocr-capture/src/logutil"
	"gemini-ocr-capture/src/notification"
	"gemini-ocr-capture/src/ocr"
	"gemini-ocr-capture/src/runtimeinit"
	"gemini-ocr-capture/src/screenshot"
	"gemini-ocr-capture/src/session"
	"gemini-ocr-capture/src/singleinstance"
	"gemini-ocr-capture/src/sound"
	"gemini-ocr-capture/src/worker"
)

type mainOptions struct {
	runOnce bool
	stdout  bool
	home    string
}

func main() {
	opts := &mainOptions{}
	cmd := newRootCmd(opts)
	cmd.SetArgs(normalizeLegacyArgs(os.Args)[1:])
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(opts *mainOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "gemini-ocr-capture",
		Short:         "Press the shortcut to copy the text on screen",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if opts.runOnce {
				return runOnce(ctx, *opts)
			}
			return runResident(ctx, *opts)
		},
	}
	cmd.Flags().BoolVar(&opts.runOnce, "run-once", false, "Capture the primary display once, copy the text and exit")
	cmd.Flags().BoolVar(&opts.stdout, "stdout", false, "With --run-once, print the text instead of copying it")
	cmd.Flags().StringVar(&opts.home, "home", "", "Directory holding config.json (default: next to the executable)")
	return cmd
}

// normalizeLegacyArgs maps single-dash long flags to their GNU form.
func normalizeLegacyArgs(args []string) []string {
	out := make([]string, len(args))
	copy(out, args)
	for i := 1; i < len(out); i++ {
		for _, name := range []string{"run-once", "stdout", "home"} {
			if out[i] == "-"+name || strings.HasPrefix(out[i], "-"+name+"=") {
				out[i] = "-" + out[i]
				break
			}
		}
	}
	return out
}

func bootstrap(opts mainOptions) (*runtimeinit.App, error) {
	// Physical pixel coordinates must be known before any capture.
	enableDPIAwareness()

	app, err := runtimeinit.Bootstrap(runtimeinit.Options{
		LoadOptions:        config.LoadOptions{HomeOverride: opts.home},
		SetupLogging:       logutil.Setup,
		RequireClient:      true,
		CheckKey:           true,
		ShowBlockingErrors: !opts.stdout,
	})
	if err != nil {
		return nil, err
	}
	if err := clipboard.Init(); err != nil && !opts.stdout {
		return nil, fmt.Errorf("failed to initialize clipboard: %w", err)
	}
	logMonitorConfiguration()
	return app, nil
}

// captureOptions is one full-screen capture with the configured result handling.
func captureOptions(app *runtimeinit.App, capturer screenshot.Capturer, player *sound.Player, toStdout bool) session.Options {
	var target session.ResultTarget = session.Targets{
		session.ClipboardTarget{},
		session.NotifyTarget{Settings: app.Store, BaseDir: app.Runtime.Home},
		session.SoundTarget{Settings: app.Store, Player: player},
	}
	if toStdout {
		target = session.Targets{
			session.StdoutTarget{Writer: os.Stdout},
			session.NotifyTarget{BaseDir: app.Runtime.Home},
		}
	}
	return session.Options{
		Deadline: app.Deadline(),
		Source:   ocr.FullScreen(capturer),
		Analyzer: app.Client,
		Target:   target,
		Logger:   app.Logger,
	}
}

func runOnce(ctx context.Context, opts mainOptions) error {
	delegated, text, err := singleinstance.Delegate(ctx, opts.stdout)
	if delegated {
		if err != nil {
			return fmt.Errorf("resident capture failed: %w", err)
		}
		if opts.stdout {
			fmt.Fprintln(os.Stdout, text)
		}
		return nil
	}

	app, err := bootstrap(opts)
	if err != nil {
		return err
	}
	log.Printf("Running OCR once with deadline %v", app.Deadline())
	player := sound.NewPlayer(sound.WithLogger(app.Logger))
	_, err = session.Execute(ctx, captureOptions(app, screenshot.Screen{}, player, opts.stdout))
	return err
}

func runResident(ctx context.Context, opts mainOptions) error {
	srv := singleinstance.NewServer(logutil.Std())
	if err := srv.Start(ctx); err != nil {
		return err
	}
	defer srv.Close()

	app, err := bootstrap(opts)
	if err != nil {
		return err
	}
	cfg := app.Store.CurrentConfig()
	log.Printf("Gemini OCR Capture initialized: model %s, shortcut %s, deadline %v",
		app.Client.Model(), cfg.FullscreenShortcut, app.Deadline())

	ctx, cancel := context.WithCancel(ctx)
	// One capture at a time; presses during a running capture queue at most one more.
	pool := worker.New(1, app.Logger)
	var serving sync.WaitGroup
	defer func() {
		cancel()
		serving.Wait()
		pool.Close()
	}()
	player := sound.NewPlayer(sound.WithLogger(app.Logger))

	onPress := func() {
		accepted := pool.Submit(ctx, captureOptions(app, screenshot.Screen{}, player, false), func(res session.Result, err error) {
			if err != nil {
				log.Printf("Capture failed: %v", err)
				return
			}
			log.Printf("Capture copied %d characters", len(res.Text))
		})
		if !accepted {
			log.Printf("Capture already in progress, ignoring shortcut")
		}
	}

	serving.Add(1)
	go func() {
		defer serving.Done()
		serveDelegated(ctx, srv, pool, app, player)
	}()

	err = hotkey.Listen(ctx, cfg.FullscreenShortcut, onPress, app.Logger)
	if err != nil {
		notification.ReportError(app.Runtime.Home, err, "Registering the shortcut failed")
		return err
	}
	log.Printf("Shutting down")
	return nil
}

// serveDelegated runs captures requested by run-once clients on the pool.
func serveDelegated(ctx context.Context, srv *singleinstance.Server, pool *worker.Pool, app *runtimeinit.App, player *sound.Player) {
	for {
		conn, err := srv.Next(ctx)
		if err != nil {
			return
		}
		opts := captureOptions(app, screenshot.Screen{}, player, false)
		opts.Target = session.DelegatedTarget{Conn: conn}
		if !pool.Submit(ctx, opts, nil) {
			_ = conn.RespondError(singleinstance.BusyMessage)
		}
	}
}
