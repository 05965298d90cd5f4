package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/blackwell-systems/addonsync/internal/events"
	"github.com/blackwell-systems/addonsync/internal/output"
	"github.com/blackwell-systems/addonsync/internal/server"
	"github.com/blackwell-systems/addonsync/internal/watcher"
)

var (
	serveAddr        string
	serveDebug       bool
	serveDaemon      bool
	serveDaemonChild bool
	servePIDFile     string
	serveLogFile     string
	serveStop        bool

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the serving process that dispatches notifications",
		Long: `Run the long-lived serving process.

Pending notifications are dispatched at the start of the first request after
new entries land in the queue. A filesystem watch on the queue re-arms the
drain whenever an installer process enqueues, with a periodic check as a
fallback.

Endpoints:
  • GET  /healthz           liveness
  • GET  /plugins, /themes  tracked records (?status= filters)
  • GET  /queue             pending notifications
  • POST /drain             dispatch pending notifications now
  • GET  /metrics           Prometheus metrics

Serve modes:
  • Foreground (default): Run in current terminal with Ctrl+C to stop
  • Daemon: Run as a background process
  • Stop: Stop a running daemon`,
		Example: `  # Run in foreground (Ctrl+C to stop)
  addonsync serve

  # Run as background daemon on another port
  addonsync serve --daemon --addr 127.0.0.1:9000

  # Stop running daemon
  addonsync serve --stop`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
)

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default: ADDONSYNC_LISTEN_ADDR or 127.0.0.1:8765)")
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "run gin in debug mode")
	serveCmd.Flags().BoolVar(&serveDaemon, "daemon", false, "run as background daemon")
	serveCmd.Flags().BoolVar(&serveDaemonChild, "daemon-child", false, "internal flag for daemon child process")
	serveCmd.Flags().StringVar(&servePIDFile, "pid-file", "", "PID file path (default: ~/.addonsync/serve.pid)")
	serveCmd.Flags().StringVar(&serveLogFile, "log-file", "", "log file path (default: ~/.addonsync/serve.log)")
	serveCmd.Flags().BoolVar(&serveStop, "stop", false, "stop running daemon")

	// Hide the internal daemon-child flag from help
	serveCmd.Flags().MarkHidden("daemon-child")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if servePIDFile == "" {
		servePIDFile = cfg.PIDFile()
	}
	if serveLogFile == "" {
		serveLogFile = cfg.LogFile()
	}
	if serveAddr == "" {
		serveAddr = cfg.ListenAddr
	}

	if serveStop {
		return stopServeDaemon()
	}
	if serveDaemon {
		return startServeDaemon()
	}
	return runServer(cmd.Context())
}

func stopServeDaemon() error {
	running, err := server.IsDaemonRunning(servePIDFile)
	if err != nil {
		return fmt.Errorf("failed to check daemon status: %w", err)
	}
	if !running {
		fmt.Println("Daemon is not running")
		return nil
	}

	spinner := output.NewSpinner("Stopping daemon")
	spinner.Start()
	if err := server.StopDaemon(servePIDFile); err != nil {
		spinner.Stop()
		return fmt.Errorf("failed to stop daemon: %w", err)
	}
	spinner.StopWithMessage("✓ Daemon stopped")
	return nil
}

// daemonArgs are the arguments the detached child is started with.
func daemonArgs() []string {
	args := []string{"serve", "--daemon-child",
		"--addr", serveAddr,
		"--pid-file", servePIDFile,
	}
	if dbPath != "" {
		args = append(args, "--db", dbPath)
	}
	if queuePath != "" {
		args = append(args, "--queue", queuePath)
	}
	if serveDebug {
		args = append(args, "--debug")
	}
	return args
}

func startServeDaemon() error {
	spinner := output.NewSpinner("Starting daemon")
	spinner.Start()
	pid, err := server.StartDaemon(servePIDFile, serveLogFile, daemonArgs()...)
	if err != nil {
		spinner.Stop()
		return fmt.Errorf("failed to start daemon: %w", err)
	}
	spinner.StopWithMessage("✓ Daemon started")

	fmt.Printf("\nServing on %s (PID %d)\n", serveAddr, pid)
	fmt.Printf("  PID file: %s\n", servePIDFile)
	fmt.Printf("  Log file: %s\n", serveLogFile)
	fmt.Printf("\nTo stop: addonsync serve --stop\n")
	return nil
}

func runServer(parent context.Context) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	if serveDaemonChild {
		// The parent wrote the PID file; the child owns its removal.
		defer server.RemovePIDFile(servePIDFile)
	}

	d, err := e.dispatcher()
	if err != nil {
		return err
	}
	trigger := events.NewTrigger(d, e.logger)

	w, err := watcher.New(e.cfg.QueuePath, e.queue, trigger, e.logger)
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	w.SetPollInterval(e.cfg.PollInterval)
	if err := w.Start(); err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	defer w.Stop()

	srv := server.New(server.Options{
		Addr:    serveAddr,
		Trigger: trigger,
		Records: e.store,
		Queue:   e.queue,
		Metrics: e.metrics,
		Logger:  e.logger,
		Debug:   serveDebug,
	})

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !serveDaemonChild {
		fmt.Printf("Serving on %s (press Ctrl+C to stop)\n", serveAddr)
	}
	e.logger.Info("serving",
		zap.String("addr", serveAddr),
		zap.String("queue", e.cfg.QueuePath),
		zap.String("db", e.cfg.DBPath),
	)

	if err := srv.Run(ctx); err != nil {
		return err
	}
	if !serveDaemonChild {
		fmt.Println("Server stopped")
	}
	return nil
}
