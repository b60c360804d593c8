package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Nyukimin/portalclaw/internal/adapter/console"
	"github.com/Nyukimin/portalclaw/internal/adapter/httpapi"
	"github.com/Nyukimin/portalclaw/internal/application/dispatcher"
	"github.com/Nyukimin/portalclaw/internal/application/poller"
	"github.com/Nyukimin/portalclaw/internal/domain/directive"
	"github.com/Nyukimin/portalclaw/internal/domain/mode"
	"github.com/Nyukimin/portalclaw/internal/domain/task"
)

var (
	// chat flags
	chatSession string

	// poll flags
	pollOnce bool

	// task add flags
	taskMode    string
	taskSession string

	// parse flags
	parseRun  bool
	parseMode string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API (and the task poller when enabled)",
	RunE:  runServe,
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive console session",
	RunE:  runChat,
}

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Run the background task poller",
	RunE:  runPoll,
}

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage background tasks",
}

var taskAddCmd = &cobra.Command{
	Use:   "add <command...>",
	Short: "Enqueue a task",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runTaskAdd,
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	Args:  cobra.NoArgs,
	RunE:  runTaskList,
}

var parseCmd = &cobra.Command{
	Use:   "parse [text]",
	Short: "Show the directives found in text (stdin when omitted or \"-\")",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runParse,
}

func init() {
	chatCmd.Flags().StringVar(&chatSession, "session", "", "Session ID (default: console-<timestamp>)")

	pollCmd.Flags().BoolVar(&pollOnce, "once", false, "Process pending tasks once and exit")

	taskAddCmd.Flags().StringVar(&taskMode, "mode", "", "Operating mode for the task (chat|hybrid|autonomous)")
	taskAddCmd.Flags().StringVar(&taskSession, "session", "", "Session the task runs in")
	taskCmd.AddCommand(taskAddCmd)
	taskCmd.AddCommand(taskListCmd)

	parseCmd.Flags().BoolVar(&parseRun, "run", false, "Execute the directives instead of only listing them")
	parseCmd.Flags().StringVar(&parseMode, "mode", "chat", "Operating mode used with --run")
}

func runServe(cmd *cobra.Command, args []string) error {
	deps, err := buildDependencies(cfg, logger, true)
	if err != nil {
		return err
	}
	defer deps.Close()

	server := httpapi.NewServer(httpapi.Deps{
		Conversation: deps.Orchestrator,
		Log:          deps.Store,
		Tasks:        deps.Tasks,
		Agents:       deps.Store.Agents(),
		Health:       deps.Health,
	}, logger)

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(cmd.Context())

	g.Go(func() error {
		logger.Info("http server listening", zap.String("addr", addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		logger.Info("shutting down http server")
		return httpServer.Shutdown(shutdownCtx)
	})

	if cfg.Tasks.Poll {
		p := newPoller(deps)
		g.Go(func() error {
			return p.Run(ctx)
		})
	}

	return g.Wait()
}

func runChat(cmd *cobra.Command, args []string) error {
	deps, err := buildDependencies(cfg, logger, true)
	if err != nil {
		return err
	}
	defer deps.Close()

	sessionID := chatSession
	if sessionID == "" {
		sessionID = "console-" + time.Now().Format("20060102-150405")
	}

	rl, err := console.NewReadline(filepath.Join(cfg.Session.StorageDir, ".console_history"))
	if err != nil {
		return fmt.Errorf("failed to start console: %w", err)
	}
	defer rl.Close()

	c := console.New(deps.Orchestrator, rl, os.Stdout, sessionID, cfg.DefaultMode(), logger)
	return c.Run(cmd.Context())
}

func runPoll(cmd *cobra.Command, args []string) error {
	deps, err := buildDependencies(cfg, logger, true)
	if err != nil {
		return err
	}
	defer deps.Close()

	p := newPoller(deps)
	if pollOnce {
		n, err := p.RunOnce(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Processed %d task(s)\n", n)
		return nil
	}
	return p.Run(cmd.Context())
}

func newPoller(deps *Dependencies) *poller.Poller {
	return poller.NewPoller(deps.Tasks, deps.Orchestrator, poller.Options{
		Interval:    cfg.Tasks.Interval,
		Mode:        cfg.TaskMode(),
		TaskTimeout: cfg.Tasks.Timeout,
	}, logger)
}

func runTaskAdd(cmd *cobra.Command, args []string) error {
	now := time.Now()
	t := task.NewTask(task.NewID(now), strings.Join(args, " "), now)

	if taskMode != "" {
		m, err := mode.Parse(taskMode)
		if err != nil {
			return err
		}
		t = t.WithMode(m)
	}
	if taskSession != "" {
		t = t.WithSession(taskSession)
	}

	repo := taskRepository()
	if err := repo.Enqueue(cmd.Context(), t); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Enqueued task %s\n", t.ID())
	return nil
}

func runTaskList(cmd *cobra.Command, args []string) error {
	tasks, err := taskRepository().List(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), task.Summarize(tasks))
	return nil
}

func runParse(cmd *cobra.Command, args []string) error {
	text, err := parseInput(cmd, args)
	if err != nil {
		return err
	}

	if !parseRun {
		out := cmd.OutOrStdout()
		found := directive.Parse(text)
		if len(found) == 0 {
			fmt.Fprintln(out, "No directives found.")
			return nil
		}
		for i, d := range found {
			fmt.Fprintf(out, "%d. @%s args=%q", i+1, d.Name, d.Args)
			if d.HasBody {
				fmt.Fprintf(out, " body=%d bytes", len(d.Body))
			}
			fmt.Fprintln(out)
		}
		return nil
	}

	m, err := mode.Parse(parseMode)
	if err != nil {
		return err
	}
	deps, err := buildDependencies(cfg, logger, false)
	if err != nil {
		return err
	}
	defer deps.Close()

	rendered, _ := deps.Orchestrator.Execute(cmd.Context(), text, dispatcher.Scope{
		SessionID: "cli",
		Mode:      m,
	})
	if rendered == "" {
		rendered = "No directives found."
	}
	fmt.Fprintln(cmd.OutOrStdout(), rendered)
	return nil
}

func parseInput(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		return args[0], nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	return string(data), nil
}
