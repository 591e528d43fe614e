package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/omochice/canvas-presence/internal/canvasurl"
	"github.com/omochice/canvas-presence/internal/config"
	"github.com/omochice/canvas-presence/internal/logging"
	"github.com/omochice/canvas-presence/internal/metrics"
	"github.com/omochice/canvas-presence/internal/pinning"
	"github.com/omochice/canvas-presence/internal/presence"
	"github.com/omochice/canvas-presence/internal/transport"
	"github.com/omochice/canvas-presence/internal/transport/gobwas"
	"github.com/omochice/canvas-presence/internal/transport/ws"
	"github.com/omochice/canvas-presence/pkg/protocol"
)

func watchCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "watch [canvas...]",
		Short: "Join canvases and print presence changes",
		Long: `Join the given canvases (ids or links) and print users as they join,
move their cursor and leave. Commands typed on stdin join and leave more
canvases; type 'help' for the list.

On unix, SIGUSR1 drops the connection as if the app went to the background
and SIGUSR2 brings it back.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), configPath, args, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file (defaults to $PRESENCE_CONFIG)")

	return cmd
}

func runWatch(ctx context.Context, configPath string, canvases []string, in io.Reader, out io.Writer) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	if cfg.Metrics.Addr != "" {
		srv := serveMetrics(cfg.Metrics.Addr, reg, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	c, err := newController(cfg, logger, m)
	if err != nil {
		return err
	}
	defer c.Close()

	p := &printer{w: out}
	c.Register(p)

	for _, ref := range canvases {
		id, ok := canvasurl.Resolve(ref)
		if !ok {
			return fmt.Errorf("not a canvas id or link: %q", ref)
		}
		_ = c.Join(id)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	lifecycle := make(chan os.Signal, 1)
	if len(lifecycleSignals) > 0 {
		signal.Notify(lifecycle, lifecycleSignals...)
		defer signal.Stop(lifecycle)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			logger.Warn("failed to read input", zap.Error(err))
		}
	}()

	p.println("Type 'help' for commands, 'quit' to exit.")
	for {
		select {
		case <-ctx.Done():
			return nil
		case sig := <-lifecycle:
			if isBackground(sig) {
				logger.Info("entering background")
				_ = c.OnBackground()
			} else {
				logger.Info("entering foreground")
				_ = c.OnForeground()
			}
		case line, ok := <-lines:
			if !ok {
				// Keep watching after stdin closes, e.g. when run with </dev/null.
				lines = nil
				continue
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			quit, err := execute(c, p, line)
			if err != nil {
				p.println(err.Error())
			}
			if quit {
				return nil
			}
		}
	}
}

func newController(cfg config.Config, logger *zap.Logger, m *metrics.Metrics) (*presence.Controller, error) {
	url, err := cfg.SocketURL()
	if err != nil {
		return nil, err
	}

	var dialer transport.Dialer
	switch cfg.Server.Transport {
	case "gobwas":
		dialer = gobwas.NewDialer()
	default:
		dialer = ws.NewDialer()
	}

	opts := presence.Options{
		URL:               url,
		Origin:            cfg.Server.Origin,
		Dialer:            dialer,
		Logger:            logger,
		Metrics:           m,
		KeepaliveInterval: cfg.Presence.KeepaliveInterval,
		WriteTimeout:      cfg.Presence.WriteTimeout,
		DialTimeout:       cfg.Presence.DialTimeout,
		MaxQueue:          cfg.Presence.MaxQueue,
	}
	if cfg.Server.CertFile != "" {
		mode, err := pinning.ParseMode(cfg.Server.Pin)
		if err != nil {
			return nil, err
		}
		opts.Trust = pinning.New(cfg.Server.CertFile, mode)
	}
	if cfg.Presence.MonotonicRefs {
		opts.Refs = &protocol.CounterRefs{}
	}

	account := presence.Account{User: protocol.User{
		ID:       cfg.Account.UserID,
		Username: cfg.Account.Username,
		Email:    cfg.Account.Email,
	}}
	c, err := presence.New(account, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create presence client: %w", err)
	}
	return c, nil
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.InstrumentMetricHandler(reg, promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		logger.Info("serving metrics", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	return srv
}

// execute runs one line of input. It reports true when the user asked to quit.
func execute(c *presence.Controller, p *printer, line string) (bool, error) {
	cmd, err := parseCommand(line)
	if err != nil {
		return false, err
	}

	switch cmd.name {
	case "quit":
		return true, nil
	case "help":
		p.println(help)
	case "join":
		err = c.Join(cmd.canvasID)
	case "leave":
		err = c.Leave(cmd.canvasID)
	case "cursor":
		err = c.UpdateCursor(cmd.canvasID, cmd.cursor)
	case "who":
		users := c.UsersPresent(cmd.canvasID)
		if len(users) == 0 {
			p.printf("%s: nobody else here\n", cmd.canvasID)
		}
		for _, u := range users {
			p.printf("%s: %s\n", cmd.canvasID, displayName(u))
		}
	case "topics":
		for _, id := range c.Topics() {
			p.println(id)
		}
		p.printf("(%s)\n", c.State())
	case "bg":
		err = c.OnBackground()
	case "fg":
		err = c.OnForeground()
	}
	return false, err
}

// printer prints presence events. It is shared by the observer dispatcher and
// the input loop.
type printer struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format, args...)
}

func (p *printer) println(s string) {
	p.printf("%s\n", s)
}

func (p *printer) OnJoin(canvasID string, user protocol.User, cursor *protocol.Cursor) {
	p.printf("*** %s joined %s%s ***\n", displayName(user), canvasID, formatCursor(cursor))
}

func (p *printer) OnUpdate(canvasID string, user protocol.User, cursor *protocol.Cursor) {
	p.printf("[%s] %s%s\n", canvasID, displayName(user), formatCursor(cursor))
}

func (p *printer) OnLeave(canvasID string, user protocol.User) {
	p.printf("*** %s left %s ***\n", displayName(user), canvasID)
}

func displayName(u protocol.User) string {
	if u.Username != "" {
		return u.Username
	}
	return u.ID
}

func formatCursor(c *protocol.Cursor) string {
	if c == nil {
		return ""
	}
	return fmt.Sprintf(" at %d:%d-%d:%d", c.StartLine, c.Start, c.EndLine, c.End)
}
