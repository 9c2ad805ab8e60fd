// widget-tui runs the configured agent widgets in the terminal. It reads the
// same environment and widgets file as the dashboard server.
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/ashureev/agent-widgets/internal/agent"
	"github.com/ashureev/agent-widgets/internal/config"
	"github.com/ashureev/agent-widgets/internal/dashboard"
	"github.com/ashureev/agent-widgets/internal/tui"
	"github.com/ashureev/agent-widgets/internal/widget"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var widgetsFile, widgetID, logOutput string

	flagSet := pflag.NewFlagSet("widget-tui", pflag.ContinueOnError)
	flagSet.StringVar(&widgetsFile, "widgets", "", "widgets YAML file (default: $WIDGETS_FILE or ./widgets.yaml)")
	flagSet.StringVar(&widgetID, "widget", "", "widget to open first (default: the first configured)")
	flagSet.StringVar(&logOutput, "log-output", "", "write JSON log records to this file")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	// The terminal belongs to the UI, so logs only go to a file.
	var logSink io.Writer = io.Discard
	if logOutput != "" {
		f, err := os.OpenFile(logOutput, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("open log output: %w", err)
		}
		defer f.Close()
		logSink = f
	}
	logger := slog.New(slog.NewJSONHandler(logSink, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if widgetsFile != "" {
		if cfg.Widgets, err = config.LoadWidgets(widgetsFile); err != nil {
			return err
		}
		if err := config.ValidateWidgets(cfg.Widgets); err != nil {
			return err
		}
	}

	conversationLogger, err := agent.NewConversationLogger(agent.ConversationLogConfig{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		return fmt.Errorf("conversation logger: %w", err)
	}
	defer func() {
		if closeErr := conversationLogger.Close(); closeErr != nil {
			slog.Error("Failed to close conversation logger", "error", closeErr)
		}
	}()

	services := make(map[string]*agent.Service, len(cfg.Widgets))
	for _, wc := range cfg.Widgets {
		clientCfg := agent.DefaultClientConfig()
		clientCfg.Endpoint = wc.Endpoint
		clientCfg.AccessKey = wc.AccessKey
		clientCfg.Model = wc.Model
		clientCfg.Timeout = cfg.AgentTimeout
		client, err := agent.NewClient(clientCfg)
		if err != nil {
			return fmt.Errorf("widget %s: %w", wc.ID, err)
		}
		services[wc.ID] = agent.NewService(wc.ID, client, conversationLogger)
	}

	reg := dashboard.NewRegistry(cfg.Widgets, func(wc widget.Config, visitorID string) *widget.Controller {
		return widget.NewController(wc, services[wc.ID].Session(visitorID, agent.ChannelTerminal),
			widget.WithSerializedSends(cfg.SerializeSends),
			widget.WithLogger(logger),
		)
	})
	defer reg.Close()

	model, err := tui.New(reg, widgetID)
	if err != nil {
		return err
	}
	defer model.Close()

	if _, err := tea.NewProgram(model, tea.WithAltScreen(), tea.WithMouseCellMotion()).Run(); err != nil {
		return fmt.Errorf("run terminal UI: %w", err)
	}
	return nil
}
