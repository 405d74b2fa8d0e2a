package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/parley-dev/parley/internal/config"
	"github.com/parley-dev/parley/internal/history"
	"github.com/parley-dev/parley/internal/metrics"
	"github.com/parley-dev/parley/internal/mux"
	"github.com/parley-dev/parley/internal/render"
	"github.com/parley-dev/parley/internal/transport"
	"github.com/parley-dev/parley/pkg/protocol"
)

var (
	chatAgent     string
	chatTransport string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive session with the agent server",
	Long: `chat connects to the agent server and reads input lines from stdin.
Plain text is sent to the active session. Commands:

  /sessions             list sessions
  /new [agent]          start another session
  /switch <id>          bring a session to the foreground
  /respond <id> <json>  answer the pending widget action
  /cancel               cancel the in-flight exchange
  /end [id]             terminate a session
  /history <conv-id>    fetch a persisted conversation
  /quit                 exit`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatAgent, "agent", "", "agent definition name to start with")
	chatCmd.Flags().StringVar(&chatTransport, "transport", "", `transport: "stream" or "socket"`)
	rootCmd.AddCommand(chatCmd)
}

// consoleAuth satisfies the multiplexer's auth hook by telling the user.
type consoleAuth struct{}

func (consoleAuth) NotifyTokenExpired() {
	fmt.Fprintln(os.Stderr, "authorization rejected: refresh your token and restart")
}

func transportKind(name string) transport.Kind {
	if name == "socket" {
		return transport.KindSocket
	}
	return transport.KindStream
}

func runChat(cmd *cobra.Command, args []string) error {
	set := settings()
	if chatTransport != "" {
		set.Transport = chatTransport
	}

	defs, err := config.LoadDefinitions(set.DefinitionsDir)
	if err != nil {
		return err
	}

	opts := mux.StartOptions{
		Kind:      protocol.SessionReactive,
		Transport: transportKind(set.Transport),
	}
	if chatAgent != "" {
		def, ok := config.FindDefinition(defs, chatAgent)
		if !ok {
			return fmt.Errorf("unknown agent %q (have %d definitions)", chatAgent, len(defs))
		}
		opts.Kind = def.SessionKind()
		opts.Overrides = def.Overrides()
		opts.Definition = def.Name
		opts.Model = def.Model
	}

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	m := mux.New(mux.Config{
		Dialer:   transport.NewHTTPDialer(),
		BaseURL:  set.ServerURL,
		Token:    set.Token,
		Renderer: render.NewTerminal(),
		Auth:     consoleAuth{},
		History:  history.NewClient(set.ServerURL, set.Token),
		Logger:   logger,
		Metrics:  metrics.New(prometheus.DefaultRegisterer),
	})
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	id, err := m.StartSession(ctx, opts)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", set.ServerURL, err)
	}
	fmt.Printf("connected to %s (session %s, %s)\n", set.ServerURL, id, opts.Transport)

	return chatLoop(ctx, m, defs, opts.Transport)
}

func chatLoop(ctx context.Context, m *mux.Multiplexer, defs []config.Definition, tk transport.Kind) error {
	sc := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !sc.Scan() {
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			if err := m.SendText(ctx, line); err != nil {
				printErr(err)
			}
			continue
		}

		cmd, rest, _ := strings.Cut(line[1:], " ")
		rest = strings.TrimSpace(rest)
		switch cmd {
		case "quit", "exit":
			return nil
		case "sessions":
			for _, info := range m.Sessions() {
				marker := " "
				if info.ID == m.ActiveID() {
					marker = "*"
				}
				fmt.Printf("%s %s  %-10s %s\n", marker, info.ID, info.Status, info.Kind)
			}
		case "new":
			opts := mux.StartOptions{Kind: protocol.SessionReactive, Transport: tk}
			if rest != "" {
				def, ok := config.FindDefinition(defs, rest)
				if !ok {
					fmt.Printf("unknown agent %q\n", rest)
					continue
				}
				opts.Kind = def.SessionKind()
				opts.Overrides = def.Overrides()
				opts.Definition = def.Name
				opts.Model = def.Model
			}
			id, err := m.StartSession(ctx, opts)
			if err != nil {
				printErr(err)
				continue
			}
			fmt.Printf("session %s started\n", id)
		case "switch":
			if rest == "" {
				fmt.Println("usage: /switch <session-id>")
				continue
			}
			if err := m.SwitchTo(rest); err != nil {
				printErr(err)
			}
		case "respond":
			actionID, value, _ := strings.Cut(rest, " ")
			if actionID == "" || value == "" {
				fmt.Println("usage: /respond <action-id> <json-value>")
				continue
			}
			if !json.Valid([]byte(value)) {
				fmt.Println("value must be valid JSON")
				continue
			}
			if err := m.SubmitWidgetResponse(ctx, m.ActiveID(), actionID, json.RawMessage(value)); err != nil {
				printErr(err)
			}
		case "cancel":
			if err := m.CancelActive(ctx); err != nil {
				printErr(err)
			}
		case "end":
			id := rest
			if id == "" {
				id = m.ActiveID()
			}
			if id == "" {
				fmt.Println("no session to end")
				continue
			}
			if err := m.Terminate(id); err != nil {
				printErr(err)
			}
		case "history":
			if rest == "" {
				fmt.Println("usage: /history <conversation-id>")
				continue
			}
			msgs, err := m.FetchHistory(ctx, rest)
			if err != nil {
				printErr(err)
				continue
			}
			printConversation(msgs)
		default:
			fmt.Printf("unknown command /%s\n", cmd)
		}
	}
}

func printErr(err error) {
	switch {
	case errors.Is(err, mux.ErrFreeTextDenied):
		fmt.Println("this session does not accept free-form text right now")
	case errors.Is(err, mux.ErrSwitchDenied):
		fmt.Println("the active session does not allow switching away")
	case errors.Is(err, mux.ErrEndEarlyDenied):
		fmt.Println("this session does not allow ending early")
	case errors.Is(err, mux.ErrHistoryDenied):
		fmt.Println("this session does not allow browsing history")
	default:
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
}
