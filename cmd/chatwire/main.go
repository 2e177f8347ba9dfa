package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/chatwire/chatwire/internal/config"
	"github.com/chatwire/chatwire/internal/logger"
	"github.com/chatwire/chatwire/internal/version"
	"github.com/chatwire/chatwire/pkg/types"
	"github.com/chatwire/chatwire/sdk"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	args, err := parseFlags(cfg, os.Args[1:])
	if err != nil {
		return err
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger.SetLevel(level)

	if len(args) > 0 {
		switch args[0] {
		case "help", "--help", "-h":
			printUsage()
			return nil
		case "version", "--version", "-v":
			fmt.Printf("chatwire %s\n", version.RichVersion())
			return nil
		}
	}

	if cfg.Username == "" {
		return fmt.Errorf("no username configured (set CHATWIRE_USERNAME or --username)")
	}

	tokenData, err := os.ReadFile(cfg.AccessKey)
	if err != nil {
		return fmt.Errorf("failed to read access token: %w", err)
	}
	token := strings.TrimSpace(string(tokenData))

	client := sdk.NewClient(sdk.Options{
		ServerURL:         cfg.ServerURL,
		Token:             token,
		Username:          cfg.Username,
		HeartbeatInterval: cfg.HeartbeatInterval,
	})
	defer client.Close()

	client.SetListener(&consoleListener{client: client})
	client.SetTypingListener(func(username string, typing bool) {
		if typing {
			fmt.Printf("* %s is typing...\n", username)
		}
	})
	client.SetSendResultListener(func(id string, status types.MessageStatus) {
		if status == types.StatusFailed {
			fmt.Printf("! message delivery failed, resend with /resend %s\n", id)
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = client.Connect(ctx)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	switch {
	case len(args) >= 2 && args[0] == "dm":
		err = client.JoinDirect(args[1])
	case cfg.Team != "" && cfg.Channel != "":
		err = client.JoinChannel(cfg.Team, cfg.Channel)
	default:
		return fmt.Errorf("no conversation selected (set CHATWIRE_TEAM and CHATWIRE_CHANNEL, or use: chatwire dm <user>)")
	}
	if err != nil {
		return fmt.Errorf("failed to join conversation: %w", err)
	}

	log.Printf("Connected to %s as %s. Type a message, or /quit to exit.", cfg.ServerURL, cfg.Username)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigc
		client.Disconnect("interrupted")
		os.Exit(0)
	}()

	return inputLoop(client, os.Stdin)
}

// inputLoop reads lines from the terminal and turns them into sends or
// slash commands until EOF or /quit.
func inputLoop(client *sdk.Client, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			if _, err := client.SendMessage(line); err != nil {
				fmt.Printf("! %v\n", err)
			}
			continue
		}

		cmd, arg, _ := strings.Cut(line[1:], " ")
		switch cmd {
		case "quit", "exit":
			client.Disconnect("user quit")
			return nil
		case "history":
			if err := client.FetchOlderHistory(); err != nil {
				fmt.Printf("! %v\n", err)
			}
		case "resend":
			if _, err := client.ResendMessage(strings.TrimSpace(arg)); err != nil {
				fmt.Printf("! %v\n", err)
			}
		case "dm":
			if err := client.JoinDirect(strings.TrimSpace(arg)); err != nil {
				fmt.Printf("! %v\n", err)
			}
		case "join":
			team, channel, ok := strings.Cut(strings.TrimSpace(arg), "/")
			if !ok {
				fmt.Println("usage: /join <team>/<channel>")
				continue
			}
			if err := client.JoinChannel(team, channel); err != nil {
				fmt.Printf("! %v\n", err)
			}
		default:
			fmt.Printf("unknown command /%s\n", cmd)
		}
	}
	return scanner.Err()
}

// consoleListener prints engine events to the terminal.
type consoleListener struct {
	client *sdk.Client
}

func (l *consoleListener) OnConnected() {
	fmt.Println("* connected")
}

func (l *consoleListener) OnDisconnected(reason string) {
	fmt.Printf("* disconnected: %s\n", reason)
}

func (l *consoleListener) OnError(message string) {
	fmt.Printf("! %s\n", message)
}

func (l *consoleListener) OnMessagesChanged() {
	msgs := l.client.Messages()
	if len(msgs) == 0 {
		return
	}
	last := msgs[len(msgs)-1]
	fmt.Printf("[%s] %s (%s)\n", last.Sender, last.Text, last.Status)
}

func parseFlags(cfg *config.Config, args []string) ([]string, error) {
	fs := flag.NewFlagSet("chatwire", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	serverURL := fs.String("server-url", "", "Chat server websocket URL")
	username := fs.String("username", "", "Local username")
	team := fs.String("team", "", "Team to join on startup")
	channel := fs.String("channel", "", "Channel to join on startup")
	logLevel := fs.String("log-level", "", "Log verbosity (trace|debug|info|warn|error)")
	showHelp := fs.Bool("help", false, "Show help")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *showHelp {
		printUsage()
		return nil, nil
	}

	if *serverURL != "" {
		cfg.ServerURL = *serverURL
	}
	if *username != "" {
		cfg.Username = *username
	}
	if *team != "" {
		cfg.Team = *team
	}
	if *channel != "" {
		cfg.Channel = *channel
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	return fs.Args(), nil
}

func printUsage() {
	fmt.Println(`chatwire - terminal client for the chatwire sync engine

Usage:
  chatwire                 Connect and join the configured team channel
  chatwire dm <user>       Connect and open a direct conversation
  chatwire version         Show version information
  chatwire help            Show this help message

In-session commands:
  /join <team>/<channel>   Switch to a team channel
  /dm <user>               Switch to a direct conversation
  /history                 Load one older page of history
  /resend <id>             Resend a failed message
  /quit                    Disconnect and exit

Environment Variables:
  CHATWIRE_SERVER_URL   Server URL (default: wss://chat.chatwire.dev/ws)
  CHATWIRE_USERNAME     Local username
  CHATWIRE_TEAM         Team to join on startup
  CHATWIRE_CHANNEL      Channel to join on startup
  CHATWIRE_HOME_DIR     Config directory (default: ~/.chatwire)
  CHATWIRE_HEARTBEAT    Keep-alive interval (default: 30s)
  CHATWIRE_LOG_LEVEL    Log verbosity (trace|debug|info|warn|error)
  DEBUG                 Enable debug logging (true/1)

Flags:
  --server-url          Chat server websocket URL
  --username            Local username
  --team                Team to join on startup
  --channel             Channel to join on startup
  --log-level           Log verbosity`)
}
