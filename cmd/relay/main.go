package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/presencekit/relay-server/internal/app"
	"github.com/presencekit/relay-server/internal/client"
	"github.com/presencekit/relay-server/internal/config"
	"github.com/presencekit/relay-server/internal/log"
	"github.com/presencekit/relay-server/internal/proto"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "relay",
		Short:         "Real-time presence-and-messaging relay",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(newServeCmd(), newChatCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			bootLog := log.New("info")
			cfg, path, err := config.Load(bootLog, configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			logger := log.New(cfg.LogLevel)
			logger.Info().Str("config", path).Msg("configuration loaded")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, err := app.New(&cfg, logger)
			if err != nil {
				return err
			}

			logger.Info().Str("addr", cfg.Addr).Msg("starting relay server")
			if err := application.Run(ctx); err != nil {
				return fmt.Errorf("server exited: %w", err)
			}
			logger.Info().Msg("server stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to config file")
	return cmd
}

func newChatCmd() *cobra.Command {
	var (
		addr string
		user string
		peer string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Connect to a relay as a terminal chat client",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := log.New("warn")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cl := client.New(addr, user, peer, logger,
				client.WithOnEvent(renderEvent(user)))

			if err := cl.Connect(ctx); err != nil {
				return err
			}
			defer cl.Close()

			fmt.Printf("Connected to %s as %s\n", addr, user)
			fmt.Println("Type messages and press Enter to send.")
			fmt.Println("Commands: /typing, /avatar <seed>, /who, /quit")

			return inputLoop(ctx, cl)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "ws://localhost:8080/ws", "relay WebSocket address")
	cmd.Flags().StringVar(&user, "user", "cli-user", "identity to register")
	cmd.Flags().StringVar(&peer, "peer", "", "conversation counterpart identity")
	return cmd
}

func inputLoop(ctx context.Context, cl *client.Client) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := handleLine(ctx, cl, line); err != nil {
				if err == errQuit {
					return nil
				}
				fmt.Printf("! %v\n", err)
			}
		}
	}
}

var errQuit = errors.New("quit")

func handleLine(ctx context.Context, cl *client.Client, line string) error {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return nil
	case line == "/quit":
		return errQuit
	case line == "/typing":
		return cl.NotifyTyping(ctx)
	case line == "/who":
		fmt.Printf("online: %s\n", strings.Join(cl.OnlineUsers(), ", "))
		return nil
	case strings.HasPrefix(line, "/avatar "):
		seed := strings.TrimSpace(strings.TrimPrefix(line, "/avatar "))
		return cl.ChangeAvatar(ctx, seed)
	default:
		return cl.SendMessage(ctx, line)
	}
}

func renderEvent(self string) func(proto.Event) {
	return func(ev proto.Event) {
		switch ev := ev.(type) {
		case proto.Message:
			fmt.Printf("[%s] %s: %s\n", ev.Timestamp, ev.User, ev.Text)
		case proto.Typing:
			fmt.Printf("%s is typing...\n", ev.User)
		case proto.Read:
			fmt.Printf("%s read %d message(s)\n", ev.User, len(ev.MessageIDs))
		case proto.UserOnline:
			fmt.Printf("%s is online\n", ev.User)
		case proto.UserOffline:
			fmt.Printf("%s went offline\n", ev.User)
		case proto.OnlineUsers:
			fmt.Printf("online: %s\n", strings.Join(ev.Users, ", "))
		case proto.AvatarChange:
			if ev.User != self {
				fmt.Printf("%s changed avatar to %q\n", ev.User, ev.AvatarSeed)
			}
		}
	}
}
