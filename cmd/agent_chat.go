package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/nanoroom/internal/config"
	"github.com/nextlevelbuilder/nanoroom/internal/gateway"
)

func agentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Talk to the bots",
	}
	cmd.AddCommand(agentChatCmd())
	return cmd
}

func agentChatCmd() *cobra.Command {
	var (
		room    string
		addr    string
		message string
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with a room through a running gateway",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				fmt.Fprintf(os.Stderr, "config error: %v\n", err)
				os.Exit(1)
			}
			if addr == "" {
				addr = fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port)
			}
			runChat(addr, room, message)
		},
	}
	cmd.Flags().StringVar(&room, "room", "general", "room to join")
	cmd.Flags().StringVar(&addr, "gateway", "", "gateway address (default from config)")
	cmd.Flags().StringVarP(&message, "message", "m", "", "send one message and exit")
	return cmd
}

func runChat(addr, room, message string) {
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot reach gateway at %s: %v\n", addr, err)
		fmt.Fprintln(os.Stderr, "Start it with:  nanoroom gateway")
		os.Exit(1)
	}
	defer conn.Close()

	if message != "" {
		if err := conn.WriteJSON(gateway.Frame{Type: "chat", Content: message, RoomID: room}); err != nil {
			fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
			os.Exit(1)
		}
		// One-shot: print replies until the connection goes quiet.
		for {
			var frame gateway.Frame
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			if frame.Type == "message" {
				fmt.Println(frame.Content)
				return
			}
			if frame.Type == "error" {
				fmt.Fprintln(os.Stderr, frame.Content)
				os.Exit(1)
			}
		}
	}

	printBanner(room, addr)

	// Replies arrive asynchronously: bots in the room may answer at any
	// time, so a reader goroutine prints frames as they come.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var frame gateway.Frame
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			switch frame.Type {
			case "message":
				bot := frame.Bot
				if bot == "" {
					bot = "bot"
				}
				fmt.Printf("\r%s: %s\nYou: ", bot, frame.Content)
			case "event":
				fmt.Fprintf(os.Stderr, "\r  [%s]\nYou: ", frame.Event)
			case "error":
				fmt.Fprintf(os.Stderr, "\rerror: %s\nYou: ", frame.Content)
			}
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("You: ")
	for scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			fmt.Print("You: ")
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Println("Goodbye!")
			return
		}
		if err := conn.WriteJSON(gateway.Frame{Type: "chat", Content: input, RoomID: room}); err != nil {
			fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
			return
		}
		select {
		case <-done:
			fmt.Fprintln(os.Stderr, "connection closed")
			return
		default:
		}
		fmt.Print("You: ")
	}
}

// printBanner draws the session header with a rule sized to the title.
func printBanner(room, addr string) {
	title := fmt.Sprintf("nanoroom — #%s @ %s", room, addr)
	rule := strings.Repeat("─", runewidth.StringWidth(title))
	fmt.Fprintln(os.Stderr, title)
	fmt.Fprintln(os.Stderr, rule)
	fmt.Fprintln(os.Stderr, `Type "exit" to quit, "/new" for a fresh conversation, "@name" to address a bot.`)
	fmt.Fprintln(os.Stderr)
}
