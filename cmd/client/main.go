package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/termchat/termchat/internal/client"
	"github.com/termchat/termchat/internal/domain"
	"github.com/termchat/termchat/internal/protocol"
)

func main() {
	var (
		server   = flag.String("server", "http://localhost:8080", "server base URL")
		username = flag.String("username", "", "account name")
		password = flag.String("password", "", "account password")
		email    = flag.String("email", "", "email address (register only)")
		room     = flag.String("room", "general", "room to join")
		register = flag.Bool("register", false, "create the account first")
		history  = flag.Int("history", 20, "messages to replay on join")
	)
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.WarnLevel)

	if *username == "" || *password == "" {
		fmt.Fprintln(os.Stderr, "usage: client -username NAME -password PASS [-register -email ADDR] [-room NAME]")
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *server, *username, *password, *email, *room, *register, *history); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, server, username, password, email, roomName string, register bool, history int) error {
	sess := client.NewSession(server)

	if register {
		if email == "" {
			return fmt.Errorf("-register requires -email")
		}
		if err := sess.Register(ctx, username, email, password); err != nil {
			return fmt.Errorf("register: %w", err)
		}
		fmt.Println("registered; verify the address the server mailed, then log in")
	}

	if err := sess.Login(ctx, username, password); err != nil {
		return fmt.Errorf("login: %w", err)
	}

	roomID, err := findRoom(ctx, sess, roomName)
	if err != nil {
		return err
	}
	if err := sess.JoinRoom(ctx, roomID); err != nil {
		return fmt.Errorf("join room: %w", err)
	}

	if history > 0 {
		entries, err := sess.History(ctx, roomID, history)
		if err != nil {
			return fmt.Errorf("history: %w", err)
		}
		for _, e := range entries {
			fmt.Printf("[%s] %s: %s\n", e.Timestamp.Local().Format("15:04"), e.Username, e.Content)
		}
	}

	if err := sess.Connect(ctx, roomID); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer sess.Disconnect()
	fmt.Printf("joined #%s as %s (ctrl-d or /quit to leave)\n", roomName, username)

	go printLoop(sess.Receive())

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" {
			break
		}
		if err := sess.Send(line); err != nil {
			return fmt.Errorf("send: %w", err)
		}
	}
	return scanner.Err()
}

// findRoom resolves a room name to its identifier, creating the room if
// the server has no room by that name.
func findRoom(ctx context.Context, sess *client.Session, name string) (domain.RoomID, error) {
	rooms, err := sess.Rooms(ctx)
	if err != nil {
		return "", fmt.Errorf("list rooms: %w", err)
	}
	for _, r := range rooms {
		if r.Name == name {
			return r.ID, nil
		}
	}
	created, err := sess.CreateRoom(ctx, name, "")
	if err != nil {
		return "", fmt.Errorf("create room: %w", err)
	}
	return created.ID, nil
}

func printLoop(recv <-chan protocol.Envelope) {
	for env := range recv {
		switch m := env.(type) {
		case protocol.ChatMessage:
			fmt.Printf("[%s] %s: %s\n", m.Timestamp.Local().Format("15:04"), m.SenderName, m.Content)
		case protocol.Presence:
			verb := "joined"
			if m.Kind == protocol.PresenceLeft {
				verb = "left"
			}
			fmt.Printf("* %s %s\n", m.DisplayName, verb)
		case protocol.VoiceSignal:
			fmt.Printf("* voice %s from %s\n", m.Kind, m.From)
		}
	}
	fmt.Println("* disconnected")
}
