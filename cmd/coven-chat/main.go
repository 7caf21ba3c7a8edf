// ABOUTME: Interactive terminal chat client for the coven chat backend
// ABOUTME: Streams replies, keeps local history, and cancels a reply on Ctrl+C

package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/coven-chat/internal/api"
	"github.com/2389/coven-chat/internal/auth"
	"github.com/2389/coven-chat/internal/client"
	"github.com/2389/coven-chat/internal/config"
	"github.com/2389/coven-chat/internal/conversation"
	"github.com/2389/coven-chat/internal/dedupe"
	"github.com/2389/coven-chat/internal/logging"
	"github.com/2389/coven-chat/internal/store"
	"github.com/2389/coven-chat/internal/turn"
)

// version is set at build time.
var version = "dev"

func main() {
	configPath := flag.String("config", config.ResolvePath(), "Config file (YAML or TOML)")
	server := flag.String("server", "", "Chat server URL (overrides server.base_url)")
	chatID := flag.String("chat", "", "Chat ID to continue")
	flag.Parse()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: loading config: %v\n", err)
		os.Exit(1)
	}
	if *server != "" {
		cfg.Server.BaseURL = *server
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	logger := logging.Setup(cfg.Logging, os.Stderr)
	slog.SetDefault(logger)

	if err := run(cfg, *chatID, logger); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("\nGoodbye!")
}

// tokenSource checks COVEN_TOKEN, then the inline token, then the token file.
func tokenSource(cfg config.AuthConfig) auth.TokenSource {
	path := cfg.TokenFile
	if path == "" {
		path = auth.DefaultTokenPath()
	}
	return auth.CheckExpiry(auth.Chain(
		auth.EnvSource("COVEN_TOKEN"),
		auth.StaticSource(cfg.Token),
		auth.FileSource(path),
	))
}

// session is the REPL state.
type session struct {
	cfg    *config.Config
	svc    *conversation.Service
	rest   *api.Client
	logger *slog.Logger

	chatID string
	opts   turn.Options

	stopTitles context.CancelFunc
}

func run(cfg *config.Config, chatID string, logger *slog.Logger) error {
	st, err := store.NewSQLiteStore(cfg.History.Path)
	if err != nil {
		return fmt.Errorf("opening history: %w", err)
	}
	defer st.Close()

	cache := dedupe.New(cfg.Dedupe.TTL, cfg.Dedupe.MaxSize)
	defer cache.Close()

	tokens := tokenSource(cfg.Auth)
	streams := client.New(client.NewHTTPTransport(cfg.Server.BaseURL, tokens, nil, logger), cfg.Streaming.FlushInterval, logger)
	rest := api.New(cfg.Server.BaseURL, tokens, nil, logger)
	svc := conversation.New(streams, rest, st, cache, logger)
	defer svc.Close()

	s := &session{
		cfg:    cfg,
		svc:    svc,
		rest:   rest,
		logger: logger,
		opts:   turn.Options{ThinkMode: cfg.Streaming.ThinkMode, SearchMode: cfg.Streaming.SearchMode},
	}
	defer s.watchTitles("")

	cyan := color.New(color.FgCyan)
	cyan.Printf("coven-chat %s", version)
	fmt.Printf(" connected to %s\n", cfg.Server.BaseURL)
	fmt.Println("Type a message and press Enter. /help for commands. Ctrl+C stops a reply; /quit exits.")
	fmt.Println()

	if chatID != "" {
		s.use(chatID)
	}

	// Ctrl+C cancels the reply in progress; when idle it exits.
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(interrupts)

	lines := readLines(os.Stdin)

	for {
		s.prompt()

		var input string
		select {
		case <-interrupts:
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			input = strings.TrimSpace(line)
		}
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			quit, err := s.command(input, interrupts)
			if err != nil {
				fmt.Println(color.RedString("[error] %v", err))
			}
			if quit {
				return nil
			}
			fmt.Println()
			continue
		}

		if err := s.send(input, interrupts); err != nil {
			fmt.Println(color.RedString("[error] %v", err))
		}
		fmt.Println()
	}
}

// readLines feeds stdin lines to a channel closed at EOF.
func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

func (s *session) prompt() {
	var flags []string
	if s.opts.ThinkMode {
		flags = append(flags, "think")
	}
	if s.opts.SearchMode {
		flags = append(flags, "search")
	}
	tag := shortID(s.chatID)
	if tag == "" {
		tag = "new"
	}
	if len(flags) > 0 {
		tag += " " + strings.Join(flags, ",")
	}
	fmt.Printf("[%s]> ", tag)
}

// command runs a slash command and reports whether the REPL should exit.
func (s *session) command(input string, interrupts <-chan os.Signal) (bool, error) {
	name, args, _ := strings.Cut(input, " ")
	args = strings.TrimSpace(args)
	ctx := context.Background()

	switch name {
	case "/quit", "/exit", "/q":
		return true, nil

	case "/help":
		printHelp()

	case "/new":
		chat, err := s.svc.CreateChat(ctx, args)
		if err != nil {
			return false, err
		}
		s.use(chat.ID)
		fmt.Printf("Started chat %s (%s)\n", chat.ID, chat.Title)

	case "/chats":
		chats, err := s.svc.ListChats(ctx, 20)
		if err != nil {
			return false, err
		}
		if len(chats) == 0 {
			fmt.Println("No chats yet.")
		}
		for _, c := range chats {
			marker := "  "
			if c.ID == s.chatID {
				marker = "* "
			}
			fmt.Printf("%s%s  %s  %s\n", marker, c.ID, c.UpdatedAt.Local().Format("Jan 02 15:04"), c.Title)
		}

	case "/use":
		if args == "" {
			return false, errors.New("usage: /use <chat-id>")
		}
		s.use(args)
		fmt.Printf("Now using chat %s\n", args)

	case "/history":
		return false, s.history(ctx)

	case "/think":
		s.opts.ThinkMode = !s.opts.ThinkMode
		fmt.Printf("Think mode %s\n", onOff(s.opts.ThinkMode))

	case "/search":
		s.opts.SearchMode = !s.opts.SearchMode
		fmt.Printf("Search mode %s\n", onOff(s.opts.SearchMode))

	case "/edit":
		messageID, text, ok := strings.Cut(args, " ")
		if !ok || strings.TrimSpace(text) == "" {
			return false, errors.New("usage: /edit <message-id> <new text>")
		}
		if s.chatID == "" {
			return false, errors.New("no chat selected")
		}
		return false, s.stream(interrupts, func(ctx context.Context, r *renderer) (client.Outcome, error) {
			return s.svc.Edit(ctx, s.chatID, messageID, strings.TrimSpace(text), r)
		})

	case "/retry":
		if s.chatID == "" {
			return false, errors.New("no chat selected")
		}
		return false, s.stream(interrupts, func(ctx context.Context, r *renderer) (client.Outcome, error) {
			return s.svc.Retry(ctx, s.chatID, r)
		})

	case "/title":
		if s.chatID == "" {
			return false, errors.New("no chat selected")
		}
		chat, err := s.svc.Chat(ctx, s.chatID)
		if err != nil {
			return false, err
		}
		fmt.Println(chat.Title)

	case "/me":
		p, err := s.rest.Me(ctx)
		if err != nil {
			return false, err
		}
		fmt.Printf("Signed in as %s\n", p.ID)

	default:
		return false, fmt.Errorf("unknown command %s (try /help)", name)
	}
	return false, nil
}

func (s *session) send(content string, interrupts <-chan os.Signal) error {
	if s.chatID == "" {
		chat, err := s.svc.CreateChat(context.Background(), "")
		if err != nil {
			return err
		}
		s.use(chat.ID)
	}
	return s.stream(interrupts, func(ctx context.Context, r *renderer) (client.Outcome, error) {
		return s.svc.Send(ctx, conversation.SendRequest{ChatID: s.chatID, Content: content, Options: s.opts}, r)
	})
}

// stream runs one turn, cancelling it if an interrupt arrives first.
func (s *session) stream(interrupts <-chan os.Signal, start func(context.Context, *renderer) (client.Outcome, error)) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Streaming.RequestTimeout)
	defer cancel()

	r := newRenderer(os.Stdout)
	type result struct {
		out client.Outcome
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := start(ctx, r)
		done <- result{out, err}
	}()

	var res result
	select {
	case res = <-done:
	case <-interrupts:
		if !s.svc.Cancel(s.chatID) {
			cancel()
		}
		res = <-done
	}

	if errors.Is(res.err, conversation.ErrDuplicateSubmission) {
		fmt.Println(color.HiBlackString("(already sent)"))
		return nil
	}
	if res.out.Turn.ID != "" {
		r.finish(res.out)
	}
	return res.err
}

func (s *session) history(ctx context.Context) error {
	if s.chatID == "" {
		return errors.New("no chat selected")
	}
	msgs, err := s.svc.History(ctx, s.chatID, 20, "")
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		fmt.Println("No messages yet.")
	}
	gray := color.New(color.FgHiBlack)
	for _, m := range msgs {
		gray.Printf("%s ", m.ID)
		switch {
		case m.Role == store.RoleUser:
			fmt.Print(color.CyanString("you: "))
		default:
			fmt.Print(color.GreenString("assistant: "))
		}
		fmt.Print(truncate(m.Content, 200))
		if m.Moderated {
			fmt.Print(color.YellowString(" [moderated]"))
		}
		if m.Status == store.StatusFailed {
			fmt.Print(color.RedString(" [%s]", m.Reason))
		}
		fmt.Println()
	}
	return nil
}

// use switches the current chat and follows its title changes.
func (s *session) use(chatID string) {
	s.chatID = chatID
	s.watchTitles(chatID)
}

func (s *session) watchTitles(chatID string) {
	if s.stopTitles != nil {
		s.stopTitles()
		s.stopTitles = nil
	}
	if chatID == "" {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.stopTitles = cancel

	notes, _ := s.svc.Broadcaster().Subscribe(ctx, chatID)
	go func() {
		for n := range notes {
			if n.Kind == conversation.NotifyTitleChanged {
				fmt.Print(color.HiBlackString("\n(chat titled %q)\n", n.Title))
			}
		}
	}()
}

func printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  /new [title]          Start a new chat")
	fmt.Println("  /chats                List recent chats")
	fmt.Println("  /use <id>             Switch to a chat")
	fmt.Println("  /history              Show recent messages with their IDs")
	fmt.Println("  /think                Toggle think mode")
	fmt.Println("  /search               Toggle search mode")
	fmt.Println("  /edit <id> <text>     Replace a message and everything after it")
	fmt.Println("  /retry                Resend the last message")
	fmt.Println("  /title                Show the chat title")
	fmt.Println("  /me                   Show who you are signed in as")
	fmt.Println("  /help                 Show this help")
	fmt.Println("  /quit                 Exit")
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// truncate shortens s to maxLen runes.
func truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
