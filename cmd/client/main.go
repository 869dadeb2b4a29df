// Command client is a minimal terminal chat client. It drives the session
// state engine against a running server: pick or create a session, type
// messages, watch the answer stream in.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/12313awe/skalgpt/internal/chatstate"
	"github.com/12313awe/skalgpt/internal/i18n"
	"github.com/12313awe/skalgpt/internal/logger"
)

type consoleNotifier struct{}

func (consoleNotifier) Error(message string)   { fmt.Fprintln(os.Stderr, "! "+message) }
func (consoleNotifier) Success(message string) { fmt.Fprintln(os.Stderr, "* "+message) }

func main() {
	baseURL := flag.String("server", "http://localhost:8080", "server base URL")
	token := flag.String("token", os.Getenv("SKALGPT_TOKEN"), "bearer token from /api/login")
	lang := flag.String("lang", "tr", "notification language (tr, en)")
	flag.Parse()

	if *token == "" {
		fmt.Fprintln(os.Stderr, "a bearer token is required (-token or SKALGPT_TOKEN)")
		os.Exit(1)
	}

	ctx := context.Background()
	engine := chatstate.NewEngine(
		chatstate.NewHTTPClient(*baseURL, *token),
		consoleNotifier{},
		i18n.Lookup(*lang),
		logger.NewNop(),
	)

	// Render assistant fragments as the placeholder message fills in.
	var printed int
	unsubscribe := engine.Subscribe(func(st chatstate.State) {
		if !st.Responding || len(st.Messages) == 0 {
			return
		}
		last := st.Messages[len(st.Messages)-1]
		if len(last.Content) > printed {
			fmt.Print(last.Content[printed:])
			printed = len(last.Content)
		}
	})
	defer unsubscribe()

	if err := engine.FetchSessions(ctx); err != nil {
		os.Exit(1)
	}

	fmt.Println("commands: /sessions, /select <n>, /new, /delete <n>, /quit")
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 64*1024)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case line == "/quit":
			return
		case line == "/sessions":
			for i, s := range engine.State().Sessions {
				fmt.Printf("%d. %s (%s)\n", i+1, s.Title, s.UpdatedAt.Format("2006-01-02 15:04"))
			}
		case line == "/new":
			engine.StartNewConversation()
			fmt.Println("next message starts a new session")
		case strings.HasPrefix(line, "/select "):
			if s, ok := sessionArg(engine, strings.TrimPrefix(line, "/select ")); ok {
				if err := engine.SelectSession(ctx, s); err == nil {
					for _, m := range engine.State().Messages {
						fmt.Printf("[%s] %s\n", m.Role, m.Content)
					}
				}
			}
		case strings.HasPrefix(line, "/delete "):
			if s, ok := sessionArg(engine, strings.TrimPrefix(line, "/delete ")); ok {
				engine.DeleteSession(ctx, s)
			}
		default:
			printed = 0
			if err := engine.SendMessage(ctx, line); err == nil {
				fmt.Println()
			}
		}
	}
}

func sessionArg(engine *chatstate.Engine, arg string) (string, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(arg))
	sessions := engine.State().Sessions
	if err != nil || n < 1 || n > len(sessions) {
		fmt.Fprintln(os.Stderr, "no such session")
		return "", false
	}
	return sessions[n-1].ID, true
}
