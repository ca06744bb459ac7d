// Command chat is a line-oriented terminal client for the messaging server.
// It logs in, loads the conversation list, and reconciles history with live
// events the same way the web client does.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/Vishalthakur9634/course-chat/internal/client"
)

type notifier struct{}

func (notifier) Notify(level, message string) {
	fmt.Fprintf(os.Stderr, "[%s] %s\n", level, message)
}

func main() {
	server := flag.String("server", "http://localhost:8080", "server base URL")
	username := flag.String("user", "", "username")
	password := flag.String("pass", "", "password")
	flag.Parse()

	if *username == "" || *password == "" {
		fmt.Fprintln(os.Stderr, "usage: chat -user <name> -pass <password> [-server url]")
		os.Exit(1)
	}

	userID, token, err := login(*server, *username, *password)
	if err != nil {
		fmt.Fprintln(os.Stderr, "login failed:", err)
		os.Exit(1)
	}

	session := client.StaticSession{User: userID, BearerToken: token}
	store := client.NewStore(*server, session)
	channel := client.NewChannel(wsURL(*server), session)
	engine := client.NewEngine(session, store, channel, client.NewDirectory(), notifier{})

	engine.OnUpdate(func() {
		if entries := engine.Messages(); len(entries) > 0 {
			printEntry(entries[len(entries)-1], userID)
		}
	})

	ctx := context.Background()
	if err := channel.Connect(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "realtime connection failed, history only:", err)
	}
	defer channel.Close()

	if _, err := engine.LoadConversations(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "could not load conversations (use /list to retry)")
	}

	fmt.Println("commands: /list, /open <peer-id>, /read, /retry <draft-id>, /close, /quit")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case line == "/quit":
			return
		case line == "/list":
			summaries, err := engine.LoadConversations(ctx)
			if err != nil {
				continue
			}
			for _, s := range summaries {
				last := ""
				if s.LastMessage != nil {
					last = s.LastMessage.Body
				}
				fmt.Printf("%s (%s) unread=%d  %s\n", s.PeerUsername, s.PeerID, s.UnreadCount, last)
			}
		case strings.HasPrefix(line, "/open "):
			peer := strings.TrimSpace(strings.TrimPrefix(line, "/open "))
			if err := engine.Open(ctx, peer); err != nil {
				continue
			}
			for _, e := range engine.Messages() {
				printEntry(e, userID)
			}
		case line == "/read":
			if peer := engine.OpenPeer(); peer != "" {
				engine.MarkRead(ctx, peer)
			}
		case strings.HasPrefix(line, "/retry "):
			id, err := strconv.ParseInt(strings.TrimSpace(strings.TrimPrefix(line, "/retry ")), 10, 64)
			if err == nil {
				engine.Retry(ctx, id)
			}
		case line == "/close":
			engine.CloseConversation()
		default:
			engine.Send(ctx, line)
		}
	}
}

func login(server, username, password string) (userID, token string, err error) {
	body, _ := json.Marshal(map[string]string{"username": username, "password": password})
	resp, err := http.Post(server+"/api/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("server returned %d", resp.StatusCode)
	}

	var out struct {
		Token string `json:"token"`
		User  struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", "", err
	}
	return out.User.ID, out.Token, nil
}

func wsURL(server string) string {
	u := strings.Replace(server, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	return u + "/ws"
}

func printEntry(e client.Entry, self string) {
	who := e.Message.SenderID
	if who == self {
		who = "me"
	}
	suffix := ""
	switch e.State {
	case client.Persisting:
		suffix = " (sending)"
	case client.Failed:
		suffix = fmt.Sprintf(" (failed, /retry %d)", e.Message.ID)
	}
	fmt.Printf("%s  %s: %s%s\n", e.Message.CreatedAt.Format("15:04:05"), who, e.Message.Body, suffix)
}
