// roomhub CLI - command line client for a roomhub server
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/eldtechnologies/roomhub/clients/go/roomhub"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	client := roomhub.NewClient(os.Getenv("ROOMHUB_URL"))
	userID := os.Getenv("ROOMHUB_USER")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cmd := os.Args[1]

	switch cmd {
	case "health":
		resp, err := client.Health(ctx)
		exitOnError(err)
		printJSON(resp)

	case "presence":
		requireArgs(3, "roomhub presence <room_id>")
		resp, err := client.Presence(ctx, os.Args[2])
		exitOnError(err)
		fmt.Printf("%s (%s): %d online, %d members\n", resp.Name, resp.RoomID, resp.Online, resp.Members)

	case "read":
		requireArgs(3, "roomhub read <room_id>")
		requireUser(userID)
		resp, err := client.Messages(ctx, os.Args[2], userID, 20, "")
		exitOnError(err)
		for _, msg := range resp.Messages {
			ts := time.UnixMilli(msg.Timestamp).Format("2006-01-02 15:04:05")
			fmt.Printf("[%s] %s: %s\n", ts, msg.UserID, msg.Message)
		}

	case "say":
		requireArgs(4, "roomhub say <room_id> <message>")
		requireUser(userID)
		s, err := client.Dial(ctx, userID)
		exitOnError(err)
		defer s.Close()
		exitOnError(s.Join(os.Args[2]))
		exitOnError(s.Say(os.Args[2], os.Args[3]))
		waitFor(ctx, s, "messageReceived")

	case "listen":
		requireArgs(3, "roomhub listen <room_id>")
		requireUser(userID)
		s, err := client.Dial(ctx, userID)
		exitOnError(err)
		defer s.Close()
		exitOnError(s.Join(os.Args[2]))
		for {
			e, err := s.Next(ctx)
			if err != nil {
				if ctx.Err() == nil {
					fmt.Fprintln(os.Stderr, "Error:", err)
				}
				return
			}
			printEvent(e)
		}

	case "help", "--help", "-h":
		usage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

// waitFor prints events until one of the given kind arrives or a few
// seconds pass.
func waitFor(ctx context.Context, s *roomhub.Session, kind string) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for {
		e, err := s.Next(ctx)
		if err != nil {
			return
		}
		printEvent(e)
		if e.Event == kind || e.Event == "error" {
			return
		}
	}
}

func printEvent(e *roomhub.Event) {
	switch e.Event {
	case "messageReceived":
		var msg roomhub.ChatMessage
		if e.Decode(&msg) == nil {
			fmt.Printf("%s: %s\n", msg.Username, msg.Message)
			return
		}
	case "error":
		var text string
		if e.Decode(&text) == nil {
			fmt.Printf("! %s\n", text)
			return
		}
	default:
		var a roomhub.Announcement
		if e.Decode(&a) == nil && a.Message != "" {
			fmt.Printf("* %s\n", a.Message)
			return
		}
	}
	fmt.Printf("%s %s\n", e.Event, e.Data)
}

func usage() {
	fmt.Println(`roomhub CLI

Usage: roomhub <command> [options]

Commands:
  presence <room>         Show online and total members of a room
  read <room>             Read recent messages (members only)
  say <room> <message>    Join a room and post a message
  listen <room>           Join a room and print its events
  health                  Check server health

Environment:
  ROOMHUB_URL    Server URL (default: http://localhost:8080)
  ROOMHUB_USER   User id to act as`)
}

func requireArgs(n int, usage string) {
	if len(os.Args) < n {
		fmt.Fprintln(os.Stderr, "Usage:", usage)
		os.Exit(1)
	}
}

func requireUser(userID string) {
	if userID == "" {
		fmt.Fprintln(os.Stderr, "ROOMHUB_USER is not set")
		os.Exit(1)
	}
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}
