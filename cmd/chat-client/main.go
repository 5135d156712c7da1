package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"go.uber.org/zap"

	"chatcore/internal/client"
)

func main() {
	endpoint := flag.String("server", "http://localhost:8080", "Server base URL (e.g., http://localhost:8080)")
	username := flag.String("username", "", "Username for chat")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *username == "" {
		log.Fatal("Username is required. Use -username flag")
	}

	logger := zap.NewNop()
	if *debug {
		var err error
		logger, err = zap.NewDevelopment()
		if err != nil {
			log.Fatalf("Failed to build logger: %v", err)
		}
	}
	defer logger.Sync()

	cfg := client.DefaultConfig()
	cfg.Logger = logger

	core := client.New(*endpoint, cfg)
	if err := core.Connect(context.Background()); err != nil {
		log.Fatalf("Failed to connect to server: %v", err)
	}
	defer core.Close()

	log.Printf("Connected to %s as %s", *endpoint, *username)

	if err := core.SubmitUsername(*username); err != nil {
		log.Fatalf("Failed to authenticate: %v", err)
	}

	go render(core)

	fmt.Println("Type your messages (or 'quit' to exit):")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		if text == "quit" || text == "exit" {
			break
		}

		if err := core.SubmitMessageText(text); err != nil {
			log.Printf("Failed to send message: %v", err)
		}
	}

	if err := scanner.Err(); err != nil {
		log.Printf("Error reading input: %v", err)
	}

	log.Println("Disconnected from server")
}

// render prints timeline entries as they appear, with read-receipt ticks
// for the local user's own messages.
func render(core *client.Core) {
	printed := 0
	connected := true
	authenticated := false

	for range core.Updates() {
		snap := core.Snapshot()

		if snap.Connected != connected {
			connected = snap.Connected
			if connected {
				fmt.Println("*** connection restored ***")
			} else {
				fmt.Println("*** connection lost, retrying... ***")
			}
		}
		if snap.Authenticated && !authenticated {
			authenticated = true
			fmt.Printf("*** joined as %s (%d online) ***\n", snap.Username, len(snap.Roster))
		}

		for _, entry := range snap.Timeline[printed:] {
			switch e := entry.(type) {
			case client.ChatMessage:
				receipt := ""
				if e.Sender == snap.Username {
					receipt = " " + tick(snap.DeliveryStatuses[e.ID])
				}
				fmt.Printf("[%s] %s: %s%s\n", e.Timestamp.Format("15:04"), e.Sender, e.Text, receipt)
			case client.SystemNotice:
				fmt.Printf("*** %s ***\n", e.Text)
			}
		}
		printed = len(snap.Timeline)
	}
}

func tick(s client.Status) string {
	switch s {
	case client.StatusSending:
		return "(sending...)"
	case client.StatusSent:
		return "✓"
	case client.StatusReceived:
		return "✓✓"
	case client.StatusRead:
		return "✓✓ read"
	default:
		return ""
	}
}
