// Package main provides a stress testing tool for the chat WebSocket server.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

// Metrics tracks the test results
type Metrics struct {
	ConnectionsAttempted int64
	ConnectionsSuccess   int64
	ConnectionsFailed    int64
	MessagesSent         int64
	MessagesReceived     int64
	Errors               int64
}

var metrics Metrics

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func main() {
	host := flag.String("host", "localhost:8375", "API server host")
	token := flag.String("token", os.Getenv("MESSENGER_TOKEN"), "Bearer token (see cmd/seed output)")
	chatID := flag.Uint("chat", 1, "Chat to join and post into")
	clients := flag.Int("clients", 50, "Number of concurrent clients")
	interval := flag.Duration("interval", 5*time.Second, "Delay between messages per client")
	duration := flag.Duration("duration", 30*time.Second, "Test duration")
	flag.Parse()

	if *token == "" {
		log.Fatal("❌ -token or MESSENGER_TOKEN is required")
	}

	log.Printf("🚀 Starting Chat Stress Test")
	log.Printf("Target: %s chat %d", *host, *chatID)
	log.Printf("Clients: %d", *clients)
	log.Printf("Duration: %v", *duration)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	var wg sync.WaitGroup
	stopChan := make(chan struct{})

	for i := 0; i < *clients; i++ {
		wg.Add(1)
		go runClient(*host, *token, *chatID, i, *interval, stopChan, &wg)
		time.Sleep(50 * time.Millisecond) // Stagger connections to allow ticket issuance
	}

	select {
	case <-time.After(*duration):
		log.Println("⏱️  Test duration reached")
	case <-interrupt:
		log.Println("🛑 Interrupted by user")
	}

	close(stopChan)
	log.Println("Waiting for clients to disconnect...")
	wg.Wait()

	printMetrics()
}

func getTicket(host, token string) (string, error) {
	ticketURL := fmt.Sprintf("http://%s/api/ws/ticket", host)
	req, _ := http.NewRequest(http.MethodPost, ticketURL, nil)
	req.Header.Set("Authorization", "Bearer "+token)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ticket issuance failed with status %d", resp.StatusCode)
	}

	var result struct {
		Ticket string `json:"ticket"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	return result.Ticket, nil
}

func intent(kind string, payload any) []byte {
	data, _ := json.Marshal(map[string]any{"type": kind, "payload": payload})
	return data
}

func runClient(host, token string, chatID uint, id int, interval time.Duration, stopChan <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	atomic.AddInt64(&metrics.ConnectionsAttempted, 1)

	ticket, err := getTicket(host, token)
	if err != nil {
		atomic.AddInt64(&metrics.ConnectionsFailed, 1)
		atomic.AddInt64(&metrics.Errors, 1)
		return
	}

	u := url.URL{Scheme: "ws", Host: host, Path: "/api/ws", RawQuery: "ticket=" + ticket}
	c, resp, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		atomic.AddInt64(&metrics.ConnectionsFailed, 1)
		atomic.AddInt64(&metrics.Errors, 1)
		return
	}
	if resp != nil && resp.Body != nil {
		defer func() { _ = resp.Body.Close() }()
	}
	defer func() { _ = c.Close() }()

	atomic.AddInt64(&metrics.ConnectionsSuccess, 1)

	go func() {
		for {
			var ev envelope
			if err := c.ReadJSON(&ev); err != nil {
				return
			}
			switch ev.Type {
			case "message":
				atomic.AddInt64(&metrics.MessagesReceived, 1)
			case "error":
				atomic.AddInt64(&metrics.Errors, 1)
			}
		}
	}()

	if err := c.WriteMessage(websocket.TextMessage, intent("joinChat", map[string]any{"chatId": chatID})); err != nil {
		atomic.AddInt64(&metrics.Errors, 1)
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopChan:
			_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-ticker.C:
			msg := intent("sendMessage", map[string]any{
				"chatId":  chatID,
				"content": fmt.Sprintf("Stress test message from client %d", id),
			})
			if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
				atomic.AddInt64(&metrics.Errors, 1)
				return
			}
			atomic.AddInt64(&metrics.MessagesSent, 1)
		}
	}
}

func printMetrics() {
	log.Println("\n📊 Test Results")
	log.Println("===============")
	log.Printf("Connections Attempted: %d", atomic.LoadInt64(&metrics.ConnectionsAttempted))
	log.Printf("Connections Successful: %d", atomic.LoadInt64(&metrics.ConnectionsSuccess))
	log.Printf("Connections Failed: %d", atomic.LoadInt64(&metrics.ConnectionsFailed))
	log.Printf("Messages Sent: %d", atomic.LoadInt64(&metrics.MessagesSent))
	log.Printf("Messages Received: %d", atomic.LoadInt64(&metrics.MessagesReceived))
	log.Printf("Total Errors: %d", atomic.LoadInt64(&metrics.Errors))
}
