// Package main tails the sentiment push stream and prints each update.
// It reconnects with backoff and resumes from the last seen event id.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"sentiment-pipeline/internal/logging"
	"sentiment-pipeline/internal/stream"
)

func main() {
	url := flag.String("url", "http://localhost:8080/stream", "Stream endpoint (http(s):// for SSE, ws(s):// for WebSocket)")
	symbols := flag.String("symbols", "", "Comma-separated symbols to follow (empty for all)")
	lastID := flag.Uint64("last-event-id", 0, "Resume after this event id")
	logLevel := flag.String("log-level", "info", "Log level")
	flag.Parse()

	logger, err := logging.New(*logLevel, "text")
	if err != nil {
		fmt.Fprintf(os.Stderr, "setup logging: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := stream.NewClient(newTransport(*url, splitSymbols(*symbols)), stream.DefaultClientConfig(),
		stream.WithLastEventID(*lastID),
		stream.WithClientLogger(logger),
		stream.OnStateChange(func(from, to stream.State) {
			logger.WithFields(logrus.Fields{"from": from.String(), "to": to.String()}).Info("connection state")
		}),
		stream.OnMessage(func(msg stream.Message) { printMessage(logger, msg) }),
	)

	if err := client.Run(ctx); err != nil {
		logger.WithError(err).Fatal("stream client stopped")
	}
	logger.WithField("last_event_id", client.LastEventID()).Info("stream closed")
}

func newTransport(url string, symbols []string) stream.Transport {
	if strings.HasPrefix(url, "ws://") || strings.HasPrefix(url, "wss://") {
		return &stream.WSTransport{URL: url, Symbols: symbols}
	}
	return &stream.SSETransport{URL: url, Symbols: symbols}
}

func splitSymbols(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func printMessage(logger logrus.FieldLogger, msg stream.Message) {
	if msg.Type != stream.TypeSentimentUpdate {
		logger.WithField("type", msg.Type).Debug("control message")
		return
	}
	u, err := msg.DecodeSentiment()
	if err != nil {
		logger.WithError(err).Warn("undecodable update")
		return
	}
	prev := "-"
	if u.PreviousSentiment != nil {
		prev = fmt.Sprintf("%.3f", *u.PreviousSentiment)
	}
	fmt.Printf("%d\t%s\t%s\t%.3f\t(prev %s)\t%s\n", msg.ID, u.Ticker, u.ConfigID, u.Sentiment, prev, u.Source)
}
