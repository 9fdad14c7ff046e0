package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"home/tempsim/internal/config"
	"home/tempsim/internal/logging"
	"home/tempsim/internal/mq"
)

const (
	maxRetry   = 10
	retryDelay = 1 * time.Second

	publishTimeout = 10 * time.Second
)

type connector interface {
	Connect(ctx context.Context) error
}

// Watches the temperature topic. Lines typed on stdin are published to the
// same topic as manual readings.
func main() {
	cfg, err := config.Load(os.Args[1:])
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFile)

	client := mq.NewClient(cfg, logger)
	if err := connect(client, maxRetry, retryDelay, cfg.ConnectTimeout(), logger); err != nil {
		logger.Error("mqtt can not connect", "error", err)
		os.Exit(1)
	}
	defer client.Disconnect()

	ctx, cl := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cl()

	err = client.Subscribe(cfg.Topic, byte(cfg.QoS), func(topic string, payload []byte) {
		temp, err := ParseReading(payload)
		if err != nil {
			logger.Warn("Receive non-numeric payload", "topic", topic, "payload", string(payload))
			return
		}
		logger.Info("Receive temperature", "topic", topic, "temp", temp)
	})
	if err != nil {
		logger.Error("Subscribe failed", "error", err)
		os.Exit(1)
	}

	logger.Info("waiting for signal")
	go sender(client, cfg.Topic, byte(cfg.QoS), logger)
	<-ctx.Done()
	logger.Info("Shutting down", "reason", ctx.Err())
}

// connect tries up to retries times, pausing delay between failed attempts.
func connect(client connector, retries int, delay, timeout time.Duration, logger *slog.Logger) error {
	var err error
	for i := 0; i < retries; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		err = client.Connect(ctx)
		cancel()
		if err == nil {
			return nil
		}
		logger.Warn("mqtt client is not connected", "attempt", i+1, "error", err)
		if i < retries-1 {
			time.Sleep(delay)
		}
	}
	return err
}

func sender(c *mq.Client, topic string, qos byte, logger *slog.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		temp, err := ParseReading([]byte(line))
		if err != nil {
			logger.Warn("not a temperature", "input", line)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		err = c.Publish(ctx, topic, qos, strconv.Itoa(temp))
		cancel()
		if err != nil {
			logger.Error("error on send msg", "error", err)
			continue
		}
		logger.Info("send msg", "temp", temp)
	}
}

// ParseReading decodes a decimal temperature payload.
func ParseReading(payload []byte) (int, error) {
	return strconv.Atoi(strings.TrimSpace(string(payload)))
}
