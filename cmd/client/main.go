package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Netflix/go-env"
	"github.com/gookit/color"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
	"tcp-chat/client"
	chaterr "tcp-chat/errors"
)

// Exit codes for the client application.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

// Config defines the client-side environment variables.
type Config struct {
	ServerHost string `env:"CHAT_SERVER_HOST,default=127.0.0.1"`
	ServerPort int    `env:"CHAT_SERVER_PORT,default=12345"`
	LogLevel   string `env:"LOG_LEVEL,default=INFO"`
}

var (
	info  = color.New(color.FgGreen, color.OpBold)
	fault = color.New(color.FgRed, color.OpBold)
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintln(os.Stderr, fault.Render("[ERROR]"), err)
	}
	os.Exit(code)
}

// run connects once, prints incoming chunks in the background and sends typed
// lines until exit, end of input, an interrupt or the server going away.
func run() (int, error) {
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := client.Connect(ctx, log, config.ServerHost, config.ServerPort)
	if err != nil {
		if errors.Is(err, chaterr.ErrServerUnreachable) {
			return exitRuntime, fmt.Errorf("could not reach %s:%d: %w", config.ServerHost, config.ServerPort, err)
		}
		return exitRuntime, err
	}
	defer func() {
		log.Debug("Closing connection...")
		_ = c.Close()
	}()
	fmt.Println(info.Render("[INFO]"), "Connected to", fmt.Sprintf("%s:%d", config.ServerHost, config.ServerPort))

	received := make(chan error, 1)
	go func() { received <- c.Receive(os.Stdout) }()

	// Reading stdin cannot be interrupted, so the chat loop runs on its own
	// and is abandoned when another branch wins.
	chatted := make(chan error, 1)
	go func() { chatted <- c.Chat(os.Stdin, os.Stdout) }()

	select {
	case <-ctx.Done():
		fmt.Println()
		fmt.Println(info.Render("[INFO]"), "Interrupted")
		return exitOK, nil
	case err := <-chatted:
		if err != nil {
			return exitRuntime, err
		}
		fmt.Println(info.Render("[INFO]"), "Bye")
		return exitOK, nil
	case err := <-received:
		if err != nil {
			return exitRuntime, err
		}
		fmt.Println(info.Render("[INFO]"), "Server closed the connection")
		return exitOK, nil
	}
}
