package internal

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"tcp-chat/errors"
)

// Config is the server configuration, read from the environment.
type Config struct {
	Host            string        `env:"HOST,default=127.0.0.1" validate:"required"`
	Port            int           `env:"PORT,default=12345" validate:"min=1,max=65535"`
	BufferSize      int           `env:"BUFFER_SIZE,default=1024" validate:"min=1"`
	LogLevel        string        `env:"LOG_LEVEL,default=INFO" validate:"oneof=DEBUG INFO WARN ERROR debug info warn error"`
	EventBufferSize int           `env:"EVENT_BUFFER_SIZE,default=256" validate:"min=1"`
	SinkTimeout     time.Duration `env:"SINK_TIMEOUT,default=2s" validate:"gt=0"`
	StatsInterval   time.Duration `env:"STATS_INTERVAL,default=30s" validate:"gt=0"`
	RestartInterval time.Duration `env:"RESTART_INTERVAL,default=200ms" validate:"gt=0"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT,default=0s" validate:"gte=0"`
	IdleTimeout     time.Duration `env:"IDLE_TIMEOUT,default=0s" validate:"gte=0"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=5s" validate:"gt=0"`
	AdminPort       int           `env:"ADMIN_PORT,default=0" validate:"min=0,max=65535"`
	TranscriptPath  string        `env:"TRANSCRIPT_PATH"`
	IndexPath       string        `env:"INDEX_PATH"`
	LimitMessages   *int          `env:"LIMIT_MESSAGES" validate:"omitempty,min=1"`
	CensoredDir     string        `env:"CENSORED_DIR"`
	CharReplacement string        `env:"CHARACTER_REPLACEMENT,default=*"`
}

// Validate checks the struct tags and the replacement character.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err)
	}
	if _, err := CharacterRune(c.CharReplacement); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err)
	}
	return nil
}

// Address is the TCP address the chat server listens on.
func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func CharacterRune(str string) (rune, error) {
	r := []rune(str)
	if len(r) != 1 {
		return 0, fmt.Errorf(
			"CHARACTER_REPLACEMENT must be a single character, got %q",
			str,
		)
	}
	return r[0], nil
}
