package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all runtime configuration for the seat hold server.
type Config struct {
	Port            int
	LogLevel        string
	HoldTTL         time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Websocket connection tuning.
	WSWriteWait       time.Duration
	WSPongWait        time.Duration
	WSSendBuffer      int
	WSMaxMessageBytes int

	// Booking store. An empty RedisAddr disables booked-seat lookups.
	RedisAddr            string
	RedisPassword        string
	RedisDB              int
	BookingLookupTimeout time.Duration

	// Commit consumer. An empty AMQPURL disables it.
	AMQPURL     string
	CommitQueue string
}

// Load reads configuration from environment variables, applies defaults,
// and validates values. It returns an error for any invalid value.
func Load() (*Config, error) {
	port, err := getInt("PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}

	logLevel := getStr("LOG_LEVEL", "info")
	if !isValidLogLevel(logLevel) {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %q, must be one of: debug, info, warn, error", logLevel)
	}

	holdTTL, err := getPositiveDuration("HOLD_TTL", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid HOLD_TTL: %w", err)
	}

	readTimeout, err := getDuration("READ_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid READ_TIMEOUT: %w", err)
	}

	writeTimeout, err := getDuration("WRITE_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid WRITE_TIMEOUT: %w", err)
	}

	idleTimeout, err := getDuration("IDLE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid IDLE_TIMEOUT: %w", err)
	}

	shutdownTimeout, err := getDuration("SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid SHUTDOWN_TIMEOUT: %w", err)
	}

	wsWriteWait, err := getPositiveDuration("WS_WRITE_WAIT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid WS_WRITE_WAIT: %w", err)
	}

	wsPongWait, err := getPositiveDuration("WS_PONG_WAIT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid WS_PONG_WAIT: %w", err)
	}

	wsSendBuffer, err := getPositiveInt("WS_SEND_BUFFER", 64)
	if err != nil {
		return nil, fmt.Errorf("invalid WS_SEND_BUFFER: %w", err)
	}

	wsMaxMessageBytes, err := getPositiveInt("WS_MAX_MESSAGE_BYTES", 4096)
	if err != nil {
		return nil, fmt.Errorf("invalid WS_MAX_MESSAGE_BYTES: %w", err)
	}

	redisDB, err := getInt("REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	lookupTimeout, err := getPositiveDuration("BOOKING_LOOKUP_TIMEOUT", 500*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("invalid BOOKING_LOOKUP_TIMEOUT: %w", err)
	}

	return &Config{
		Port:                 port,
		LogLevel:             logLevel,
		HoldTTL:              holdTTL,
		ReadTimeout:          readTimeout,
		WriteTimeout:         writeTimeout,
		IdleTimeout:          idleTimeout,
		ShutdownTimeout:      shutdownTimeout,
		WSWriteWait:          wsWriteWait,
		WSPongWait:           wsPongWait,
		WSSendBuffer:         wsSendBuffer,
		WSMaxMessageBytes:    wsMaxMessageBytes,
		RedisAddr:            getStr("REDIS_ADDR", ""),
		RedisPassword:        getStr("REDIS_PASSWORD", ""),
		RedisDB:              redisDB,
		BookingLookupTimeout: lookupTimeout,
		AMQPURL:              getStr("AMQP_URL", ""),
		CommitQueue:          getStr("COMMIT_QUEUE", "booking.finalized"),
	}, nil
}

func getStr(key, defaultVal string) string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	return v
}

func getInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.Atoi(v)
}

func getPositiveInt(key string, defaultVal int) (int, error) {
	n, err := getInt(key, defaultVal)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("must be > 0, got %d", n)
	}
	return n, nil
}

func getDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return time.ParseDuration(v)
}

func getPositiveDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	d, err := getDuration(key, defaultVal)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be > 0, got %s", d)
	}
	return d, nil
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}
