// Package config reads process settings from the environment. Only cmd/*
// calls Load; every other package receives plain values.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	BackendDynamo = "dynamodb"
	BackendMemory = "memory"

	InterpreterOpenAI = "openai"
	InterpreterRules  = "rules"
)

type Config struct {
	StoreBackend string
	StateTable   string
	ParamPrefix  string

	Interpreter        string
	InterpreterTimeout time.Duration

	LeaseBatch   int
	LeaseTTL     time.Duration
	PollInterval time.Duration

	StillWorkingAfter time.Duration
	ReconnectAfter    time.Duration
	BannerCooldown    time.Duration
	BannerPhoto       string

	StagePolicy string

	SupervisorConcurrency int
	TaskTimeout           time.Duration
	TelegramRate          float64

	HTTPAddr string
	LogLevel slog.Level
}

// Getenv matches os.Getenv.
type Getenv func(key string) string

// Load parses the environment. pollDefault is the POLL_INTERVAL used when the
// variable is unset; the webhook and poller processes default differently.
func Load(getenv Getenv, pollDefault time.Duration) (Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	e := &env{get: getenv}
	cfg := Config{
		StoreBackend:          strings.ToLower(e.str("STORE_BACKEND", BackendDynamo)),
		StateTable:            e.str("STATE_TABLE", ""),
		ParamPrefix:           strings.TrimRight(e.str("PARAM_PREFIX", ""), "/"),
		Interpreter:           strings.ToLower(e.str("INTERPRETER", InterpreterOpenAI)),
		InterpreterTimeout:    e.duration("INTERPRETER_TIMEOUT", 20*time.Second),
		LeaseBatch:            e.integer("LEASE_BATCH", 5),
		LeaseTTL:              e.duration("LEASE_TTL", 0),
		PollInterval:          e.duration("POLL_INTERVAL", pollDefault),
		StillWorkingAfter:     e.duration("CADENCE_STILL_WORKING_AFTER", time.Hour),
		ReconnectAfter:        e.duration("CADENCE_RECONNECT_AFTER", 24*time.Hour),
		BannerCooldown:        e.duration("CADENCE_BANNER_COOLDOWN", 24*time.Hour),
		BannerPhoto:           e.str("BANNER_PHOTO", ""),
		StagePolicy:           e.str("STAGE_POLICY", "permissive"),
		SupervisorConcurrency: e.integer("SUPERVISOR_CONCURRENCY", 16),
		TaskTimeout:           e.duration("TASK_TIMEOUT", 60*time.Second),
		TelegramRate:          e.float("TELEGRAM_RATE", 25),
		HTTPAddr:              e.str("HTTP_ADDR", ":8080"),
		LogLevel:              e.level("LOG_LEVEL", slog.LevelInfo),
	}
	if e.err != nil {
		return Config{}, e.err
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	var errs []error
	switch c.StoreBackend {
	case BackendDynamo:
		if c.StateTable == "" {
			errs = append(errs, errors.New("config: STATE_TABLE is required for the dynamodb backend"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("config: unknown STORE_BACKEND %q", c.StoreBackend))
	}
	switch c.Interpreter {
	case InterpreterOpenAI, InterpreterRules:
	default:
		errs = append(errs, fmt.Errorf("config: unknown INTERPRETER %q", c.Interpreter))
	}
	if c.ParamPrefix == "" {
		errs = append(errs, errors.New("config: PARAM_PREFIX is required"))
	}
	if c.LeaseTTL < 0 {
		errs = append(errs, errors.New("config: LEASE_TTL must not be negative"))
	}
	return errors.Join(errs...)
}

// NewLogger returns the JSON stdout logger used by both processes.
func NewLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

// env accumulates the first parse error so Load can report it once.
type env struct {
	get Getenv
	err error
}

func (e *env) str(key, def string) string {
	if v := strings.TrimSpace(e.get(key)); v != "" {
		return v
	}
	return def
}

func (e *env) integer(key string, def int) int {
	v := strings.TrimSpace(e.get(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return n
}

func (e *env) float(key string, def float64) float64 {
	v := strings.TrimSpace(e.get(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return f
}

func (e *env) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(e.get(key))
	if v == "" {
		return def
	}
	if v == "0" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return d
}

func (e *env) level(key string, def slog.Level) slog.Level {
	v := strings.TrimSpace(e.get(key))
	if v == "" {
		return def
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(v)); err != nil {
		e.fail(key, err)
		return def
	}
	return l
}

func (e *env) fail(key string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("config: parse %s: %w", key, err)
	}
}
