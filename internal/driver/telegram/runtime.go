package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gotd/td/session"
	gotdtelegram "github.com/gotd/td/telegram"
)

const (
	defaultSessionFile = ".cache/telegram/session.json"
	defaultAuthTimeout = time.Minute
)

// LookupEnvFunc resolves one environment variable.
type LookupEnvFunc func(key string) (string, bool)

// Config is the validated configuration of one Telegram bot driver.
type Config struct {
	AppID          int
	AppHash        string
	BotToken       string
	PublishTimeout time.Duration
	UpdateBuffer   int
	AuthTimeout    time.Duration
	SessionFile    string
}

type fileConfig struct {
	AppID          int    `json:"app_id"`
	AppHash        string `json:"app_hash"`
	BotToken       string `json:"bot_token"`
	PublishTimeout string `json:"publish_timeout"`
	UpdateBuffer   int    `json:"update_buffer"`
	AuthTimeout    string `json:"auth_timeout"`
	SessionFile    string `json:"session_file"`
}

// credentialEnv lists the environment variables that override file credentials.
var credentialEnv = []struct {
	key   string
	apply func(*fileConfig, string) error
}{
	{key: "TELEGRAM_APP_ID", apply: func(cfg *fileConfig, value string) (err error) {
		cfg.AppID, err = strconv.Atoi(value)
		return err
	}},
	{key: "TELEGRAM_APP_HASH", apply: func(cfg *fileConfig, value string) error {
		cfg.AppHash = value
		return nil
	}},
	{key: "TELEGRAM_BOT_TOKEN", apply: func(cfg *fileConfig, value string) error {
		cfg.BotToken = value
		return nil
	}},
}

// ParseConfig decodes a telegram driver config object. Non-blank
// TELEGRAM_APP_ID, TELEGRAM_APP_HASH and TELEGRAM_BOT_TOKEN values from
// lookupEnv replace the file credentials. lookupEnv may be nil.
func ParseConfig(raw []byte, lookupEnv LookupEnvFunc) (Config, error) {
	var file fileConfig
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &file); err != nil {
			return Config{}, fmt.Errorf("unmarshal: %w", err)
		}
	}
	if lookupEnv != nil {
		for _, override := range credentialEnv {
			value, ok := lookupEnv(override.key)
			if !ok || strings.TrimSpace(value) == "" {
				continue
			}
			if err := override.apply(&file, strings.TrimSpace(value)); err != nil {
				return Config{}, fmt.Errorf("parse %s: %w", override.key, err)
			}
		}
	}

	cfg := Config{
		AppID:          file.AppID,
		AppHash:        strings.TrimSpace(file.AppHash),
		BotToken:       strings.TrimSpace(file.BotToken),
		PublishTimeout: defaultPublishTimeout,
		UpdateBuffer:   file.UpdateBuffer,
		AuthTimeout:    defaultAuthTimeout,
		SessionFile:    strings.TrimSpace(file.SessionFile),
	}
	switch {
	case cfg.AppID <= 0:
		return Config{}, fmt.Errorf("app_id must be > 0")
	case cfg.AppHash == "":
		return Config{}, fmt.Errorf("app_hash is required")
	case cfg.BotToken == "":
		return Config{}, fmt.Errorf("bot_token is required")
	}
	if cfg.UpdateBuffer <= 0 {
		cfg.UpdateBuffer = defaultInboxSize
	}
	if cfg.SessionFile == "" {
		cfg.SessionFile = defaultSessionFile
	}

	durations := []struct {
		field string
		raw   string
		dst   *time.Duration
	}{
		{field: "publish_timeout", raw: file.PublishTimeout, dst: &cfg.PublishTimeout},
		{field: "auth_timeout", raw: file.AuthTimeout, dst: &cfg.AuthTimeout},
	}
	for _, duration := range durations {
		raw := strings.TrimSpace(duration.raw)
		if raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", duration.field, err)
		}
		if parsed <= 0 {
			return Config{}, fmt.Errorf("parse %s: must be > 0", duration.field)
		}
		*duration.dst = parsed
	}

	return cfg, nil
}

// NewRuntime builds the inbound driver and the reply dispatcher for one bot
// account. Both share a single gotd client and peer cache.
func NewRuntime(
	name string,
	rawConfig []byte,
	lookupEnv LookupEnvFunc,
	logger *slog.Logger,
) (*Driver, *SinkDispatcher, error) {
	cfg, err := ParseConfig(rawConfig, lookupEnv)
	if err != nil {
		return nil, nil, fmt.Errorf("parse telegram config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("driver", name)

	storage, err := sessionStorage(cfg.SessionFile)
	if err != nil {
		return nil, nil, fmt.Errorf("telegram session storage: %w", err)
	}

	inbox := NewInbox(cfg.UpdateBuffer)
	client := gotdtelegram.NewClient(cfg.AppID, cfg.AppHash, gotdtelegram.Options{
		UpdateHandler:  inbox,
		SessionStorage: storage,
	})
	peers := NewPeerCache()

	driver, err := NewDriver(
		botSession{client: client, cfg: cfg, logger: logger},
		inbox,
		peers,
		WithName(name),
		WithPublishTimeout(cfg.PublishTimeout),
		WithDriverLogger(logger),
	)
	if err != nil {
		return nil, nil, err
	}

	dispatcher, err := NewOutboundDispatcher(
		client,
		peers,
		WithOutboundTimeout(cfg.PublishTimeout),
		WithOutboundLogger(logger),
		WithSinkRef(bridgeSink(name)),
	)
	if err != nil {
		return nil, nil, err
	}

	return driver, dispatcher, nil
}

func sessionStorage(path string) (*session.FileStorage, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("empty session file path")
	}

	absolute, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(absolute), 0o700); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}

	return &session.FileStorage{Path: absolute}, nil
}

// botSession connects the gotd client and signs in as the bot before fn runs.
type botSession struct {
	client *gotdtelegram.Client
	cfg    Config
	logger *slog.Logger
}

func (s botSession) Run(ctx context.Context, fn func(context.Context) error) error {
	return s.client.Run(ctx, func(ctx context.Context) error {
		if err := s.signIn(ctx); err != nil {
			return err
		}

		return fn(ctx)
	})
}

// signIn reuses the stored session when it is still authorized.
func (s botSession) signIn(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.AuthTimeout)
	defer cancel()

	status, err := s.client.Auth().Status(ctx)
	if err != nil {
		return fmt.Errorf("telegram auth status: %w", err)
	}
	if status.Authorized {
		s.logger.InfoContext(ctx, "telegram session restored", "session_file", s.cfg.SessionFile)
		return nil
	}

	if _, err := s.client.Auth().Bot(ctx, s.cfg.BotToken); err != nil {
		return fmt.Errorf("telegram bot sign in: %w", err)
	}
	s.logger.InfoContext(ctx, "telegram bot signed in", "session_file", s.cfg.SessionFile)

	return nil
}
