package log

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/agaabrieel/bittorrent-live/pkg/messaging"
)

type Config struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
	Encoding    string `yaml:"encoding"`
}

func DefaultConfig() Config {
	return Config{
		Level:    "info",
		Encoding: "console",
	}
}

// New builds the process logger.
func New(cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
		}
	}

	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	if cfg.Encoding != "" {
		zcfg.Encoding = cfg.Encoding
	}
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return zcfg.Build()
}

// Sink writes every message published on the router to the logger.
type Sink struct {
	id     string
	recvCh <-chan messaging.Message
	logger *zap.Logger
}

func NewSink(r *messaging.Router, logger *zap.Logger) (*Sink, error) {
	id, ch := r.NewComponent(1024)
	if err := r.Subscribe(id, messaging.AllTopics); err != nil {
		r.Unregister(id)
		return nil, err
	}
	return &Sink{
		id:     id,
		recvCh: ch,
		logger: logger.Named("events"),
	}, nil
}

func (s *Sink) Id() string {
	return s.id
}

func (s *Sink) Run(ctx context.Context) error {
	for {
		select {
		case msg := <-s.recvCh:
			s.write(msg)
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *Sink) write(msg messaging.Message) {
	fields := []zap.Field{
		zap.String("topic", msg.Topic),
		zap.String("source", msg.SourceId),
		zap.Stringer("type", msg.PayloadType),
		zap.Time("created", msg.CreatedAt),
		zap.Any("payload", msg.Payload),
	}
	if msg.ReplyTo != "" {
		fields = append(fields, zap.String("reply_to", msg.ReplyTo))
	}

	if p, ok := msg.Payload.(messaging.ErrorPayload); ok && p.Critical {
		s.logger.Error("event", fields...)
		return
	}
	s.logger.Info("event", fields...)
}
