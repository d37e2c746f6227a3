package lowlevel

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-kit/log"
	"github.com/nyngwang/sftp-lowlevel/protocol"
)

// Config tunes the engine, the same way smux.Config tunes a smux.Session.
type Config struct {
	// ProtocolVersion is sent in the client hello and must match the
	// server's reply exactly or Connect fails with
	// ErrKindUnsupportedProtocol.
	ProtocolVersion uint32

	// HelloTimeout bounds how long Connect waits for the server's
	// version reply. Zero disables the timeout.
	HelloTimeout time.Duration

	// MaxPendingRequests is the immediate-flush threshold: once this
	// many requests have been pushed without a drain, the pushing
	// producer notifies the flush task right away instead of waiting
	// for the next tick.
	MaxPendingRequests uint16

	// FlushInterval is the flush task's periodic tick cadence.
	FlushInterval time.Duration

	// WriteEndBufferSize sizes the reusable vectored-write slice
	// descriptor array and the flush task's backup queue buffer.
	WriteEndBufferSize int

	// MaxHelloLen bounds the accepted length of the server's
	// SSH_FXP_VERSION payload, per spec.md §6.
	MaxHelloLen uint32

	// Logger receives structured events from the flush and read tasks
	// (shutdown transitions, invalid response ids, protocol errors).
	// Defaults to a no-op logger.
	Logger log.Logger
}

// DefaultConfig returns a Config with the values the engine was validated
// against, mirroring smux.DefaultConfig.
func DefaultConfig() *Config {
	return &Config{
		ProtocolVersion:    protocol.SSH2FilexferVersion,
		HelloTimeout:       30 * time.Second,
		MaxPendingRequests: 64,
		FlushInterval:      10 * time.Millisecond,
		WriteEndBufferSize: 32,
		MaxHelloLen:        4096,
		Logger:             log.NewNopLogger(),
	}
}

// VerifyConfig checks the sanity of config, mirroring smux.VerifyConfig.
func VerifyConfig(config *Config) error {
	if config.MaxPendingRequests == 0 {
		return errors.New("max pending requests must be positive")
	}
	if config.FlushInterval <= 0 {
		return errors.New("flush interval must be positive")
	}
	if config.WriteEndBufferSize <= 0 {
		return errors.New("write end buffer size must be positive")
	}
	if config.MaxHelloLen == 0 || config.MaxHelloLen > 1<<20 {
		return fmt.Errorf("max hello len %d out of sane range", config.MaxHelloLen)
	}
	return nil
}

func (c *Config) logger() log.Logger {
	if c.Logger == nil {
		return log.NewNopLogger()
	}
	return c.Logger
}
