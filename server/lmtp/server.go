// Package lmtp accepts messages over LMTP and feeds them to the routing
// pipeline. Each RCPT TO fans out into its own pipeline run, so a message
// delivered to several recipients yields independent per-recipient replies.
package lmtp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/emersion/go-smtp"

	"github.com/mailflow/rudder/logger"
	"github.com/mailflow/rudder/pipeline"
	"github.com/mailflow/rudder/pkg/metrics"
)

// MessageProcessor runs one message through the routing pipeline.
// *pipeline.Pipeline satisfies it; tests substitute a fake.
type MessageProcessor interface {
	Process(ctx context.Context, msg *pipeline.InboundMessage) (*pipeline.Outcome, error)
}

type ServerOptions struct {
	Addr           string
	Hostname       string
	MaxMessageSize int64
	TLSConfig      *tls.Config
	Debug          bool
}

type Backend struct {
	addr      string
	hostname  string
	processor MessageProcessor
	server    *smtp.Server
	appCtx    context.Context

	totalConnections  atomic.Int64
	activeConnections atomic.Int64
}

func New(appCtx context.Context, processor MessageProcessor, options ServerOptions) (*Backend, error) {
	if options.Addr == "" {
		return nil, fmt.Errorf("lmtp address not configured")
	}

	backend := &Backend{
		addr:      options.Addr,
		hostname:  options.Hostname,
		processor: processor,
		appCtx:    appCtx,
	}

	s := smtp.NewServer(backend)
	s.LMTP = true
	s.Addr = options.Addr
	s.Domain = options.Hostname
	s.WriteTimeout = 30 * time.Second
	s.ReadTimeout = 60 * time.Second
	s.MaxMessageBytes = options.MaxMessageSize
	s.MaxRecipients = 100
	s.TLSConfig = options.TLSConfig
	s.EnableSMTPUTF8 = true

	backend.server = s
	return backend, nil
}

func (b *Backend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	b.totalConnections.Add(1)
	b.activeConnections.Add(1)
	metrics.ConnectionsTotal.WithLabelValues("lmtp").Inc()

	remote := ""
	if c.Conn() != nil && c.Conn().RemoteAddr() != nil {
		remote = c.Conn().RemoteAddr().String()
	}
	logger.Debug("LMTP connection established", "remote", remote)

	return newSession(b, remote), nil
}

// Start serves until the listener fails or the app context is cancelled.
// Fatal serve errors are sent to errChan in the manner main expects.
func (b *Backend) Start(errChan chan error) {
	listener, err := net.Listen("tcp", b.addr)
	if err != nil {
		errChan <- fmt.Errorf("lmtp listener failed: %w", err)
		return
	}

	logger.Info("LMTP server listening", "addr", b.addr)

	if err := b.server.Serve(listener); err != nil && !errors.Is(err, smtp.ErrServerClosed) {
		errChan <- fmt.Errorf("lmtp server failed: %w", err)
	}
}

func (b *Backend) Close() error {
	return b.server.Close()
}

func (b *Backend) TotalConnections() int64 {
	return b.totalConnections.Load()
}

func (b *Backend) ActiveConnections() int64 {
	return b.activeConnections.Load()
}
