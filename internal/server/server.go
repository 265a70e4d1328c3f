// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/wq-cluster/wqd/internal/proto"
	"github.com/wq-cluster/wqd/internal/queue"
	"github.com/wq-cluster/wqd/pkg/config"
	wqerrors "github.com/wq-cluster/wqd/pkg/errors"
	"github.com/wq-cluster/wqd/pkg/logging"
	"github.com/wq-cluster/wqd/pkg/metrics"
	"github.com/wq-cluster/wqd/pkg/retry"
)

// Server owns the listening socket, the queue, and the tick timer that
// drives periodic refresh, per §5: a single logical dispatcher suspended
// on either a new connection or the tick firing.
type Server struct {
	cfg     *config.Config
	queue   *queue.Queue
	log     logging.Logger
	metrics metrics.Collector

	ready chan struct{}
}

// New builds a Server around an already-bootstrapped queue.
func New(cfg *config.Config, q *queue.Queue, log logging.Logger, collector metrics.Collector) *Server {
	return &Server{
		cfg:     cfg,
		queue:   q,
		log:     log,
		metrics: collector,
		ready:   make(chan struct{}),
	}
}

// Ready is closed once the first refresh tick has completed, letting the
// admin endpoint's /healthz report accurately.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Run binds the listening socket and serves until ctx is canceled. A
// listener failure is retried with a constant backoff, per §5's "sleep a
// restart delay and reopen the socket" top-level behavior, grounded in
// the teacher's pkg/retry.BackoffStrategy rather than a hand-rolled sleep
// loop.
func (s *Server) Run(ctx context.Context) error {
	backoff := retry.NewConstantBackoff(s.cfg.RestartDelay, 1<<30)

	return retry.Retry(ctx, backoff, func() error {
		err := s.serveOnce(ctx)
		if err != nil {
			logging.LogError(s.log, err, "listen")
		}
		return err
	})
}

func (s *Server) serveOnce(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	defer ln.Close()

	s.log.Info("listening", "addr", addr)

	go s.tickLoop(ctx)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go s.handleConn(conn)
	}
}

// tickLoop fires a refresh every TickInterval, independent of client
// traffic, per §5's 30s default tick.
func (s *Server) tickLoop(ctx context.Context) {
	result, err := s.queue.Refresh()
	if err != nil {
		s.dieOnFatal(err, "refresh")
		return
	}
	s.metrics.RecordRefresh(0, result.Reaped, result.Promoted)
	close(s.ready)

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			result, err := s.queue.Refresh()
			if err != nil {
				s.dieOnFatal(err, "refresh")
				return
			}
			s.metrics.RecordRefresh(time.Since(start), result.Reaped, result.Promoted)
		}
	}
}

// dieOnFatal logs err and, if it is an invariant violation, exits the
// process: per §7 an ErrorCodeInvariant means scheduler state has
// already diverged from reality, and spool replay at the next restart is
// the only trusted recovery path.
func (s *Server) dieOnFatal(err error, operation string) {
	logging.LogError(s.log, err, operation)

	var wqErr *wqerrors.WQError
	if errors.As(err, &wqErr) && wqErr.IsFatal() {
		s.log.Error("fatal invariant violation, exiting", "operation", operation)
		os.Exit(1)
	}
}

// handleConn serves exactly one request on conn, then closes it,
// matching the original implementation's accept-then-close-after-response
// model (original_source's Server.run() never keeps a connection open
// across requests).
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	var req proto.Request
	if err := proto.ReadMessage(conn, &req); err != nil {
		logging.LogError(s.log, err, "read request")
		return
	}

	ctx := logging.WithRequestID(context.Background(), uuid.NewString())
	start := time.Now()
	logger := logging.LogOperation(s.log.WithContext(ctx), "dispatch", "command", req.Command)

	resp := s.dispatch(&req)

	duration := time.Since(start)
	var dispatchErr error
	if resp.Error != "" {
		dispatchErr = fmt.Errorf("%s", resp.Error)
		logging.LogError(logger, dispatchErr, req.Command)
	}
	s.metrics.RecordDispatch(req.Command, duration, dispatchErr)
	logging.LogDuration(logger, start, req.Command)

	if err := proto.WriteMessage(conn, resp); err != nil {
		logging.LogError(s.log, err, "write response")
	}
}

// failDispatch logs a handler-level error before translating it to the
// wire error shape, and terminates the process if the error is a fatal
// invariant violation. Every error surfaced here from internal/queue is
// already a human-readable WQError message, so the message itself is
// safe to forward to the client as-is.
func (s *Server) failDispatch(verb string, err error) proto.Response {
	s.dieOnFatal(err, verb)
	return proto.Fail(err.Error())
}
