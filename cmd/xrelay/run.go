package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
	"github.com/trickstertwo/xlog/adapter/zerolog"

	"github.com/trickstertwo/xrelay"
	"github.com/trickstertwo/xrelay/adapter/redischan"
	"github.com/trickstertwo/xrelay/adapter/wschan"
)

func runRole(cmd *cobra.Command, role string) error {
	cfg, err := resolveConfig(cmd, role)
	if err != nil {
		return err
	}

	logger := zerolog.Use(zerolog.Config{
		MinLevel:          xlog.LevelDebug,
		Console:           true,
		ConsoleTimeFormat: time.RFC3339,
		Caller:            false,
	}).With(xlog.Str("node", cfg.ID), xlog.Str("role", role))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	node, cleanup, err := buildNode(cfg, role, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to start relay")
		return err
	}
	defer cleanup()

	node.OnAny(func(event string, args ...any) {
		logger.Info().
			Str("event", event).
			Str("args", fmt.Sprint(args...)).
			Msg("event")
	})

	if cfg.Emit != "" {
		go emitLoop(ctx, node, cfg, logger)
	}

	logger.Info().Str("transport", cfg.Transport).Msg("relay running; press Ctrl+C to exit")
	<-ctx.Done()

	if err := node.Close(context.Background()); err != nil {
		logger.Warn().Err(err).Msg("close failed")
	}
	m := node.GetMetrics()
	logger.Info().
		Str("emitted", strconv.FormatUint(m.Emitted, 10)).
		Str("received", strconv.FormatUint(m.Received, 10)).
		Str("dropped", strconv.FormatUint(m.Dropped, 10)).
		Str("sent", strconv.FormatUint(m.Sent, 10)).
		Str("send_errors", strconv.FormatUint(m.SendErrors, 10)).
		Float64("avg_send_ms", m.AvgSendTimeMs).
		Msg("shutdown complete")
	return nil
}

// buildNode wires the relay for cfg. cleanup releases the transport after
// the relay is closed.
func buildNode(cfg nodeConfig, role string, logger *xlog.Logger) (xrelay.Relay, func(), error) {
	switch cfg.Transport {
	case transportRedis:
		return buildRedisNode(cfg, role, logger)
	case transportWebSocket:
		return buildWebSocketNode(cfg, role, logger)
	}
	return nil, nil, fmt.Errorf("unknown transport %q", cfg.Transport)
}

func buildRedisNode(cfg nodeConfig, role string, logger *xlog.Logger) (xrelay.Relay, func(), error) {
	cl, err := redischan.NewClient(cfg.Redis, xrelay.ProcessID(cfg.ID))
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() { _ = cl.Close() }

	opts := []redischan.Option{
		redischan.WithLogger(logger),
		redischan.WithClock(xclock.Default()),
		redischan.WithCodec(cfg.Codec),
		redischan.WithSendTimeout(cfg.SendTimeout),
	}

	if role == roleLeaf {
		l, err := redischan.Leaf(cl, xrelay.ProcessID(cfg.Parent), opts...)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		return l, cleanup, nil
	}

	if cfg.EchoUp {
		opts = append(opts, redischan.WithEchoUp())
	}
	if cfg.EchoDown {
		opts = append(opts, redischan.WithEchoDown())
	}
	if cfg.Parent != "" {
		opts = append(opts, redischan.WithJoin())
	}
	children := make([]xrelay.ProcessID, len(cfg.Children))
	for i, id := range cfg.Children {
		children[i] = xrelay.ProcessID(id)
	}
	c, err := redischan.Coordinator(cl, xrelay.ProcessID(cfg.Parent), children, opts...)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return c, cleanup, nil
}

func buildWebSocketNode(cfg nodeConfig, role string, logger *xlog.Logger) (xrelay.Relay, func(), error) {
	id := xrelay.ProcessID(cfg.ID)
	bb := xrelay.NewBuilder().
		WithID(id).
		WithLogger(logger).
		WithCodec(cfg.Codec).
		WithSendTimeout(cfg.SendTimeout)

	var up *wschan.Conn
	if cfg.ParentURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		var err error
		if up, err = wschan.Dial(ctx, cfg.ParentURL, id); err != nil {
			return nil, nil, err
		}
		bb.WithUpstream(up)
	}
	closeUp := func() {
		if up != nil {
			_ = up.Close()
		}
	}

	if role == roleLeaf {
		l, err := bb.BuildLeaf()
		if err != nil {
			closeUp()
			return nil, nil, err
		}
		return l, closeUp, nil
	}

	if cfg.EchoUp {
		bb.WithEchoUp()
	}
	if cfg.EchoDown {
		bb.WithEchoDown()
	}
	if up != nil {
		bb.WithJoin()
	}
	c, err := bb.BuildCoordinator()
	if err != nil {
		closeUp()
		return nil, nil, err
	}

	srv := &http.Server{
		Addr: cfg.Listen,
		Handler: wschan.Handler(id, func(conn *wschan.Conn) { c.Attach(conn) },
			wschan.WithHandlerLogger(logger),
			wschan.WithOnClose(func(conn *wschan.Conn) { c.Detach(conn) })),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("listen", cfg.Listen).Msg("websocket server failed")
		}
	}()

	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		closeUp()
	}
	return c, cleanup, nil
}

func emitLoop(ctx context.Context, node xrelay.Relay, cfg nodeConfig, logger *xlog.Logger) {
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	n := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n++
			if err := node.Emit(ctx, cfg.Emit, n, cfg.ID); err != nil && ctx.Err() == nil {
				logger.Warn().Err(err).Str("event", cfg.Emit).Msg("emit failed")
			}
		}
	}
}
