package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/danmuck/nccomm/internal/config"
	"github.com/danmuck/nccomm/internal/netconf"
	"github.com/danmuck/nccomm/internal/observability"
	"github.com/danmuck/nccomm/internal/transport/sshconn"
	"github.com/rs/zerolog/log"
)

// deviceSession is one connected, hello-negotiated client.
type deviceSession struct {
	conn   *sshconn.Conn
	client *netconf.Client
	stop   context.CancelFunc
	admin  chan error
}

func openSession(ctx context.Context, cfg config.File) (*deviceSession, error) {
	conn, err := sshconn.Dial(ctx, cfg.Device, cfg.Session)
	if err != nil {
		return nil, err
	}
	listener := netconf.ListenerFunc(func(evt netconf.Event) {
		if evt.Type != netconf.DeviceReply {
			log.Warn().Str("event", evt.Type.String()).Str("device", evt.Device.HostPort()).Msg("session event")
		}
	})
	client := netconf.NewClient(conn.Stdout, conn.Stdin, cfg.Device, cfg.Session, listener)

	adminCtx, stop := context.WithCancel(ctx)
	s := &deviceSession{conn: conn, client: client, stop: stop}
	if cfg.Admin.ListenAddr != "" {
		router := observability.NewAdminRouter(observability.AdminOptions{
			Node:        cfg.Device.HostPort(),
			CORSOrigins: cfg.Admin.CORSOrigins,
			Pending:     client.Replies(),
		})
		s.admin = make(chan error, 1)
		go func() {
			s.admin <- observability.ServeAdmin(adminCtx, cfg.Admin.ListenAddr, router)
		}()
	}

	if _, err := client.Hello(ctx, cfg.Capabilities...); err != nil {
		_ = s.close(context.Background(), false)
		return nil, fmt.Errorf("hello: %w", err)
	}
	return s, nil
}

// close optionally sends <close-session/>, then tears down the transport.
func (s *deviceSession) close(ctx context.Context, graceful bool) error {
	var errs []error
	if graceful {
		if err := s.client.CloseSession(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close-session: %w", err))
		}
	}
	if err := s.conn.Close(); err != nil {
		errs = append(errs, err)
	}
	_ = s.client.Wait()
	s.stop()
	if s.admin != nil {
		if err := <-s.admin; err != nil {
			errs = append(errs, fmt.Errorf("admin: %w", err))
		}
	}
	return errors.Join(errs...)
}
