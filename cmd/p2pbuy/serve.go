package main

import (
	"context"
	"net/http"

	"github.com/urfave/cli/v2"

	"github.com/betbot/p2pbuy/internal/server"
	"github.com/betbot/p2pbuy/pkg/logger"
	"github.com/betbot/p2pbuy/pkg/shutdown"
)

var serveCmd = cli.Command{
	Name:  "serve",
	Usage: "run the local status API (REST + WebSocket + /metrics)",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "listen",
			Usage: "listen address (defaults to config server.listen)",
		},
		&cli.StringFlag{
			Name:  "debug-listen",
			Usage: "optional pprof + metrics listener",
		},
	},
	Action: serveAction,
}

func serveAction(c *cli.Context) error {
	e, err := setup(c, false)
	if err != nil {
		return err
	}
	defer e.close()

	ctx, cancel := shutdown.WithSignals(c.Context)
	defer cancel()

	flow, journal, err := e.flow(nil)
	if err != nil {
		return err
	}
	badges, err := e.badges()
	if err != nil {
		return err
	}
	n, err := resumeAll(ctx, flow, journal)
	if err != nil {
		return err
	}
	logger.Infof("已恢复 %d 笔交易", n)

	go flow.RunExpiry(ctx)
	go flow.Orders.Run(ctx)

	listen := c.String("listen")
	if listen == "" {
		listen = e.cfg.Server.Listen
	}
	srv, err := server.New(flow, server.Config{
		Listen:  listen,
		Metrics: e.metrics.Handler(),
		Badges:  badges,
	}).Start(ctx)
	if err != nil {
		return err
	}
	e.shutdown.OnShutdown(shutdown.StageServe, "api", shutdownHTTP(srv))

	if addr := c.String("debug-listen"); addr != "" {
		dbg, err := e.metrics.StartDebug(addr)
		if err != nil {
			return err
		}
		e.shutdown.OnShutdown(shutdown.StageServe, "debug", shutdownHTTP(dbg))
	}

	<-ctx.Done()
	logger.Info("收到退出信号，开始关闭")
	return nil
}

func shutdownHTTP(srv *http.Server) shutdown.Handler {
	return func(ctx context.Context) error {
		return srv.Shutdown(ctx)
	}
}
