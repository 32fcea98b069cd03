package main

import (
	"github.com/urfave/cli/v2"

	"github.com/betbot/p2pbuy/internal/tui"
	"github.com/betbot/p2pbuy/pkg/logger"
	"github.com/betbot/p2pbuy/pkg/shutdown"
)

var watchCmd = cli.Command{
	Name:   "watch",
	Usage:  "full-screen view of journaled trades with live countdowns",
	Action: watchAction,
}

func watchAction(c *cli.Context) error {
	e, err := setup(c, true)
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

	return tui.Run(ctx, flow, tui.Options{
		Badges: badges,
		Tick:   e.cfg.Trade.ExpiryTick,
	})
}
