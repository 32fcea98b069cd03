package main

import (
	"github.com/urfave/cli/v2"
)

var uploadCmd = cli.Command{
	Name:  "upload",
	Usage: "upload a payment receipt PDF for an open trade",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "trade",
			Usage:    "trade id",
			Required: true,
		},
		&cli.StringFlag{
			Name:     "file",
			Usage:    "receipt PDF",
			Required: true,
		},
		&cli.BoolFlag{
			Name:  "no-wait",
			Usage: "return right after validation instead of waiting for settlement",
		},
	},
	Action: uploadAction,
}

func uploadAction(c *cli.Context) error {
	e, err := setup(c, false)
	if err != nil {
		return err
	}
	defer e.close()

	flow, journal, err := e.flow(nil)
	if err != nil {
		return err
	}
	id := c.String("trade")
	// 以服务端状态为准重新载入，不重放本地历史
	if _, err := resumeOne(c.Context, flow, journal, id); err != nil {
		return describe(err)
	}

	res, err := uploadFile(c.Context, flow, id, c.String("file"))
	if err != nil {
		return err
	}
	if res.IsValid && !c.Bool("no-wait") {
		if _, err := awaitSettlement(c.Context, flow, id); err != nil {
			return err
		}
	}
	entry, _ := flow.Store.Get(id)
	return printJSON(flow.View(entry, flow.Clock.Now()))
}
