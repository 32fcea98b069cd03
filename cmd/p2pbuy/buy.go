package main

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/betbot/p2pbuy/internal/domain"
	"github.com/betbot/p2pbuy/internal/matcher"
	"github.com/betbot/p2pbuy/internal/trade"
	"github.com/betbot/p2pbuy/pkg/logger"
	"github.com/betbot/p2pbuy/pkg/sdk/api"
)

var buyCmd = cli.Command{
	Name:  "buy",
	Usage: "open a trade against an order (best match, --order or --code)",
	Flags: append(append([]cli.Flag{}, matchFlags...),
		&cli.StringFlag{
			Name:  "order",
			Usage: "order id to buy from (defaults to the best match)",
		},
		&cli.StringFlag{
			Name:  "receipt",
			Usage: "payment receipt PDF to upload right after the trade is opened",
		},
		&cli.BoolFlag{
			Name:  "wait",
			Usage: "wait for settlement after uploading the receipt",
		},
	),
	Action: buyAction,
}

func buyAction(c *cli.Context) error {
	e, err := setup(c, false)
	if err != nil {
		return err
	}
	defer e.close()

	w, err := e.wallet()
	if err != nil {
		return err
	}
	flow, _, err := e.flow(w)
	if err != nil {
		return err
	}

	q, err := matchQuery(c, e.cfg.Orders.Sort)
	if err != nil {
		return err
	}
	order, err := pickOrder(c, flow, q)
	if err != nil {
		return describe(err)
	}

	res, err := flow.Buy(c.Context, order, w.Address().Hex(), q.FiatMinor)
	if err != nil {
		if errors.Is(err, trade.ErrSyncInterrupted) && res != nil {
			logger.ForTrade("cli", res.TradeID).Warnf("交易已上链但未同步完成 tx=%s，稍后用 upload --trade %s 继续",
				res.TxHash, res.TradeID)
		}
		return describe(err)
	}
	logger.ForTrade("cli", res.TradeID).Infof("交易已创建 tx=%s synthesized=%v attempts=%d",
		res.TxHash, res.Synthesized, res.Attempts)

	if path := c.String("receipt"); path != "" {
		if _, err := uploadFile(c.Context, flow, res.TradeID, path); err != nil {
			return err
		}
		if c.Bool("wait") {
			if _, err := awaitSettlement(c.Context, flow, res.TradeID); err != nil {
				return err
			}
		}
	}
	entry, _ := flow.Store.Get(res.TradeID)
	return printJSON(flow.View(entry, flow.Clock.Now()))
}

// pickOrder 指定订单 > 私有口令 > 最优候选
func pickOrder(c *cli.Context, flow *trade.Flow, q matcher.Query) (domain.Order, error) {
	if code := c.String("code"); code != "" {
		cand, err := flow.Orders.LookupPrivate(c.Context, code, q)
		if err != nil {
			return domain.Order{}, err
		}
		return cand.Order, nil
	}
	if q.Token == "" {
		return domain.Order{}, fmt.Errorf("--token is required without --code")
	}
	candidates, err := flow.Orders.Candidates(c.Context, q)
	if err != nil {
		return domain.Order{}, err
	}
	if id := c.String("order"); id != "" {
		for _, cand := range candidates {
			if cand.Order.ID == id {
				return cand.Order, nil
			}
		}
		return domain.Order{}, fmt.Errorf("order %s cannot fill this amount: %w", id, trade.ErrNoMatch)
	}
	if len(candidates) == 0 {
		return domain.Order{}, trade.ErrNoMatch
	}
	return candidates[0].Order, nil
}

func uploadFile(ctx context.Context, flow *trade.Flow, tradeID, path string) (*api.ValidationResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	res, err := flow.Upload(ctx, tradeID, api.Receipt{
		FileName:    filepath.Base(path),
		ContentType: mime.TypeByExtension(filepath.Ext(path)),
		Data:        data,
	})
	if err != nil {
		return nil, describe(err)
	}
	if !res.IsValid {
		logger.ForTrade("cli", tradeID).Warnf("凭证未通过校验: %s", res.ValidationCode)
	}
	return res, nil
}
