package main

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli/v2"

	"github.com/betbot/p2pbuy/internal/errclass"
	"github.com/betbot/p2pbuy/pkg/chain"
	"github.com/betbot/p2pbuy/pkg/logger"
	"github.com/betbot/p2pbuy/pkg/sdk/api"
)

var sellerCmd = cli.Command{
	Name:  "seller",
	Usage: "seller-side order maintenance",
	Subcommands: []*cli.Command{
		&withdrawCmd,
		&updateRateCmd,
		&visibilityCmd,
	},
}

var withdrawCmd = cli.Command{
	Name:  "withdraw",
	Usage: "withdraw unreserved tokens from an escrowed order",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "order",
			Usage:    "order id",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "amount",
			Usage: "amount in token base units (defaults to everything remaining)",
		},
	},
	Action: withdrawAction,
}

var updateRateCmd = cli.Command{
	Name:  "update-rate",
	Usage: "change the exchange rate of an order",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "order",
			Usage:    "order id",
			Required: true,
		},
		&cli.Int64Flag{
			Name:     "rate",
			Usage:    "fiat minor units per whole token",
			Required: true,
		},
	},
	Action: updateRateAction,
}

var visibilityCmd = cli.Command{
	Name:  "visibility",
	Usage: "make an order public, or private behind a code",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "order",
			Usage:    "order id",
			Required: true,
		},
		&cli.BoolFlag{
			Name:  "public",
			Usage: "list the order publicly",
		},
		&cli.StringFlag{
			Name:  "code",
			Usage: "private code (required when not public)",
		},
	},
	Action: visibilityAction,
}

type txResult struct {
	OrderID string `json:"order_id"`
	TxHash  string `json:"tx_hash"`
	Block   uint64 `json:"block"`
	GasUsed uint64 `json:"gas_used"`
}

func escrowClient(e *env) (*chain.EscrowClient, error) {
	if e.cfg.Chain.RPCURL == "" || e.cfg.Chain.EscrowAddress == "" {
		return nil, fmt.Errorf("P2P_RPC_URL 和 P2P_ESCROW_ADDRESS 必须配置")
	}
	w, err := e.wallet()
	if err != nil {
		return nil, err
	}
	return chain.Dial(e.cfg.Chain.RPCURL, w.PrivateKey(), chain.EscrowConfig{
		ChainID:     e.cfg.Chain.ChainID,
		Escrow:      common.HexToAddress(e.cfg.Chain.EscrowAddress),
		ReceiptWait: e.cfg.Chain.ReceiptWait,
	})
}

// confirm 等回执；revert 按错误分类器转成消息键
func confirm(ctx context.Context, ec *chain.EscrowClient, orderID string, hash common.Hash) error {
	logger.WithField("order_id", orderID).Infof("交易已发送 %s，等待回执", hash.Hex())
	receipt, err := ec.WaitForReceipt(ctx, hash)
	if err != nil {
		return describe(errclass.FromError(errclass.CategoryContractRejected, err))
	}
	return printJSON(txResult{
		OrderID: orderID,
		TxHash:  hash.Hex(),
		Block:   receipt.BlockNumber.Uint64(),
		GasUsed: receipt.GasUsed,
	})
}

func withdrawAction(c *cli.Context) error {
	e, err := setup(c, false)
	if err != nil {
		return err
	}
	defer e.close()

	ec, err := escrowClient(e)
	if err != nil {
		return err
	}
	id := c.String("order")
	var amount *big.Int
	if s := c.String("amount"); s != "" {
		v, ok := new(big.Int).SetString(s, 10)
		if !ok || v.Sign() <= 0 {
			return fmt.Errorf("invalid amount %q", s)
		}
		amount = v
	} else {
		o, err := ec.Order(c.Context, id)
		if err != nil {
			return describe(errclass.FromError(errclass.CategoryContractRejected, err))
		}
		if o.Seller != ec.From() {
			return describe(errclass.Errorf(errclass.CategoryContractRejected, errclass.KindNotAuthorized,
				"order %s belongs to %s", id, o.Seller.Hex()))
		}
		if o.RemainingAmount.Sign() == 0 {
			return fmt.Errorf("order %s has nothing left to withdraw", id)
		}
		amount = o.RemainingAmount
		logger.WithField("order_id", id).Infof("撤回全部剩余 %s", amount)
	}

	hash, err := ec.WithdrawFromOrder(c.Context, id, amount)
	if err != nil {
		return describe(errclass.FromError(errclass.CategoryContractRejected, err))
	}
	return confirm(c.Context, ec, id, hash)
}

func updateRateAction(c *cli.Context) error {
	e, err := setup(c, false)
	if err != nil {
		return err
	}
	defer e.close()

	ec, err := escrowClient(e)
	if err != nil {
		return err
	}
	id := c.String("order")
	hash, err := ec.UpdateExchangeRate(c.Context, id, c.Int64("rate"))
	if err != nil {
		return describe(errclass.FromError(errclass.CategoryContractRejected, err))
	}
	return confirm(c.Context, ec, id, hash)
}

func visibilityAction(c *cli.Context) error {
	e, err := setup(c, false)
	if err != nil {
		return err
	}
	defer e.close()

	req := api.VisibilityRequest{IsPublic: c.Bool("public"), PrivateCode: c.String("code")}
	if !req.IsPublic && req.PrivateCode == "" {
		return fmt.Errorf("--code is required for a private order")
	}
	id := c.String("order")
	if err := e.backend.SetOrderVisibility(c.Context, id, req); err != nil {
		return describe(errclass.FromError(errclass.CategoryBackendUnavailable, err))
	}
	return printJSON(map[string]any{"order_id": id, "is_public": req.IsPublic})
}
