package main

import (
	"fmt"
	"math/big"

	"github.com/urfave/cli/v2"

	"github.com/betbot/p2pbuy/internal/matcher"
	"github.com/betbot/p2pbuy/pkg/config"
)

// quote 不访问后端，只按给定汇率计算
var quoteCmd = cli.Command{
	Name:  "quote",
	Usage: "compute the token amount a fiat payment implies at a given rate",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "amount",
			Usage:    "fiat amount, e.g. 199.00",
			Required: true,
		},
		&cli.Int64Flag{
			Name:     "rate",
			Usage:    "fiat minor units per whole token, e.g. 730",
			Required: true,
		},
		&cli.UintFlag{
			Name:  "decimals",
			Usage: "token decimals",
			Value: 6,
		},
		&cli.StringFlag{
			Name:  "symbol",
			Usage: "token symbol for the fee table",
			Value: "USDT",
		},
		&cli.BoolFlag{
			Name:  "private",
			Usage: "apply the private-order fee",
		},
	},
	Action: quoteAction,
}

type quoteResult struct {
	FiatMinor   int64  `json:"fiat_minor"`
	Rate        int64  `json:"rate"`
	Implied     string `json:"implied_amount"`
	Fee         string `json:"fee"`
	Required    string `json:"required_remaining"`
	Receive     string `json:"receive"`
	TokenSymbol string `json:"token_symbol"`
	FiatCheck   int64  `json:"fiat_for_implied"`
}

func quoteAction(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	fiat, err := parseFiat(c.String("amount"))
	if err != nil {
		return err
	}
	rate := c.Int64("rate")
	decimals := uint8(c.Uint("decimals"))
	implied, ok := matcher.ImpliedTokenAmount(fiat, rate, decimals)
	if !ok {
		return fmt.Errorf("rate must be positive")
	}
	symbol := c.String("symbol")
	fee := matcher.FeeTable(cfg.Fees).FlatFee(symbol, !c.Bool("private"), decimals)
	cand := matcher.Candidate{
		ImpliedAmount: implied,
		Fee:           fee,
		Required:      new(big.Int).Add(implied, fee),
	}
	return printJSON(quoteResult{
		FiatMinor:   fiat,
		Rate:        rate,
		Implied:     cand.ImpliedAmount.String(),
		Fee:         cand.Fee.String(),
		Required:    cand.Required.String(),
		Receive:     matcher.FormatTokens(cand.NetAmount(), decimals),
		TokenSymbol: symbol,
		FiatCheck:   matcher.FiatForTokens(implied, rate, decimals),
	})
}
