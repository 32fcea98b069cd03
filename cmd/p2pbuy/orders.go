package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"github.com/betbot/p2pbuy/internal/domain"
	"github.com/betbot/p2pbuy/internal/matcher"
	"github.com/betbot/p2pbuy/internal/trade"
)

var matchFlags = []cli.Flag{
	&cli.StringFlag{
		Name:     "amount",
		Usage:    "fiat amount to pay, e.g. 199.00",
		Required: true,
	},
	&cli.StringFlag{
		Name:  "token",
		Usage: "token contract address (not needed with --code)",
	},
	&cli.StringFlag{
		Name:  "rail",
		Usage: "payment rail: alipay or wechat",
		Value: string(domain.RailAlipay),
	},
	&cli.StringFlag{
		Name:  "code",
		Usage: "private order code",
	},
}

var ordersCmd = cli.Command{
	Name:  "orders",
	Usage: "list orders that can fill a fiat amount",
	Flags: append(append([]cli.Flag{}, matchFlags...),
		&cli.StringFlag{
			Name:  "sort",
			Usage: "rate_asc, rate_desc, newest or oldest (defaults to config)",
		},
	),
	Action: ordersAction,
}

func ordersAction(c *cli.Context) error {
	e, err := setup(c, false)
	if err != nil {
		return err
	}
	defer e.close()

	q, err := matchQuery(c, e.cfg.Orders.Sort)
	if err != nil {
		return err
	}
	book := trade.NewOrderBook(e.backend, e.cfg.Fees, e.cfg.Orders.RefreshInterval)
	defer book.Close()

	var candidates []matcher.Candidate
	if code := c.String("code"); code != "" {
		cand, err := book.LookupPrivate(c.Context, code, q)
		if err != nil {
			return describe(err)
		}
		candidates = append(candidates, *cand)
	} else {
		if q.Token == "" {
			return fmt.Errorf("--token is required without --code")
		}
		candidates, err = book.Candidates(c.Context, q)
		if err != nil {
			return describe(err)
		}
	}
	if len(candidates) == 0 {
		fmt.Println("no order can fill this amount")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ORDER\tRATE\tREMAINING\tYOU PAY FOR\tFEE\tYOU RECEIVE\tRAIL")
	for _, cand := range candidates {
		o := cand.Order
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s %s\t%s\n",
			o.ID,
			o.ExchangeRate,
			matcher.FormatTokens(o.Remaining(), o.TokenDecimals),
			matcher.FormatTokens(cand.ImpliedAmount, o.TokenDecimals),
			matcher.FormatTokens(cand.Fee, o.TokenDecimals),
			matcher.FormatTokens(cand.NetAmount(), o.TokenDecimals), o.TokenSymbol,
			o.Rail,
		)
	}
	return w.Flush()
}

func matchQuery(c *cli.Context, defaultSort string) (matcher.Query, error) {
	fiat, err := parseFiat(c.String("amount"))
	if err != nil {
		return matcher.Query{}, err
	}
	sort := c.String("sort")
	if sort == "" {
		sort = defaultSort
	}
	q := matcher.Query{
		Token:     c.String("token"),
		FiatMinor: fiat,
		Sort:      domain.ParseSortKey(sort),
	}
	// 私有口令路径下通道取订单自身的值
	if c.String("code") == "" || c.IsSet("rail") {
		q.Rail = domain.PaymentRail(c.String("rail"))
	}
	return q, nil
}
