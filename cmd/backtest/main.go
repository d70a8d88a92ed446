// Command backtest replays the iron condor and short straddle strategies
// over past weekly expiries, using the gateway's historical data when
// credentials are available and a seeded simulation otherwise, then prints a
// performance report and saves the trades.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/ashwinkp/condorbot/internal/backtest"
	"github.com/ashwinkp/condorbot/internal/broker"
	"github.com/ashwinkp/condorbot/internal/config"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	strategy := flag.String("strategy", "iron_condor", "strategy to replay: iron_condor, short_straddle or both")
	index := flag.String("index", "NIFTY", "configured index to replay")
	days := flag.Int("days", 90, "lookback window in calendar days")
	capital := flag.Float64("capital", 500000, "starting capital")
	simulate := flag.Bool("simulate", false, "force the simulated data source")
	seed := flag.Int64("seed", 42, "seed for the simulated data source")
	out := flag.String("out", "trade_history", "output directory for trade and equity files")
	flag.Parse()

	// .env is optional; real deployments inject environment variables
	_ = godotenv.Load()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	kinds, err := parseKinds(*strategy)
	if err != nil {
		log.WithError(err).Fatal("Invalid strategy")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	to := time.Now()
	from := to.AddDate(0, 0, -*days)

	source, params := buildSource(ctx, log, *configPath, *index, *simulate, *seed)

	for _, kind := range kinds {
		p := params
		if kind == backtest.KindShortStraddle {
			// The naked straddle books profits earlier and cuts losses
			// tighter than the hedged condor.
			p.TargetPct = 0.3
			p.StopLossPct = 0.2
		}

		bt := backtest.New(source, kind, p, *capital, from, to)
		res, err := bt.Run(ctx)
		if err != nil {
			log.WithError(err).Fatal("Backtest failed")
		}
		fmt.Print(res.Report())

		hist := backtest.NewHistory(*out, string(kind))
		if _, _, err := hist.SaveTrades(bt.Trades()); err != nil {
			log.WithError(err).Error("Saving trades failed")
		}
		if _, err := hist.SaveEquityCurve(bt.EquityCurve()); err != nil {
			log.WithError(err).Error("Saving equity curve failed")
		}
	}
}

func parseKinds(raw string) ([]backtest.Kind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(backtest.KindIronCondor):
		return []backtest.Kind{backtest.KindIronCondor}, nil
	case string(backtest.KindShortStraddle):
		return []backtest.Kind{backtest.KindShortStraddle}, nil
	case "both":
		return []backtest.Kind{backtest.KindIronCondor, backtest.KindShortStraddle}, nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", raw)
	}
}

// buildSource prefers the gateway's historical data and falls back to the
// seeded simulation when credentials are missing or the session fails.
func buildSource(ctx context.Context, log *logrus.Logger, configPath, index string,
	simulate bool, seed int64) (backtest.DataSource, backtest.Params) {
	params := backtest.DefaultParams()

	if simulate {
		log.Info("Using simulated data source")
		return backtest.NewSimulatedSource(seed), params
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.WithError(err).Warn("Config unavailable, falling back to simulation")
		return backtest.NewSimulatedSource(seed), params
	}

	idx, ok := cfg.Indices[index]
	if !ok {
		log.Warnf("Index %s not configured, falling back to simulation", index)
		return backtest.NewSimulatedSource(seed), params
	}
	p := idx.Params()
	params.LotQty = idx.LotQty
	params.Lots = p.LotSize
	params.StrikeStep = idx.StrikeStep
	params.SellOffset = p.CESellOffset
	params.BuyOffset = p.CEBuyOffset
	params.ExpiryWeekday = idx.ExpiryWeekday()

	client := broker.NewBreezeClient(
		cfg.Broker.APIKey, cfg.Broker.APISecret, cfg.Broker.SessionToken, cfg.Broker.BaseURL)
	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := client.Connect(connectCtx); err != nil {
		log.WithError(err).Warn("Broker session failed, falling back to simulation")
		return backtest.NewSimulatedSource(seed), params
	}

	log.Infof("Using gateway historical data for %s", idx.Name)
	return backtest.NewBreezeSource(client, broker.Instrument{
		StockCode:    idx.StockCode,
		CashCode:     idx.CashCode,
		Exchange:     idx.Exchange,
		CashExchange: idx.CashExchange,
	}), params
}
