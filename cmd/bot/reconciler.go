package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/ashwinkp/condorbot/internal/broker"
	"github.com/ashwinkp/condorbot/internal/retry"
	"github.com/sirupsen/logrus"
)

// reconcile compares the gateway's open option positions against the legs the
// process tracks. The bot never restores positions across restarts, so a
// gateway position with no matching local leg needs a human decision.
func (b *Bot) reconcile(ctx context.Context) error {
	positions, err := retry.Do(ctx, retry.DefaultConfig, logrus.NewEntry(b.log), "position check",
		func(ctx context.Context) ([]broker.PositionItem, error) {
			return b.broker.GetPositions(ctx)
		})
	if err != nil {
		return fmt.Errorf("startup position check: %w", err)
	}

	orphans := orphanedOptionPositions(positions, b.trackedLegs())
	if len(orphans) == 0 {
		b.log.Info("Reconciliation clean: every gateway option position is tracked")
		return nil
	}

	b.log.WithField("count", len(orphans)).
		Warn("Gateway reports open option positions unknown to this process")
	b.notifyError(fmt.Sprintf(
		"Found %d open option position(s) at the broker not tracked locally:\n%s\nClose or manage them manually.",
		len(orphans), strings.Join(orphans, "\n")))
	return nil
}

// trackedLegs returns the strike/right keys of every locally open leg.
func (b *Bot) trackedLegs() map[string]bool {
	tracked := make(map[string]bool)
	for _, strat := range b.strategies {
		if !strat.HasPosition() {
			continue
		}
		for _, leg := range strat.Position().Legs {
			tracked[legKey(strconv.FormatFloat(leg.Strike, 'f', -1, 64), string(leg.Right))] = true
		}
	}
	return tracked
}

// legKey normalizes a strike/right pair so gateway strings ("25200.0", "Call")
// and local legs compare equal.
func legKey(strike, right string) string {
	if f, err := strconv.ParseFloat(strike, 64); err == nil {
		strike = strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strike + "|" + strings.ToLower(right)
}

// orphanedOptionPositions formats the gateway's open option positions that no
// tracked leg accounts for.
func orphanedOptionPositions(positions []broker.PositionItem, tracked map[string]bool) []string {
	var lines []string
	for _, pos := range positions {
		if !strings.EqualFold(pos.ProductType, "options") {
			continue
		}
		if pos.Quantity == "" || pos.Quantity == "0" {
			continue
		}
		if tracked[legKey(pos.StrikePrice, pos.Right)] {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s %s %s %s x%s (%s)",
			strings.ToUpper(pos.Action), pos.StockCode, pos.StrikePrice,
			strings.ToUpper(pos.Right), pos.Quantity, pos.ExpiryDate))
	}
	return lines
}
