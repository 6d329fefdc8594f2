package exchange

import (
	"context"
	"fmt"

	"qlir/internal/model"
)

// ProbeEarliestOpen asks for the very first candle (startTime=0, limit=1).
// Returns (open, true) or (0, false) when upstream reports no data.
func (c *Client) ProbeEarliestOpen(ctx context.Context, symbol, interval string) (int64, bool, error) {
	zero := int64(0)
	return c.probe(ctx, KlinesRequest{Symbol: symbol, Interval: interval, Limit: 1, StartMS: &zero})
}

// ProbeLatestOpen asks for the newest candle at or before nowMS
// (endTime=nowMS, limit=1).
func (c *Client) ProbeLatestOpen(ctx context.Context, symbol, interval string, nowMS int64) (int64, bool, error) {
	return c.probe(ctx, KlinesRequest{Symbol: symbol, Interval: interval, Limit: 1, EndMS: &nowMS})
}

func (c *Client) probe(ctx context.Context, req KlinesRequest) (int64, bool, error) {
	res, err := c.Klines(ctx, req)
	if err != nil {
		return 0, false, err
	}
	if len(res.Rows) == 0 {
		return 0, false, nil
	}
	opens, err := model.OpenTimes(res.Rows[:1])
	if err != nil {
		return 0, false, fmt.Errorf("probe: %w", err)
	}
	return opens[0], true, nil
}

// ComputeTimeRange composes the two probes into the dataset's full history
// bounds. Fails with ErrNoDataFound when upstream has nothing.
func (c *Client) ComputeTimeRange(ctx context.Context, symbol, interval string, nowMS int64) (int64, int64, error) {
	earliest, ok, err := c.ProbeEarliestOpen(ctx, symbol, interval)
	if err != nil {
		return 0, 0, fmt.Errorf("earliest probe: %w", err)
	}
	if !ok {
		return 0, 0, fmt.Errorf("%w: %s/%s", ErrNoDataFound, symbol, interval)
	}
	latest, ok, err := c.ProbeLatestOpen(ctx, symbol, interval, nowMS)
	if err != nil {
		return 0, 0, fmt.Errorf("latest probe: %w", err)
	}
	if !ok {
		// earliest exists but nothing at or before now: treat the earliest
		// candle as the whole range
		latest = earliest
	}
	return earliest, latest, nil
}
