package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wkoss/polystop/internal/domain"
)

// updateLevelLua applies one price-level change, recomputes the best price
// for that side, and refreshes the snapshot timestamp in a single atomic
// step. Without the timestamp touch a book kept warm only by deltas would
// always read as stale.
//
// KEYS[1] = side zset, KEYS[2] = side size hash, KEYS[3] = bbo hash,
// KEYS[4] = meta hash
// ARGV[1] = price, ARGV[2] = size, ARGV[3] = "bid" or "ask",
// ARGV[4] = update time (unix nanos)
const updateLevelLua = `
local price = ARGV[1]
local size = tonumber(ARGV[2])
local field = ARGV[3]

if size > 0 then
    redis.call('ZADD', KEYS[1], tonumber(price), price)
    redis.call('HSET', KEYS[2], price, ARGV[2])
else
    redis.call('ZREM', KEYS[1], price)
    redis.call('HDEL', KEYS[2], price)
end

local best
if field == 'bid' then
    best = redis.call('ZREVRANGE', KEYS[1], 0, 0)
else
    best = redis.call('ZRANGE', KEYS[1], 0, 0)
end

if best[1] then
    redis.call('HSET', KEYS[3], field, best[1])
else
    redis.call('HDEL', KEYS[3], field)
end

redis.call('HSET', KEYS[4], 'ts', ARGV[4])
return 1
`

// OrderbookCache implements domain.OrderbookCache on Redis sorted sets and
// hashes. The WS feed keeps it warm; the executor reads the best bid from it
// before falling back to a REST book query.
//
// Key schema per asset:
//
//	book:{assetID}:bids      - zset of bid prices (score = price)
//	book:{assetID}:asks      - zset of ask prices (score = price)
//	book:{assetID}:bid:size  - hash price -> size
//	book:{assetID}:ask:size  - hash price -> size
//	book:{assetID}:bbo       - hash with "bid" and "ask" fields
//	book:{assetID}:meta      - hash with "ts" (snapshot time, unix nanos)
type OrderbookCache struct {
	rdb         *redis.Client
	updateLevel *redis.Script
}

// NewOrderbookCache creates an OrderbookCache backed by the given Client.
func NewOrderbookCache(c *Client) *OrderbookCache {
	return &OrderbookCache{
		rdb:         c.Underlying(),
		updateLevel: redis.NewScript(updateLevelLua),
	}
}

type bookKeys struct {
	bids, asks, bidSize, askSize, bbo, meta string
}

func keysFor(assetID string) bookKeys {
	prefix := "book:" + assetID
	return bookKeys{
		bids:    prefix + ":bids",
		asks:    prefix + ":asks",
		bidSize: prefix + ":bid:size",
		askSize: prefix + ":ask:size",
		bbo:     prefix + ":bbo",
		meta:    prefix + ":meta",
	}
}

func fmtFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// SetSnapshot atomically replaces the cached orderbook for an asset.
func (oc *OrderbookCache) SetSnapshot(ctx context.Context, assetID string, snap domain.OrderbookSnapshot) error {
	k := keysFor(assetID)

	pipe := oc.rdb.TxPipeline()
	pipe.Del(ctx, k.bids, k.asks, k.bidSize, k.askSize, k.bbo, k.meta)

	for _, lvl := range snap.Bids {
		priceStr := fmtFloat(lvl.Price)
		pipe.ZAdd(ctx, k.bids, redis.Z{Score: lvl.Price, Member: priceStr})
		pipe.HSet(ctx, k.bidSize, priceStr, fmtFloat(lvl.Size))
	}
	for _, lvl := range snap.Asks {
		priceStr := fmtFloat(lvl.Price)
		pipe.ZAdd(ctx, k.asks, redis.Z{Score: lvl.Price, Member: priceStr})
		pipe.HSet(ctx, k.askSize, priceStr, fmtFloat(lvl.Size))
	}

	if snap.BestBid > 0 {
		pipe.HSet(ctx, k.bbo, "bid", fmtFloat(snap.BestBid))
	}
	if snap.BestAsk > 0 {
		pipe.HSet(ctx, k.bbo, "ask", fmtFloat(snap.BestAsk))
	}
	pipe.HSet(ctx, k.meta, "ts", strconv.FormatInt(snap.Timestamp.UnixNano(), 10))

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set orderbook snapshot %s: %w", assetID, err)
	}
	return nil
}

// GetSnapshot reconstructs the cached OrderbookSnapshot for an asset.
// Returns domain.ErrNotFound if nothing is cached.
func (oc *OrderbookCache) GetSnapshot(ctx context.Context, assetID string) (domain.OrderbookSnapshot, error) {
	k := keysFor(assetID)

	pipe := oc.rdb.Pipeline()
	bidsCmd := pipe.ZRevRangeWithScores(ctx, k.bids, 0, -1)
	asksCmd := pipe.ZRangeWithScores(ctx, k.asks, 0, -1)
	bidSizeCmd := pipe.HGetAll(ctx, k.bidSize)
	askSizeCmd := pipe.HGetAll(ctx, k.askSize)
	bboCmd := pipe.HGetAll(ctx, k.bbo)
	metaCmd := pipe.HGetAll(ctx, k.meta)

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return domain.OrderbookSnapshot{}, fmt.Errorf("redis: get orderbook snapshot %s: %w", assetID, err)
	}

	metaVals, _ := metaCmd.Result()
	if len(metaVals) == 0 {
		return domain.OrderbookSnapshot{}, domain.ErrNotFound
	}

	snap := domain.OrderbookSnapshot{AssetID: assetID}

	if tsStr, ok := metaVals["ts"]; ok {
		if tsNano, err := strconv.ParseInt(tsStr, 10, 64); err == nil {
			snap.Timestamp = time.Unix(0, tsNano)
		}
	}

	snap.Bids = levelsFromZ(bidsCmd, bidSizeCmd)
	snap.Asks = levelsFromZ(asksCmd, askSizeCmd)

	bboVals, _ := bboCmd.Result()
	if bidStr, ok := bboVals["bid"]; ok {
		snap.BestBid, _ = strconv.ParseFloat(bidStr, 64)
	}
	if askStr, ok := bboVals["ask"]; ok {
		snap.BestAsk, _ = strconv.ParseFloat(askStr, 64)
	}

	return snap, nil
}

func levelsFromZ(zCmd *redis.ZSliceCmd, sizeCmd *redis.MapStringStringCmd) []domain.PriceLevel {
	sizes, _ := sizeCmd.Result()
	zs, _ := zCmd.Result()

	levels := make([]domain.PriceLevel, 0, len(zs))
	for _, z := range zs {
		priceStr, ok := z.Member.(string)
		if !ok {
			continue
		}
		size := 0.0
		if sizeStr, exists := sizes[priceStr]; exists {
			size, _ = strconv.ParseFloat(sizeStr, 64)
		}
		levels = append(levels, domain.PriceLevel{Price: z.Score, Size: size})
	}
	return levels
}

// UpdateLevel applies an incremental level update atomically. size == 0
// removes the level. The best price for the side is recomputed in the same
// script.
func (oc *OrderbookCache) UpdateLevel(ctx context.Context, assetID string, side string, price, size float64) error {
	k := keysFor(assetID)

	var zKey, hKey, field string
	switch side {
	case "bids", "BUY", "bid":
		zKey, hKey, field = k.bids, k.bidSize, "bid"
	case "asks", "SELL", "ask":
		zKey, hKey, field = k.asks, k.askSize, "ask"
	default:
		return fmt.Errorf("redis: update level: unknown side %q", side)
	}

	keys := []string{zKey, hKey, k.bbo, k.meta}
	args := []interface{}{fmtFloat(price), fmtFloat(size), field,
		strconv.FormatInt(time.Now().UnixNano(), 10)}

	if err := oc.updateLevel.Run(ctx, oc.rdb, keys, args...).Err(); err != nil {
		return fmt.Errorf("redis: update level %s %s@%s: %w", assetID, field, fmtFloat(price), err)
	}
	return nil
}

// GetBBO retrieves the current best bid and ask.
// Returns domain.ErrNotFound if no BBO data exists.
func (oc *OrderbookCache) GetBBO(ctx context.Context, assetID string) (bestBid, bestAsk float64, err error) {
	k := keysFor(assetID)

	vals, err := oc.rdb.HGetAll(ctx, k.bbo).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("redis: get bbo %s: %w", assetID, err)
	}
	if len(vals) == 0 {
		return 0, 0, domain.ErrNotFound
	}

	if bidStr, ok := vals["bid"]; ok {
		bestBid, _ = strconv.ParseFloat(bidStr, 64)
	}
	if askStr, ok := vals["ask"]; ok {
		bestAsk, _ = strconv.ParseFloat(askStr, 64)
	}
	return bestBid, bestAsk, nil
}

var _ domain.OrderbookCache = (*OrderbookCache)(nil)
