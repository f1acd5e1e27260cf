package redis

import (
	"context"
	"fmt"
	"strconv"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureHook records every command instead of sending it to a server.
type captureHook struct {
	cmds *[]redis.Cmder
}

func (h captureHook) DialHook(next redis.DialHook) redis.DialHook { return next }

func (h captureHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		*h.cmds = append(*h.cmds, cmd)
		return nil
	}
}

func (h captureHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		*h.cmds = append(*h.cmds, cmds...)
		return nil
	}
}

func newCaptureCache() (*OrderbookCache, *[]redis.Cmder) {
	var captured []redis.Cmder
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	rdb.AddHook(captureHook{cmds: &captured})
	return &OrderbookCache{
		rdb:         rdb,
		updateLevel: redis.NewScript(updateLevelLua),
	}, &captured
}

func TestUpdateLevel_TouchesSnapshotTimestamp(t *testing.T) {
	oc, captured := newCaptureCache()

	require.NoError(t, oc.UpdateLevel(context.Background(), "tok", "bid", 0.42, 10))

	require.NotEmpty(t, *captured)
	args := (*captured)[len(*captured)-1].Args()

	// The script must receive the meta hash key and a fresh update time, or
	// a book kept warm only by deltas would always read as stale.
	assert.Contains(t, args, "book:tok:meta")
	ts, err := strconv.ParseInt(fmt.Sprint(args[len(args)-1]), 10, 64)
	require.NoError(t, err)
	assert.Positive(t, ts)
}

func TestUpdateLevel_RejectsUnknownSide(t *testing.T) {
	oc, captured := newCaptureCache()

	err := oc.UpdateLevel(context.Background(), "tok", "sideways", 0.42, 10)

	require.Error(t, err)
	assert.Empty(t, *captured)
}
