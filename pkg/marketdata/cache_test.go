package marketdata

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRedisSnapshotCache_KeyDefaultsPrefix(t *testing.T) {
	c := &RedisSnapshotCache{}
	require.Equal(t, "marketdata:snapshot:BTC-USDT", c.key("BTC-USDT"))

	c.Prefix = "custom:"
	require.Equal(t, "custom:BTC-USDT", c.key("BTC-USDT"))
}
