package broadcast

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExtendedChannel(t *testing.T) {
	assert.Equal(t, "auction:a1:extended", ExtendedChannel("a1"))
}

func TestNop(t *testing.T) {
	var b Broadcaster = Nop{}
	assert.NoError(t, b.NotifyAuctionExtended(context.Background(), "a1", time.Now()))
}

func TestNewRedisBroadcaster_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := NewRedisBroadcaster(ctx, "127.0.0.1:1", "", 0)
	assert.Error(t, err)
}
