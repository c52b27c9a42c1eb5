package session

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	published []string
}

func (f *fakePublisher) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	f.published = append(f.published, channel)
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(1)
	return cmd
}

func TestPublishChange_UsesSessionChannel(t *testing.T) {
	pub := &fakePublisher{}
	err := PublishChange(context.Background(), pub, "rand-prompt1-user1-teller1-1700000000")
	require.NoError(t, err)
	require.Len(t, pub.published, 1)
	assert.Equal(t, "session:rand-prompt1-user1-teller1-1700000000", pub.published[0])
}

func TestChannelName_IsStableAndDistinctPerSession(t *testing.T) {
	assert.Equal(t, "session:a", channelName("a"))
	assert.NotEqual(t, channelName("a"), channelName("b"))
}
