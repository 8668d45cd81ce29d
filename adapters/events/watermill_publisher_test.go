package events_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/parlor/adapters/events"
	"github.com/layer-3/parlor/ports"
)

func TestPublishSessionEvent(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	t.Cleanup(func() { _ = pubSub.Close() })

	messages, err := pubSub.Subscribe(context.Background(), events.SessionTopic)
	require.NoError(t, err)

	pub := events.NewWatermillPublisher(pubSub)
	require.NoError(t, pub.PublishSessionEvent(context.Background(), ports.SessionEventAuthenticated, "0xAbC"))

	select {
	case msg := <-messages:
		var event events.SessionEvent
		require.NoError(t, json.Unmarshal(msg.Payload, &event))
		require.Equal(t, ports.SessionEventAuthenticated, event.Kind)
		require.Equal(t, "0xAbC", event.Wallet)
		require.False(t, event.At.IsZero())
		msg.Ack()
	case <-time.After(2 * time.Second):
		t.Fatal("the session event was never delivered")
	}
}
