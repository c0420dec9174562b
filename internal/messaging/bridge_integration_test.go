//go:build integration
// +build integration

package messaging_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"dm-chat/internal/messaging"
	"dm-chat/internal/relay"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRabbitMQ starts a RabbitMQ container and returns its AMQP URL
func setupRabbitMQ(t *testing.T) (string, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "rabbitmq:3.12-management-alpine",
		ExposedPorts: []string{"5672/tcp"},
		Env: map[string]string{
			"RABBITMQ_DEFAULT_USER": "guest",
			"RABBITMQ_DEFAULT_PASS": "guest",
		},
		WaitingFor: wait.ForAll(
			wait.ForLog("Server startup complete"),
			wait.ForListeningPort("5672/tcp"),
		).WithDeadline(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "failed to start RabbitMQ container")

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "5672")
	require.NoError(t, err)

	url := fmt.Sprintf("amqp://guest:guest@%s:%s/", host, port.Port())

	cleanup := func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}

	return url, cleanup
}

func TestEventBridge_CrossInstanceDelivery(t *testing.T) {
	url, cleanup := setupRabbitMQ(t)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Two "instances", each with its own broker connection and hub.
	rmqA, err := messaging.NewRabbitMQWithRetry(ctx, url)
	require.NoError(t, err)
	defer rmqA.Close()

	rmqB, err := messaging.NewRabbitMQWithRetry(ctx, url)
	require.NoError(t, err)
	defer rmqB.Close()

	hubA := relay.NewHub()
	hubB := relay.NewHub()
	go hubA.Run(ctx)
	go hubB.Run(ctx)

	bridgeA := messaging.NewEventBridge(rmqA, hubA)
	bridgeB := messaging.NewEventBridge(rmqB, hubB)
	require.NoError(t, bridgeA.Start(ctx))
	require.NoError(t, bridgeB.Start(ctx))

	// Give the transient queues time to bind.
	time.Sleep(500 * time.Millisecond)

	env := &relay.Envelope{
		Event: relay.EventSendMessage,
		Data: relay.MessagePayload{
			UserID:    "user_1",
			ChatID:    "chat-1",
			Message:   "hi",
			CreatedAt: time.Now().UTC(),
		},
	}

	// B should see it via the exchange; observe through an in-process
	// subscription on hubB.
	probe := hubB.Subscribe("probe")
	require.NoError(t, bridgeA.PublishEvent(ctx, env))

	select {
	case raw := <-probe:
		var got relay.Envelope
		require.NoError(t, json.Unmarshal(raw, &got))
		assert.Equal(t, "hi", got.Data.Message)
		assert.Equal(t, "chat-1", got.Data.ChatID)
	case <-time.After(5 * time.Second):
		t.Fatal("bridged event never reached the foreign hub")
	}

	// A publishes with its own origin tag, so its local hub must not get
	// a second copy over the bridge.
	probeA := hubA.Subscribe("probe-a")
	require.NoError(t, bridgeA.PublishEvent(ctx, env))

	select {
	case <-probeA:
		t.Fatal("instance received its own event back over the bridge")
	case <-time.After(time.Second):
	}
}
