//go:build integration

package events

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

func startRabbit(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "rabbitmq:3-management",
			ExposedPorts: []string{"5672/tcp"},
			WaitingFor:   wait.ForListeningPort("5672/tcp").WithStartupTimeout(2 * time.Minute),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate rabbitmq container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5672/tcp")
	require.NoError(t, err)
	return fmt.Sprintf("amqp://guest:guest@%s:%s/", host, port.Port())
}

func TestAMQPPublisherRoutesByType(t *testing.T) {
	url := startRabbit(t)

	conn, err := Dial(url, 10, time.Second)
	require.NoError(t, err)
	publisher, err := NewAMQPPublisher(conn, "pixelcredit.test", zap.NewNop())
	require.NoError(t, err)
	defer publisher.Close()

	consumerConn, err := amqp.Dial(url)
	require.NoError(t, err)
	defer consumerConn.Close()
	ch, err := consumerConn.Channel()
	require.NoError(t, err)
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	require.NoError(t, err)
	require.NoError(t, ch.QueueBind(q.Name, "generation.*", "pixelcredit.test", false, nil))
	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	require.NoError(t, err)

	event := Event{ID: "01J0000000000000000000000", Type: TypeGenerationSucceeded, OccurredAt: time.Now().UTC(), Payload: map[string]any{"cost": 8}}
	require.NoError(t, publisher.Publish(context.Background(), event))

	select {
	case d := <-deliveries:
		assert.Equal(t, TypeGenerationSucceeded, d.RoutingKey)
		var got Event
		require.NoError(t, json.Unmarshal(d.Body, &got))
		assert.Equal(t, event.ID, got.ID)
	case <-time.After(10 * time.Second):
		t.Fatal("no delivery")
	}

	require.NoError(t, publisher.Close())
	assert.ErrorIs(t, publisher.Publish(context.Background(), event), ErrPublisherClosed)
}
