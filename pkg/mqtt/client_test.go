package mqtt

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodePayload(t *testing.T) {
	data, err := EncodePayload([]byte("raw"))
	require.NoError(t, err)
	assert.Equal(t, "raw", string(data))

	data, err = EncodePayload("text")
	require.NoError(t, err)
	assert.Equal(t, "text", string(data))

	data, err = EncodePayload(map[string]string{"task_id": "daily_settlement"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"task_id":"daily_settlement"}`, string(data))

	_, err = EncodePayload(make(chan int))
	assert.Error(t, err)
}

func TestClient_PublishNotConnected(t *testing.T) {
	c := NewClient(&Config{Broker: "tcp://localhost:1883", ClientID: "test"})
	assert.False(t, c.IsConnected())

	err := c.Publish(context.Background(), "ops/alerts", "hello")
	assert.ErrorIs(t, err, ErrNotConnected)

	// 未连接时断开不应 panic
	assert.NotPanics(t, c.Disconnect)
}
