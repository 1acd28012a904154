package audit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamRecordsEvent(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	rec := New(client, "cargas:audit")
	rec.Record(context.Background(), Event{
		Kind:     RequestApproved,
		TenantID: "t1",
		ActorID:  42,
		Fields:   map[string]string{"request_id": "7", "kind": "ignored"},
		At:       time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	})

	msgs, err := client.XRange(context.Background(), "cargas:audit", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	v := msgs[0].Values
	assert.Equal(t, RequestApproved, v["kind"])
	assert.Equal(t, "t1", v["tenant_id"])
	assert.Equal(t, "42", v["actor_id"])
	assert.Equal(t, "7", v["request_id"])
	assert.Equal(t, "2024-05-01T12:00:00Z", v["at"])
}

func TestStreamFailureIsSwallowed(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	assert.NotPanics(t, func() {
		NewStream(client, "").Record(context.Background(), Event{Kind: RecordSaved})
	})
}

func TestNewWithoutClientIsNop(t *testing.T) {
	_, ok := New(nil, "x").(Nop)
	assert.True(t, ok)
}
