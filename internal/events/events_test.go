package events

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEnvelope(t *testing.T) {
	evt := New(RelationPurchased, "gid-1", map[string]any{"relation_id": 7})

	_, err := uuid.Parse(evt.EventID)
	require.NoError(t, err)

	assert.Equal(t, RelationPurchased, evt.EventType)
	assert.Equal(t, "1", evt.EventVersion)
	assert.Equal(t, "gid-1", evt.AggregateID)
	assert.NotNil(t, evt.Data)
}

func TestNewEnvelopeUniqueIDs(t *testing.T) {
	a := New(CartRolledBack, "t-1", nil)
	b := New(CartRolledBack, "t-1", nil)
	assert.NotEqual(t, a.EventID, b.EventID)
}
