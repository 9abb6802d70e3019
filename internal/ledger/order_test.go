package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrderSameShard(t *testing.T) {
	a := Entry{ID: EventID{Shard: 1, Block: 0, Index: 0}}
	b := Entry{ID: EventID{Shard: 1, Block: 0, Index: 1}}
	assert.Equal(t, OrderBefore, Order(a, b))
	assert.Equal(t, OrderAfter, Order(b, a))
	assert.Equal(t, OrderEqual, Order(a, a))
}

func TestOrderCrossShardSameSeq(t *testing.T) {
	a := Entry{ID: EventID{Shard: 1, Block: 0, Index: 0}, Seq: 5}
	b := Entry{ID: EventID{Shard: 2, Block: 0, Index: 0}, Seq: 5}
	assert.Equal(t, OrderConcurrent, Order(a, b))
}

func TestOrderCrossShardDifferentSeq(t *testing.T) {
	a := Entry{ID: EventID{Shard: 1, Block: 0, Index: 0}, Seq: 3}
	b := Entry{ID: EventID{Shard: 2, Block: 0, Index: 0}, Seq: 7}
	assert.Equal(t, OrderBefore, Order(a, b))
	assert.Equal(t, OrderAfter, Order(b, a))
}

func TestOrderCrossShardUnknown(t *testing.T) {
	a := Entry{ID: EventID{Shard: 1, Block: 0, Index: 0}}
	b := Entry{ID: EventID{Shard: 2, Block: 0, Index: 0}}
	assert.Equal(t, OrderUnknown, Order(a, b))
}
