package verifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueuePriorityThenFIFO(t *testing.T) {
	q := newQueue()

	q.push(&Item{LeadID: "low-1", Priority: 0})
	q.push(&Item{LeadID: "high-1", Priority: 5})
	q.push(&Item{LeadID: "low-2", Priority: 0})
	q.push(&Item{LeadID: "high-2", Priority: 5})
	q.push(&Item{LeadID: "mid-1", Priority: 3})

	var order []string
	for {
		item := q.pop()
		if item == nil {
			break
		}
		order = append(order, item.LeadID)
	}

	assert.Equal(t, []string{"high-1", "high-2", "mid-1", "low-1", "low-2"}, order)
}

func TestQueuePopEmpty(t *testing.T) {
	q := newQueue()
	assert.Nil(t, q.pop())
	assert.Equal(t, 0, q.len())
}

func TestQueueLen(t *testing.T) {
	q := newQueue()
	q.push(&Item{LeadID: "a"})
	q.push(&Item{LeadID: "b"})
	require.Equal(t, 2, q.len())

	q.pop()
	assert.Equal(t, 1, q.len())
}
