package queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPriorityQueueOrder(t *testing.T) {
	pq := NewPriorityQueue[string]()
	pq.Enqueue("ui", 0)
	pq.Enqueue("manager", 100)
	pq.Enqueue("logger", 50)

	assert.Equal(t, 3, pq.Len())
	assert.Equal(t, []string{"manager", "logger", "ui"}, pq.Drain())
	assert.Equal(t, 0, pq.Len())
}

func TestPriorityQueueDequeueEmpty(t *testing.T) {
	pq := NewPriorityQueue[int]()
	_, ok := pq.Dequeue()
	assert.False(t, ok)
}

func TestPriorityQueueDequeue(t *testing.T) {
	pq := NewPriorityQueue[int]()
	pq.Enqueue(1, 1)
	pq.Enqueue(2, 2)

	v, ok := pq.Dequeue()
	assert.True(t, ok)
	assert.Equal(t, 2, v)

	v, ok = pq.Dequeue()
	assert.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestPriorityQueueConcurrent(t *testing.T) {
	pq := NewPriorityQueue[int]()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			pq.Enqueue(n, n)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 100, pq.Len())

	values := pq.Drain()
	assert.Equal(t, 99, values[0])
	assert.Equal(t, 0, values[99])
}
