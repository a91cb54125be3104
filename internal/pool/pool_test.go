package pool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolGetPut(t *testing.T) {
	p := New(func() *[]byte {
		b := make([]byte, 4096)
		return &b
	})

	buf := p.Get()
	require.NotNil(t, buf)
	assert.Len(t, *buf, 4096)
	p.Put(buf)

	again := p.Get()
	require.NotNil(t, again)
}

func TestPoolConcurrentAccess(t *testing.T) {
	p := New(func() *[]byte {
		b := make([]byte, 64)
		return &b
	})

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 200 {
				buf := p.Get()
				(*buf)[0] = byte(i)
				p.Put(buf)
			}
		}()
	}
	wg.Wait()
}
