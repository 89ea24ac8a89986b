package keyring

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRotator_RoundRobin(t *testing.T) {
	r := New()
	r.SetPool("groq", "k1, k2 ,k3")

	assert.Equal(t, "k1", r.Next("groq", "fb"))
	assert.Equal(t, "k2", r.Next("groq", "fb"))
	assert.Equal(t, "k3", r.Next("groq", "fb"))
	assert.Equal(t, "k1", r.Next("groq", "fb"))
}

func TestRotator_FallbackOnEmptyPool(t *testing.T) {
	r := New()

	assert.Equal(t, "agent-key", r.Next("groq", "agent-key"))

	r.SetPool("nvidia", " , ,")
	assert.Equal(t, "nv-fallback", r.Next("nvidia", "nv-fallback"))
}

func TestRotator_IndependentCycles(t *testing.T) {
	r := New()
	r.SetPool("groq", "g1,g2")
	r.SetPool("nvidia", "n1,n2,n3")

	assert.Equal(t, "g1", r.Next("groq", ""))
	assert.Equal(t, "n1", r.Next("nvidia", ""))
	assert.Equal(t, "g2", r.Next("groq", ""))
	assert.Equal(t, "n2", r.Next("nvidia", ""))
	assert.Equal(t, "g1", r.Next("groq", ""))
	assert.Equal(t, "n3", r.Next("nvidia", ""))
}

func TestRotator_ConcurrentCallersGetEvenSpread(t *testing.T) {
	r := New()
	r.SetPool("groq", "a,b,c,d")

	const callers = 8
	const perCaller = 100

	var mu sync.Mutex
	counts := make(map[string]int)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perCaller; j++ {
				k := r.Next("groq", "")
				mu.Lock()
				counts[k]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// 800 draws over 4 keys: round-robin guarantees an exact split.
	assert.Len(t, counts, 4)
	for key, n := range counts {
		assert.Equalf(t, callers*perCaller/4, n, "key %s drawn unevenly", key)
	}
}

func TestParseKeys(t *testing.T) {
	assert.Nil(t, ParseKeys(""))
	assert.Equal(t, []string{"one"}, ParseKeys("one"))
	assert.Equal(t, []string{"a", "b"}, ParseKeys(" a ,, b "))
}
