package ident

import (
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = common.HexToAddress("0x00000000000000000000000000000000000000F1")

func TestGenerator_UniqueAndDeterministic(t *testing.T) {
	g, err := NewGenerator(1, base)
	require.NoError(t, err)

	id1, a1 := g.Next()
	id2, a2 := g.Next()

	assert.NotEqual(t, id1, id2)
	assert.NotEqual(t, a1, a2)
	assert.Equal(t, crypto.CreateAddress(base, 0), a1)
	assert.Equal(t, crypto.CreateAddress(base, 1), a2)
	assert.Equal(t, uint64(2), g.Nonce())
}

func TestGenerator_Concurrent(t *testing.T) {
	g, err := NewGenerator(2, base)
	require.NoError(t, err)

	var mu sync.Mutex
	seen := make(map[common.Address]bool)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, a := g.Next()
			mu.Lock()
			seen[a] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 50)
}

func TestGenerator_Resume(t *testing.T) {
	g, err := NewGenerator(3, base)
	require.NoError(t, err)

	g.Resume(10)
	_, a := g.Next()
	assert.Equal(t, crypto.CreateAddress(base, 10), a)

	g.Resume(5) // 不回退
	assert.Equal(t, uint64(11), g.Nonce())
}

func TestNewGenerator_BadNode(t *testing.T) {
	_, err := NewGenerator(4096, base)
	assert.Error(t, err)
}

func TestGenerator_Rollback(t *testing.T) {
	g, err := NewGenerator(5, base)
	require.NoError(t, err)

	g.Next()
	nonce := g.Nonce()
	_, a := g.Next()
	g.Rollback(nonce)

	_, again := g.Next()
	assert.Equal(t, a, again)

	g.Rollback(10) // 不前进
	assert.Equal(t, uint64(2), g.Nonce())
}

func TestGenerator_ResumeFromUsedAddresses(t *testing.T) {
	// 0,1,3 落库; 2 分配后没写成; 顺序无关
	used := []common.Address{
		crypto.CreateAddress(base, 3),
		crypto.CreateAddress(base, 0),
		crypto.CreateAddress(base, 1),
	}
	g, err := NewGenerator(6, base)
	require.NoError(t, err)

	require.NoError(t, g.ResumeFrom(used))
	assert.Equal(t, uint64(4), g.Nonce())
	_, a := g.Next()
	for _, u := range used {
		assert.NotEqual(t, u, a)
	}

	empty, err := NewGenerator(7, base)
	require.NoError(t, err)
	require.NoError(t, empty.ResumeFrom(nil))
	assert.Zero(t, empty.Nonce())
}

func TestGenerator_ResumeFromForeignAddress(t *testing.T) {
	g, err := NewGenerator(8, base)
	require.NoError(t, err)

	foreign := crypto.CreateAddress(common.HexToAddress("0x00000000000000000000000000000000000000F2"), 0)
	err = g.ResumeFrom([]common.Address{crypto.CreateAddress(base, 0), foreign})
	assert.Error(t, err)
	assert.Zero(t, g.Nonce())
}
