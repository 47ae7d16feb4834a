// 文件: pkg/ident/ident.go
// 实例 ID 与托管地址生成
//
// ID:   雪花算法 (github.com/bwmarrin/snowflake)
// 地址: crypto.CreateAddress(注册表地址, nonce), nonce 单调递增,
//       与链上 CREATE 派生规则一致, 同一注册表内不重复

package ident

import (
	"fmt"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Generator ID/地址生成器
type Generator struct {
	node *snowflake.Node
	base common.Address

	mu    sync.Mutex
	nonce uint64
}

// NewGenerator nodeID: 0-1023; base: 注册表自身地址
func NewGenerator(nodeID int64, base common.Address) (*Generator, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", nodeID, err)
	}
	return &Generator{node: node, base: base}, nil
}

// Next 下一个 (ID, 地址)
func (g *Generator) Next() (int64, common.Address) {
	g.mu.Lock()
	nonce := g.nonce
	g.nonce++
	g.mu.Unlock()

	return g.node.Generate().Int64(), crypto.CreateAddress(g.base, nonce)
}

// Base 注册表地址
func (g *Generator) Base() common.Address {
	return g.base
}

// Nonce 已分配数量
func (g *Generator) Nonce() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.nonce
}

// Resume 从持久化状态恢复 nonce (只能前进)
func (g *Generator) Resume(nonce uint64) {
	g.mu.Lock()
	if nonce > g.nonce {
		g.nonce = nonce
	}
	g.mu.Unlock()
}

// Rollback 创建失败时退回刚分配的 nonce (调用方串行化 Next/Rollback)
func (g *Generator) Rollback(nonce uint64) {
	g.mu.Lock()
	if nonce < g.nonce {
		g.nonce = nonce
	}
	g.mu.Unlock()
}

// maxNonceGap 恢复时容忍的未落库地址数
const maxNonceGap = 1024

// ResumeFrom 把 nonce 推进到 used 中最后派生的地址之后
//
// used 必须都由 base 派生; 中间允许少量空洞 (分配了地址但记录没写成)
func (g *Generator) ResumeFrom(used []common.Address) error {
	pending := make(map[common.Address]struct{}, len(used))
	for _, a := range used {
		pending[a] = struct{}{}
	}
	limit := uint64(len(pending)) + maxNonceGap

	var next uint64
	for n := uint64(0); len(pending) > 0; n++ {
		if n >= limit {
			return fmt.Errorf("%d addresses not derived from %s", len(pending), g.base.Hex())
		}
		addr := crypto.CreateAddress(g.base, n)
		if _, ok := pending[addr]; ok {
			delete(pending, addr)
			next = n + 1
		}
	}
	g.Resume(next)
	return nil
}
