package chain

import (
	"context"
	"fmt"
	"math/big"
	"sort"

	"relay-core/pkg/errno"

	"go.uber.org/zap"
)

// Chain is a resolved, ready-to-use network
type Chain struct {
	ID       uint64
	Endpoint string
	Params   Params
	Client   Client
}

// BigID returns the chain id as used by transaction signers
func (c *Chain) BigID() *big.Int {
	return new(big.Int).SetUint64(c.ID)
}

// Dialer opens a Client for an endpoint; DialRPC in production
type Dialer func(ctx context.Context, endpoint string) (Client, error)

// Registry 是链 id -> (RPC 端点, 链参数) 的只读映射, 启动时构建一次
type Registry struct {
	chains map[uint64]*Chain
}

// NewRegistry keeps only chains that have both a configured endpoint and
// built-in parameters. Endpoints without parameters are logged and skipped.
func NewRegistry(ctx context.Context, endpoints map[uint64]string, dial Dialer, log *zap.Logger) (*Registry, error) {
	if dial == nil {
		dial = DialRPC
	}
	if log == nil {
		log = zap.NewNop()
	}

	r := &Registry{chains: make(map[uint64]*Chain, len(endpoints))}
	for id, endpoint := range endpoints {
		params, ok := LookupParams(id)
		if !ok {
			log.Warn("chain has an endpoint but no parameters, skipping", zap.Uint64("chain_id", id))
			continue
		}
		client, err := dial(ctx, endpoint)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("chain %d: %w", id, err)
		}
		r.chains[id] = &Chain{ID: id, Endpoint: endpoint, Params: params, Client: client}
		log.Info("chain enabled", zap.Uint64("chain_id", id), zap.String("name", params.Name))
	}
	return r, nil
}

// Resolve returns the chain or ErrChainUnsupported
func (r *Registry) Resolve(id uint64) (*Chain, error) {
	c, ok := r.chains[id]
	if !ok {
		return nil, errno.ErrChainUnsupported
	}
	return c, nil
}

// IDs lists enabled chain ids in ascending order
func (r *Registry) IDs() []uint64 {
	ids := make([]uint64, 0, len(r.chains))
	for id := range r.chains {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Close releases every chain client
func (r *Registry) Close() {
	for _, c := range r.chains {
		if c.Client != nil {
			c.Client.Close()
		}
	}
}
