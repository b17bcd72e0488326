// Package signer builds and signs EIP-1559 transactions with the gateway key.
package signer

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// TxRequest is a policy-approved request with every numeric field parsed
type TxRequest struct {
	To                   common.Address
	Data                 []byte
	Value                *big.Int
	Gas                  uint64
	MaxPriorityFeePerGas *big.Int
	MaxFeePerGas         *big.Int
}

// SignedTx 是一次性的已签名交易, 只交给广播客户端使用
type SignedTx struct {
	Raw  []byte
	Hash common.Hash
	Tx   *types.Transaction
}

// Signer holds the single process-wide key; it is read-only after construction
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

func New(key *ecdsa.PrivateKey) (*Signer, error) {
	if key == nil {
		return nil, errors.New("signer: nil key")
	}
	return &Signer{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// Address 返回签名身份的公开地址
func (s *Signer) Address() common.Address {
	return s.address
}

// String never prints key material
func (s *Signer) String() string {
	return "signer(" + s.address.Hex() + ")"
}

// Build 组装 DynamicFeeTx; 缺省的数值字段按 0 处理
func Build(req TxRequest, nonce uint64, chainID *big.Int) *types.Transaction {
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   new(big.Int).Set(chainID),
		Nonce:     nonce,
		GasTipCap: orZero(req.MaxPriorityFeePerGas),
		GasFeeCap: orZero(req.MaxFeePerGas),
		Gas:       req.Gas,
		To:        &req.To,
		Value:     orZero(req.Value),
		Data:      common.CopyBytes(req.Data),
	})
}

// Sign produces a deterministic (RFC 6979) signature over the tx's signing hash
func (s *Signer) Sign(tx *types.Transaction) (*SignedTx, error) {
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(tx.ChainId()), s.key)
	if err != nil {
		return nil, fmt.Errorf("sign tx: %w", err)
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode tx: %w", err)
	}
	return &SignedTx{Raw: raw, Hash: signed.Hash(), Tx: signed}, nil
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
