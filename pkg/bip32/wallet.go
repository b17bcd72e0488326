// Package bip32 derives secp256k1 signing keys from a BIP-39 seed.
package bip32

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/crypto"
)

// DefaultEthereumPath 是 BIP-44 以太坊第一个外部账户
const DefaultEthereumPath = "m/44'/60'/0'/0/0"

var (
	ErrInvalidSeed = errors.New("invalid seed")
	ErrInvalidPath = errors.New("invalid derivation path")
)

// ParsePath 解析 m/44'/60'/0'/0/0 或 m/44h/60h/0h/0/0 形式的路径
func ParsePath(path string) ([]uint32, error) {
	path = strings.TrimSpace(path)
	if path == "" || path == "m" {
		return nil, nil
	}
	if !strings.HasPrefix(path, "m/") {
		return nil, fmt.Errorf("%w: %q must start with m/", ErrInvalidPath, path)
	}

	segments := strings.Split(path[2:], "/")
	indexes := make([]uint32, 0, len(segments))
	for _, segment := range segments {
		hardened := false
		if strings.HasSuffix(segment, "'") || strings.HasSuffix(segment, "h") {
			hardened = true
			segment = segment[:len(segment)-1]
		}

		val, err := strconv.ParseUint(segment, 10, 32)
		if err != nil || val >= hdkeychain.HardenedKeyStart {
			return nil, fmt.Errorf("%w: segment %q", ErrInvalidPath, segment)
		}
		index := uint32(val)
		if hardened {
			index += hdkeychain.HardenedKeyStart
		}
		indexes = append(indexes, index)
	}
	return indexes, nil
}

// DeriveKey 从种子按路径派生私钥
func DeriveKey(seed []byte, path string) (*ecdsa.PrivateKey, error) {
	if len(seed) < hdkeychain.MinSeedBytes || len(seed) > hdkeychain.MaxSeedBytes {
		return nil, ErrInvalidSeed
	}
	indexes, err := ParsePath(path)
	if err != nil {
		return nil, err
	}

	key, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("master key: %w", err)
	}
	for _, index := range indexes {
		key, err = key.Derive(index)
		if err != nil {
			return nil, fmt.Errorf("derive %d: %w", index, err)
		}
	}

	priv, err := key.ECPrivKey()
	if err != nil {
		return nil, err
	}
	// 转为 go-ethereum 曲线上的私钥
	return crypto.ToECDSA(priv.Serialize())
}
