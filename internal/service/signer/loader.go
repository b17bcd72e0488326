package signer

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"relay-core/pkg/bip32"
	"relay-core/pkg/bip39"
	"relay-core/pkg/config"
	"relay-core/pkg/errno"
	"relay-core/pkg/keystore"

	"github.com/ethereum/go-ethereum/crypto"
)

// KeySource 标识私钥来源, 仅用于启动日志
type KeySource string

const (
	SourcePrivateKey KeySource = "private_key"
	SourceKeystore   KeySource = "keystore"
	SourceMnemonic   KeySource = "mnemonic"
)

// LoadKey 按 private_key > keystore_path > mnemonic 的顺序加载签名私钥.
// 返回的错误不包含任何密钥材料.
func LoadKey(cfg config.SignerConfig) (*ecdsa.PrivateKey, KeySource, error) {
	switch {
	case cfg.PrivateKey != "":
		key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKey), "0x"))
		if err != nil {
			return nil, "", errno.ErrConfiguration.WithCause(fmt.Errorf("signer.private_key is not a valid secp256k1 key"))
		}
		return key, SourcePrivateKey, nil

	case cfg.KeystorePath != "":
		k, err := keystore.LoadFromFile(cfg.KeystorePath)
		if err != nil {
			return nil, "", errno.ErrConfiguration.WithCause(err)
		}
		raw, err := keystore.Decrypt(k, cfg.Password)
		if err != nil {
			return nil, "", errno.ErrConfiguration.WithCause(fmt.Errorf("keystore %s: %w", cfg.KeystorePath, err))
		}
		key, err := crypto.ToECDSA(raw)
		if err != nil {
			return nil, "", errno.ErrConfiguration.WithCause(fmt.Errorf("keystore %s holds an invalid key", cfg.KeystorePath))
		}
		return key, SourceKeystore, nil

	case cfg.Mnemonic != "":
		seed, err := bip39.Seed(cfg.Mnemonic, "")
		if err != nil {
			return nil, "", errno.ErrConfiguration.WithCause(err)
		}
		path := cfg.DerivationPath
		if path == "" {
			path = bip32.DefaultEthereumPath
		}
		key, err := bip32.DeriveKey(seed, path)
		if err != nil {
			return nil, "", errno.ErrConfiguration.WithCause(err)
		}
		return key, SourceMnemonic, nil
	}
	return nil, "", errno.ErrConfiguration.WithCause(fmt.Errorf("no signing key configured"))
}
