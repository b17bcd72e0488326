// Package policy holds the stateless checks every outbound transaction must pass.
package policy

import (
	"math/big"

	"relay-core/pkg/errno"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Config is loaded once at startup and never mutated
type Config struct {
	// Whitelist 为空表示不限制目标地址
	Whitelist []common.Address
	// MaxBaseFee 为 nil 或 0 表示不设上限 (wei)
	MaxBaseFee *big.Int
}

// CheckWhitelist passes when the whitelist is empty or contains to.
// common.Address is a byte array, so comparison ignores hex casing.
func CheckWhitelist(to common.Address, whitelist []common.Address) error {
	if len(whitelist) == 0 {
		return nil
	}
	for _, a := range whitelist {
		if a == to {
			return nil
		}
	}
	return errno.ErrAddressNotWhitelisted
}

// CheckFeeCap passes when maxBaseFee is unset or maxFeePerGas <= maxBaseFee
func CheckFeeCap(maxFeePerGas, maxBaseFee *big.Int) error {
	if maxBaseFee == nil || maxBaseFee.Sign() == 0 {
		return nil
	}
	if maxFeePerGas == nil {
		return nil
	}
	if maxFeePerGas.Cmp(maxBaseFee) > 0 {
		return errno.ErrMaxFeePerGasTooHigh
	}
	return nil
}

// Engine applies the checks in order on every call
type Engine struct {
	cfg Config
	log *zap.Logger
}

func NewEngine(cfg Config, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	// 拷贝一份, 防止调用方后续修改切片
	wl := make([]common.Address, len(cfg.Whitelist))
	copy(wl, cfg.Whitelist)
	cfg.Whitelist = wl
	if cfg.MaxBaseFee != nil {
		cfg.MaxBaseFee = new(big.Int).Set(cfg.MaxBaseFee)
	}
	return &Engine{cfg: cfg, log: log}
}

// Evaluate 先校验白名单, 再校验费用上限; 返回第一个失败
func (e *Engine) Evaluate(to common.Address, maxFeePerGas *big.Int) error {
	if err := CheckWhitelist(to, e.cfg.Whitelist); err != nil {
		e.log.Warn("policy rejected destination", zap.String("to", to.Hex()))
		return err
	}
	if err := CheckFeeCap(maxFeePerGas, e.cfg.MaxBaseFee); err != nil {
		e.log.Warn("policy rejected fee",
			zap.String("max_fee_per_gas_gwei", Gwei(maxFeePerGas)),
			zap.String("ceiling_gwei", Gwei(e.cfg.MaxBaseFee)),
		)
		return err
	}
	return nil
}

// Gwei formats a wei amount in gwei for logs
func Gwei(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, 0).Div(decimal.NewFromInt(params.GWei)).String()
}
