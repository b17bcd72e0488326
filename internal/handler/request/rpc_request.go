package request

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math/big"

	"relay-core/internal/service/signer"
	"relay-core/pkg/errno"
	"relay-core/pkg/validator"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
)

// maxBodyBytes 限制请求体大小, calldata 较大时仍有足够余量
const maxBodyBytes = 1 << 20

// RPCRequest JSON-RPC 2.0 请求信封
type RPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.Number     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type rawEnvelope struct {
	JSONRPC *string         `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  *string         `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// ParseEnvelope 校验信封结构: jsonrpc 必须为 "2.0", id 必须是数字, method 必须是字符串.
// 任一不满足都返回 ErrParse.
func ParseEnvelope(r io.Reader) (*RPCRequest, error) {
	body, err := io.ReadAll(io.LimitReader(r, maxBodyBytes+1))
	if err != nil {
		return nil, errno.ErrParse.WithCause(err)
	}
	if len(body) > maxBodyBytes {
		return nil, errno.ErrParse.WithCause(fmt.Errorf("body exceeds %d bytes", maxBodyBytes))
	}

	var env rawEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, errno.ErrParse.WithCause(err)
	}
	if env.JSONRPC == nil || *env.JSONRPC != "2.0" {
		return nil, errno.ErrParse.WithCause(fmt.Errorf("jsonrpc must be \"2.0\""))
	}
	if env.Method == nil {
		return nil, errno.ErrParse.WithCause(fmt.Errorf("method must be a string"))
	}
	id, err := parseID(env.ID)
	if err != nil {
		return nil, errno.ErrParse.WithCause(err)
	}

	return &RPCRequest{JSONRPC: *env.JSONRPC, ID: id, Method: *env.Method, Params: env.Params}, nil
}

// parseID 只接受 JSON 数字字面量 (字符串形式的 "1" 不接受)
func parseID(raw json.RawMessage) (json.Number, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return "", fmt.Errorf("id must be a number")
	}
	n, ok := v.(json.Number)
	if !ok {
		return "", fmt.Errorf("id must be a number")
	}
	return n, nil
}

// SendTransactionParams eth_sendTransaction 的单个交易参数
type SendTransactionParams struct {
	To                   string `json:"to" validate:"required,eth_addr"`
	Data                 string `json:"data" validate:"required,hexbytes"`
	Value                string `json:"value" validate:"required,uint256"`
	Gas                  string `json:"gas" validate:"required,uint64"`
	MaxPriorityFeePerGas string `json:"maxPriorityFeePerGas" validate:"required,uint256"`
	MaxFeePerGas         string `json:"maxFeePerGas" validate:"required,uint256"`
}

// ParseSendTransaction 解析 params 数组的第一个元素并转为 signer.TxRequest
func ParseSendTransaction(params json.RawMessage) (signer.TxRequest, error) {
	var list []SendTransactionParams
	if err := json.Unmarshal(params, &list); err != nil || len(list) == 0 {
		if err == nil {
			err = fmt.Errorf("params must contain one transaction")
		}
		return signer.TxRequest{}, errno.ErrInvalidParams.WithCause(err)
	}
	p := list[0]
	if err := validator.Struct(&p); err != nil {
		return signer.TxRequest{}, errno.ErrInvalidParams.WithCause(fmt.Errorf("%s", validator.GetErrorMsg(err)))
	}
	return p.toTxRequest()
}

func (p *SendTransactionParams) toTxRequest() (signer.TxRequest, error) {
	data, err := hexutil.Decode(p.Data)
	if err != nil {
		return signer.TxRequest{}, errno.ErrInvalidParams.WithCause(err)
	}
	gas, _ := math.ParseUint64(p.Gas)
	return signer.TxRequest{
		To:                   common.HexToAddress(p.To),
		Data:                 data,
		Value:                mustBig(p.Value),
		Gas:                  gas,
		MaxPriorityFeePerGas: mustBig(p.MaxPriorityFeePerGas),
		MaxFeePerGas:         mustBig(p.MaxFeePerGas),
	}, nil
}

// mustBig 仅在 uint256 校验通过后调用
func mustBig(s string) *big.Int {
	n, _ := math.ParseBig256(s)
	return n
}
