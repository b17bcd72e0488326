package event

import "time"

// TopicTxSubmitted 默认主题, 可通过 events.topic 覆盖
const TopicTxSubmitted = "relay_events_tx_submitted"

// TxSubmittedEvent 交易广播成功事件
// Key: chain_id, 保证同一条链上的事件有序
type TxSubmittedEvent struct {
	ChainID     uint64    `json:"chain_id"`
	TxHash      string    `json:"tx_hash"`
	Nonce       uint64    `json:"nonce"`
	NonceSource string    `json:"nonce_source"` // store / chain
	From        string    `json:"from"`
	To          string    `json:"to"`
	APIKey      string    `json:"api_key"`
	SubmittedAt time.Time `json:"submitted_at"`
}
