package model

import "time"

// NonceRecord 保存 (签名地址, 链) 的下一个可用 nonce
type NonceRecord struct {
	Key       string    `gorm:"column:nonce_key;type:varchar(128);primaryKey" json:"key"` // nonce:<address>:<chainId>
	Next      uint64    `gorm:"column:next_nonce;not null" json:"next"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (NonceRecord) TableName() string {
	return "nonces"
}
