package model

import "time"

// Usage 剩余用量计数
type Usage struct {
	Total       int64     `json:"total"`
	Used        int64     `json:"used"`
	Remaining   int64     `json:"remaining"`
	IsUnlimited bool      `json:"isUnlimited"`
	ResetAt     time.Time `json:"resetAt"`
}

// Exhausted 额度是否已用完
func (u Usage) Exhausted() bool {
	return !u.IsUnlimited && u.Remaining <= 0
}
