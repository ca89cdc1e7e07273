package idgen

import (
	"strconv"
	"sync"
	"time"
)

// ID 本地临时消息 ID
type ID int64

// String 转换为字符串
func (id ID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// Int64 转换为 int64
func (id ID) Int64() int64 {
	return int64(id)
}

// Generator 临时 ID 生成器
//
// 生成的 ID 取自纳秒时间戳，严格单调递增。它只用于在服务端确认前标识本地
// 消息，存储中总是带着 Provisional 标记，从不被当作真实 ID。
type Generator struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

// NewGenerator 创建临时 ID 生成器
func NewGenerator() *Generator {
	return &Generator{now: time.Now}
}

// Generate 生成临时 ID
func (g *Generator) Generate() ID {
	g.mu.Lock()
	defer g.mu.Unlock()

	ts := g.now().UnixNano()
	if ts <= g.last {
		// 时钟回拨或同一纳秒内多次调用，顺延一位保证单调
		ts = g.last + 1
	}
	g.last = ts

	return ID(ts)
}

// ClientMsgID 生成随请求发送给服务端的关联令牌
func ClientMsgID(id ID) string {
	return "c" + id.String()
}
