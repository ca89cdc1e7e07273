package proto

import "strconv"

// NATS Subject 常量定义
const (
	// SubjectJoin 客服端 -> 服务端 关注会话
	SubjectJoin = "desk.join"

	// SubjectSessionPrefix 服务端 -> 单个客服会话
	// 完整格式: desk.session.{session_id}.events
	SubjectSessionPrefix = "desk.session."
	SubjectSessionSuffix = ".events"

	// SubjectStorePrefix 服务端 -> 店铺下所有客服 广播
	// 完整格式: desk.store.{store_id}.broadcast
	SubjectStorePrefix = "desk.store."
	SubjectStoreSuffix = ".broadcast"
)

// BuildSessionSubject 构建客服会话推送 Subject
func BuildSessionSubject(sessionID string) string {
	return SubjectSessionPrefix + sessionID + SubjectSessionSuffix
}

// BuildStoreSubject 构建店铺广播 Subject
func BuildStoreSubject(storeID int64) string {
	return SubjectStorePrefix + strconv.FormatInt(storeID, 10) + SubjectStoreSuffix
}
