package session

// Level 提示级别
type Level int

const (
	LevelInfo Level = iota
	LevelWarn
	LevelError
)

// Notice 用户可见的提示（瞬时错误、发送失败等）
type Notice struct {
	Level Level
	Text  string
	Err   error
}

// notice 投递提示，缓冲区满时丢弃
func (s *Session) notice(level Level, text string, err error) {
	select {
	case s.notices <- Notice{Level: level, Text: text, Err: err}:
	default:
		s.logger.Debug("notice dropped", "text", text)
	}
}
