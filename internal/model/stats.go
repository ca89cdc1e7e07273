package model

// Stats 会话消息统计
type Stats struct {
	Total     int `json:"total"`
	Visitor   int `json:"visitor"`
	Automated int `json:"automated"`
	Human     int `json:"human"`
}

// CountMessages 按发送方类型统计消息
func CountMessages(msgs []Message) Stats {
	var s Stats
	for i := range msgs {
		if msgs[i].Provisional {
			continue
		}
		s.Total++
		switch msgs[i].SenderType {
		case SenderVisitor:
			s.Visitor++
		case SenderAutomated:
			s.Automated++
		case SenderHuman:
			s.Human++
		}
	}
	return s
}
