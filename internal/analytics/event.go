// Package analytics 异步批量上报议价事件。上报失败只影响分析数据，不影响议价流程。
package analytics

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Event 是一次状态变更或审计事件
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	SessionID string                 `json:"sessionId,omitempty"`
	UserID    string                 `json:"userId,omitempty"`
	Round     int                    `json:"round,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	At        time.Time              `json:"at"`
}

// NewEvent 生成按时间有序的事件ID
func NewEvent(typ, sessionID string, payload map[string]interface{}) Event {
	return Event{
		ID:        ulid.Make().String(),
		Type:      typ,
		SessionID: sessionID,
		Payload:   payload,
		At:        time.Now().UTC(),
	}
}

// Recorder 是业务代码依赖的最小接口，Emit 不允许阻塞
type Recorder interface {
	Emit(Event)
}

// Discard 丢弃所有事件
var Discard Recorder = discard{}

type discard struct{}

func (discard) Emit(Event) {}
