package service

import (
	"sync"
	"time"
)

// Status 对外可见的服务状态
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnected    Status = "connected"
	StatusFailed       Status = "failed"
)

// Phase 内部阶段，Connecting 和 Stopping 只在转换过程中出现
type Phase string

const (
	PhaseDisconnected Phase = "disconnected"
	PhaseConnecting   Phase = "connecting"
	PhaseConnected    Phase = "connected"
	PhaseFailed       Phase = "failed"
	PhaseStopping     Phase = "stopping"
)

// Snapshot 某一时刻的完整状态
type Snapshot struct {
	Status       Status    `json:"status"`
	Phase        Phase     `json:"phase"`
	Mode         string    `json:"mode,omitempty"`
	SessionID    string    `json:"session_id,omitempty"`
	ProxyAddress string    `json:"proxy_address,omitempty"`
	Since        time.Time `json:"since"`
	LastError    string    `json:"last_error,omitempty"`
	// Skipped 建立网卡时被跳过的条目
	Skipped      []string  `json:"skipped,omitempty"`
}

// StatusHolder 状态的唯一持有者
// 写入只发生在协调器锁内，读取不需要协调器锁
type StatusHolder struct {
	mu   sync.RWMutex
	snap Snapshot
}

func newStatusHolder() *StatusHolder {
	return &StatusHolder{snap: Snapshot{
		Status: StatusDisconnected,
		Phase:  PhaseDisconnected,
		Since:  time.Now(),
	}}
}

// Status 最近一次完成的转换结果
func (h *StatusHolder) Status() Status {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.snap.Status
}

// Snapshot 返回副本
func (h *StatusHolder) Snapshot() Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.snap
}

func (h *StatusHolder) setPhase(p Phase) {
	h.mu.Lock()
	h.snap.Phase = p
	h.mu.Unlock()
}

// begin 进入 Connecting，对外状态保持不变
func (h *StatusHolder) begin(sessionID, mode, proxyAddr string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.snap.Phase = PhaseConnecting
	h.snap.SessionID = sessionID
	h.snap.Mode = mode
	h.snap.ProxyAddress = proxyAddr
	h.snap.Skipped = nil
}

func (h *StatusHolder) setSkipped(skipped []string) {
	h.mu.Lock()
	h.snap.Skipped = skipped
	h.mu.Unlock()
}

// complete 完成一次转换
func (h *StatusHolder) complete(status Status, cause error) Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.snap.Status = status
	h.snap.Since = time.Now()
	switch status {
	case StatusConnected:
		h.snap.Phase = PhaseConnected
		h.snap.LastError = ""
	case StatusFailed:
		h.snap.Phase = PhaseFailed
		h.snap.SessionID = ""
		h.snap.ProxyAddress = ""
		h.snap.Skipped = nil
		if cause != nil {
			h.snap.LastError = cause.Error()
		}
	default:
		h.snap.Phase = PhaseDisconnected
		h.snap.SessionID = ""
		h.snap.ProxyAddress = ""
		h.snap.LastError = ""
		h.snap.Skipped = nil
	}
	return h.snap
}
