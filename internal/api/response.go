package api

import (
	"encoding/json"
	"net/http"
	"time"

	coreerrors "byedpi-core/internal/core/errors"
	"byedpi-core/internal/health"
	"byedpi-core/internal/service"
)

// ResponseData 统一响应结构
type ResponseData struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status     string                             `json:"status"`
	Timestamp  time.Time                          `json:"timestamp"`
	Service    service.Snapshot                   `json:"service"`
	Components map[string]ComponentStatusResponse `json:"components"`
}

// ComponentStatusResponse 组件状态响应
type ComponentStatusResponse struct {
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	LastCheck time.Time `json:"last_check"`
}

// EventMessage websocket 推送的消息
type EventMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// 消息类型
const (
	MessageSnapshot = "snapshot"
	MessageStatus   = "status"
)

func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(ResponseData{Success: true, Data: data})
}

func respondError(w http.ResponseWriter, statusCode int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	resp := ResponseData{Success: false, Error: err.Error()}
	if code := coreerrors.GetCode(err); code != "" {
		resp.Code = string(code)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// errorStatus 将协调器错误映射为 HTTP 状态码
func errorStatus(err error) int {
	switch {
	case coreerrors.IsCode(err, coreerrors.CodeServiceClosed):
		return http.StatusServiceUnavailable
	case coreerrors.IsRejected(err):
		return http.StatusConflict
	case coreerrors.IsCode(err, coreerrors.CodeConfigError),
		coreerrors.IsCode(err, coreerrors.CodeInvalidParam):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func healthStatus(status health.ComponentStatus) int {
	switch status {
	case health.ComponentStatusHealthy, health.ComponentStatusDegraded:
		return http.StatusOK
	case health.ComponentStatusUnhealthy:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
