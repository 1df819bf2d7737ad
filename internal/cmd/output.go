package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"byedpi-core/internal/core/events"
	"byedpi-core/internal/health"
	"byedpi-core/internal/service"
)

// Output 终端输出，非 TTY 或 --no-color 时不着色
type Output struct {
	w       io.Writer
	success *color.Color
	failure *color.Color
	warning *color.Color
	info    *color.Color
	bold    *color.Color
	faint   *color.Color
}

// NewOutput 创建输出工具
func NewOutput(w io.Writer, noColor bool) *Output {
	if !noColor {
		noColor = !isTerminal(w)
	}
	o := &Output{
		w:       w,
		success: color.New(color.FgGreen),
		failure: color.New(color.FgRed),
		warning: color.New(color.FgYellow),
		info:    color.New(color.FgCyan),
		bold:    color.New(color.Bold),
		faint:   color.New(color.Faint),
	}
	if noColor {
		for _, c := range []*color.Color{o.success, o.failure, o.warning, o.info, o.bold, o.faint} {
			c.DisableColor()
		}
	}
	return o
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (o *Output) Success(format string, args ...interface{}) {
	fmt.Fprintf(o.w, "%s %s\n", o.success.Sprint("✓"), fmt.Sprintf(format, args...))
}

func (o *Output) Error(format string, args ...interface{}) {
	fmt.Fprintf(o.w, "%s %s\n", o.failure.Sprint("✗"), fmt.Sprintf(format, args...))
}

func (o *Output) Warning(format string, args ...interface{}) {
	fmt.Fprintf(o.w, "%s %s\n", o.warning.Sprint("!"), fmt.Sprintf(format, args...))
}

func (o *Output) Info(format string, args ...interface{}) {
	fmt.Fprintf(o.w, "%s %s\n", o.info.Sprint("i"), fmt.Sprintf(format, args...))
}

// Plain 输出普通消息
func (o *Output) Plain(format string, args ...interface{}) {
	fmt.Fprintf(o.w, format+"\n", args...)
}

// Header 输出标题
func (o *Output) Header(title string) {
	fmt.Fprintln(o.w)
	fmt.Fprintln(o.w, o.bold.Sprint(title))
	fmt.Fprintln(o.w, strings.Repeat("━", len(title)))
}

// KeyValue 输出对齐的键值对
func (o *Output) KeyValue(key string, value interface{}) {
	fmt.Fprintf(o.w, "  %-14s %v\n", key+":", value)
}

func (o *Output) statusText(status string) string {
	switch status {
	case string(service.StatusConnected):
		return o.success.Sprint(status)
	case string(service.StatusFailed):
		return o.failure.Sprint(status)
	default:
		return o.faint.Sprint(status)
	}
}

func (o *Output) healthText(status string) string {
	switch status {
	case string(health.ComponentStatusHealthy):
		return o.success.Sprint(status)
	case string(health.ComponentStatusUnhealthy):
		return o.failure.Sprint(status)
	default:
		return o.warning.Sprint(status)
	}
}

// Snapshot 输出服务状态快照
func (o *Output) Snapshot(snap service.Snapshot) {
	o.Header("ByeDPI Status")
	o.KeyValue("Status", o.statusText(string(snap.Status)))
	if string(snap.Phase) != string(snap.Status) {
		o.KeyValue("Phase", snap.Phase)
	}
	if snap.Mode != "" {
		o.KeyValue("Mode", snap.Mode)
	}
	if snap.ProxyAddress != "" {
		o.KeyValue("Proxy", snap.ProxyAddress)
	}
	if snap.SessionID != "" {
		o.KeyValue("Session", snap.SessionID)
	}
	if !snap.Since.IsZero() {
		o.KeyValue("Since", snap.Since.Format(time.RFC3339))
	}
	if snap.LastError != "" {
		o.KeyValue("Last error", o.failure.Sprint(snap.LastError))
	}
}

// Event 输出一条状态事件
func (o *Output) Event(e *events.StatusEvent) {
	line := fmt.Sprintf("%s  %-12s (%s)", e.Timestamp().Format("15:04:05"), o.statusText(e.Status), e.Source())
	if e.Error != "" {
		line += "  " + o.failure.Sprint(e.Error)
	}
	fmt.Fprintln(o.w, line)
}
