// Package version 保存构建时注入的版本信息
package version

import (
	"os"
	"runtime"
	"strings"
)

var (
	// Version 版本号，构建时通过 -ldflags 注入，未注入时尝试读取 VERSION 文件
	Version = "dev"

	// BuildTime 构建时间
	BuildTime = ""

	// GitCommit Git 提交哈希
	GitCommit = ""
)

func init() {
	if Version == "dev" {
		Version = readVersionFile("VERSION", "../VERSION")
	}
}

func readVersionFile(paths ...string) string {
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		if v := strings.TrimPrefix(strings.TrimSpace(string(data)), "v"); v != "" {
			return v
		}
	}
	return "dev"
}

// Info 版本详情
type Info struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time,omitempty"`
	GitCommit string `json:"git_commit,omitempty"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// Get 返回当前版本详情
func Get() Info {
	return Info{
		Version:   GetShortVersion(),
		BuildTime: BuildTime,
		GitCommit: GitCommit,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// GetVersion 获取完整版本信息
func GetVersion() string {
	v := GetShortVersion()
	if BuildTime != "" {
		v += " (built " + BuildTime + ")"
	}
	if GitCommit != "" {
		commit := GitCommit
		if len(commit) > 8 {
			commit = commit[:8]
		}
		v += " commit " + commit
	}
	return v
}

// GetShortVersion 获取简短版本号
func GetShortVersion() string {
	return "v" + Version
}
