package shared

import (
	"os"
	"path/filepath"
	"strings"
)

// EnvDataRoot 覆盖数据目录
const EnvDataRoot = "SUBSTARTER_DATA_ROOT"

const appDirName = "substarter"

// DataRoot 返回数据根目录。
//
// 默认位置：
// - Linux: ~/.config/substarter
// - macOS: ~/Library/Application Support/substarter
// - Windows: %APPDATA%\substarter
func DataRoot() string {
	if configured := strings.TrimSpace(os.Getenv(EnvDataRoot)); configured != "" {
		return absPath(configured)
	}

	base, err := os.UserConfigDir()
	if err == nil && strings.TrimSpace(base) != "" {
		return absPath(filepath.Join(base, appDirName))
	}

	home, err := os.UserHomeDir()
	if err == nil && strings.TrimSpace(home) != "" {
		return absPath(filepath.Join(home, "."+appDirName))
	}

	cwd, _ := os.Getwd()
	return absPath(filepath.Join(cwd, "data"))
}

// StatePath 状态文件位置
func StatePath(root string) string { return filepath.Join(root, "state.json") }

// CachePath 订阅缓存数据库位置
func CachePath(root string) string { return filepath.Join(root, "cache", "subscriptions.db") }

// AppLogPath 应用日志位置
func AppLogPath(root string) string { return filepath.Join(root, "runtime", "app.log") }

func absPath(path string) string {
	if strings.TrimSpace(path) == "" {
		return ""
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
