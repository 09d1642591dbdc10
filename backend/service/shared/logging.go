package shared

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// LogRetention 轮转后的旧日志保留时长
const LogRetention = 7 * 24 * time.Hour

// SetupLogging 配置 logrus：输出同时写入 stderr 与 logPath（启动前先轮转旧文件）。
// logPath 为空时只写 stderr。
func SetupLogging(dev bool, logPath string) (closeFn func(), err error) {
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})
	if dev {
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.InfoLevel)
	}
	logrus.SetOutput(os.Stderr)

	logPath = strings.TrimSpace(logPath)
	if logPath == "" {
		return func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return func() {}, fmt.Errorf("create log dir: %w", err)
	}
	if err := RotateLogFile(logPath, LogRetention); err != nil {
		logrus.Warnf("[AppLog] rotate %s failed: %v", logPath, err)
	}

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return func() {}, fmt.Errorf("open log file %s: %w", logPath, err)
	}
	_, _ = fmt.Fprintf(f, "----- app start %s pid=%d -----\n", time.Now().Format(time.RFC3339Nano), os.Getpid())
	logrus.SetOutput(io.MultiWriter(os.Stderr, f))
	logrus.Infof("[AppLog] writing to %s", logPath)
	return func() { _ = f.Close() }, nil
}

// RotateLogFile 将非空的日志文件改名为带时间戳的文件，并清理超过 retain 的旧文件。
//
//	/path/app.log -> /path/app-20260116-235959.log
func RotateLogFile(path string, retain time.Duration) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}

	dir := filepath.Dir(path)
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(filepath.Base(path), ext)
	if stem == "" {
		return nil
	}

	if st, err := os.Stat(path); err == nil && st.Size() > 0 {
		if err := os.Rename(path, nextRotatedName(dir, stem, ext, time.Now())); err != nil {
			return err
		}
	}

	if retain <= 0 {
		return nil
	}
	return pruneRotated(dir, stem+"-", ext, time.Now().Add(-retain))
}

func nextRotatedName(dir, stem, ext string, now time.Time) string {
	ts := now.Format("20060102-150405")
	candidate := filepath.Join(dir, fmt.Sprintf("%s-%s%s", stem, ts, ext))
	for i := 1; ; i++ {
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
		candidate = filepath.Join(dir, fmt.Sprintf("%s-%s-%d%s", stem, ts, i, ext))
	}
}

func pruneRotated(dir, prefix, ext string, cutoff time.Time) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || (ext != "" && !strings.HasSuffix(name, ext)) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.Remove(filepath.Join(dir, name))
		}
	}
	return nil
}
