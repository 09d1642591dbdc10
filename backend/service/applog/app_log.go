package applog

import (
	"errors"
	"io"
	"os"
	"strings"
	"time"
)

// MaxChunkBytes 单次返回的最大字节数
const MaxChunkBytes int64 = 512 * 1024

// Chunk 应用日志的一段增量内容。
// 客户端以上次的 To 作为 since 轮询；文件被轮转或截断时 Reset 为 true 并从头读起。
type Chunk struct {
	Path      string `json:"path,omitempty"`
	StartedAt string `json:"startedAt,omitempty"`

	From  int64  `json:"from"`
	To    int64  `json:"to"`
	Size  int64  `json:"size"`
	Reset bool   `json:"reset"`
	Text  string `json:"text"`

	Error string `json:"error,omitempty"`
}

// Since 读取 path 自偏移 since 起的日志
func Since(path string, since int64, startedAt time.Time) Chunk {
	chunk := Chunk{Path: path}
	if !startedAt.IsZero() {
		chunk.StartedAt = startedAt.Format(time.RFC3339)
	}
	if strings.TrimSpace(path) == "" {
		return chunk
	}
	if err := chunk.read(path, since, MaxChunkBytes); err != nil {
		chunk.Error = err.Error()
	}
	return chunk
}

func (c *Chunk) read(path string, since, limit int64) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return err
	}
	c.Size = st.Size()

	if since < 0 {
		since = 0
	}
	if since > c.Size {
		since = 0
		c.Reset = true
	}
	c.From, c.To = since, since
	if since == c.Size {
		return nil
	}

	if _, err := f.Seek(since, io.SeekStart); err != nil {
		return err
	}
	data, err := io.ReadAll(io.LimitReader(f, min(c.Size-since, limit)))
	if err != nil {
		return err
	}
	c.To = since + int64(len(data))
	c.Text = strings.ToValidUTF8(string(data), "\uFFFD")
	return nil
}
