package fetch

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/encoding/htmlindex"

	"substarter/backend/service/shared"
)

// maxDecodedSize 解压后的体积上限
const maxDecodedSize = 4 * shared.MaxDownloadSize

// Decompress 按 Content-Encoding 解压响应体。
// 头部缺失时嗅探 gzip 魔数；未知编码原样返回。
func Decompress(data []byte, contentEncoding string) ([]byte, error) {
	encodings := splitEncodings(contentEncoding)
	if len(encodings) == 0 && isGzip(data) {
		encodings = []string{"gzip"}
	}

	// 多重编码按应用顺序的逆序解开
	for i := len(encodings) - 1; i >= 0; i-- {
		out, err := decompressOne(data, encodings[i])
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", encodings[i], err)
		}
		data = out
	}
	return data, nil
}

func decompressOne(data []byte, encoding string) ([]byte, error) {
	switch encoding {
	case "gzip", "x-gzip":
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return readLimited(r)
	case "deflate":
		// deflate 在实践中既有 zlib 封装也有裸流
		if r, err := zlib.NewReader(bytes.NewReader(data)); err == nil {
			defer r.Close()
			if out, err := readLimited(r); err == nil {
				return out, nil
			}
		}
		r := flate.NewReader(bytes.NewReader(data))
		defer r.Close()
		return readLimited(r)
	case "br":
		return readLimited(brotli.NewReader(bytes.NewReader(data)))
	case "zstd":
		r, err := zstd.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return readLimited(r)
	default:
		return data, nil
	}
}

func readLimited(r io.Reader) ([]byte, error) {
	out, err := io.ReadAll(io.LimitReader(r, maxDecodedSize+1))
	if err != nil {
		return nil, err
	}
	if len(out) > maxDecodedSize {
		return nil, ErrTooLarge
	}
	return out, nil
}

func splitEncodings(header string) []string {
	var out []string
	for _, part := range strings.Split(header, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" && part != "identity" {
			out = append(out, part)
		}
	}
	return out
}

func isGzip(data []byte) bool {
	return len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b
}

// DecodeText 按 Content-Type 声明的字符集解码，默认 UTF-8，并去掉 BOM
func DecodeText(data []byte, contentType string) string {
	text := ""
	if charset := charsetOf(contentType); charset != "" && charset != "utf-8" && charset != "utf8" {
		enc, err := htmlindex.Get(charset)
		if err == nil {
			if out, err := enc.NewDecoder().Bytes(data); err == nil {
				text = string(out)
			}
		} else {
			logrus.Debugf("[Fetch] 未知字符集 %q，按 UTF-8 处理", charset)
		}
	}
	if text == "" {
		text = strings.ToValidUTF8(string(data), "\uFFFD")
	}
	return strings.TrimPrefix(text, "\ufeff")
}

func charsetOf(contentType string) string {
	if strings.TrimSpace(contentType) == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(params["charset"]))
}
