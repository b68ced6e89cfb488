package sse

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const readBufferSize = 32 * 1024

type consumeOptions struct {
	charset  string
	observer func(LineKind)
}

// ConsumeOption 定义 Consume 的可选配置。
type ConsumeOption func(*consumeOptions)

// WithCharset 指定响应体的字符集，默认 UTF-8。无法识别的名称同样回退到 UTF-8。
func WithCharset(name string) ConsumeOption {
	return func(o *consumeOptions) {
		o.charset = name
	}
}

// WithLineObserver 在每一行解析完成后回调，用于日志与指标统计。
func WithLineObserver(fn func(LineKind)) ConsumeOption {
	return func(o *consumeOptions) {
		o.observer = fn
	}
}

// CharsetFromContentType 从 Content-Type 头中提取 charset 参数。
func CharsetFromContentType(contentType string) string {
	if contentType == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return params["charset"]
}

// Consume 增量读取 SSE 字节流直到 EOF，返回折叠后的结果。
// 跨读取边界的不完整行会被缓存，直到遇到换行符或流结束；
// 单行格式错误不会中断处理，只有读取失败才返回错误。
func Consume(ctx context.Context, body io.Reader, opts ...ConsumeOption) (Result, error) {
	options := consumeOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	// transform.Reader 内部保留未完成的多字节序列，保证跨块字符正确解码。
	decoded := transform.NewReader(body, resolveEncoding(options.charset).NewDecoder())
	reader := bufio.NewReaderSize(decoded, readBufferSize)

	var acc Accumulator
	for {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		line, err := reader.ReadString('\n')
		if len(line) > 0 {
			consumeLine(&acc, strings.TrimRight(line, "\r\n"), options.observer)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return acc.Result(), nil
			}
			return Result{}, fmt.Errorf("读取 SSE 流失败: %w", err)
		}
	}
}

func consumeLine(acc *Accumulator, line string, observer func(LineKind)) {
	items, kind := DecodeLine(line)
	if kind == LineDelta {
		acc.Apply(items)
	}
	if observer != nil {
		observer(kind)
	}
}

func resolveEncoding(name string) encoding.Encoding {
	name = strings.TrimSpace(name)
	if name == "" {
		return unicode.UTF8
	}
	enc, err := htmlindex.Get(name)
	if err != nil || enc == nil {
		return unicode.UTF8
	}
	return enc
}
