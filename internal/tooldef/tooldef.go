// Package tooldef 负责加载 Cortex Agent 工具定义，并展开其中的环境变量占位符。
package tooldef

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	xerrors "CortexMCP/internal/errors"
)

// Definition 描述一个 Cortex Agent 工具。
type Definition struct {
	// Name 同时用于 tool_resources 的键与 tool_spec.name。
	Name string `json:"name" yaml:"name"`
	// Type 例如 cortex_analyst_text_to_sql、cortex_search。
	Type      string         `json:"type" yaml:"type"`
	Resources map[string]any `json:"resources,omitempty" yaml:"resources,omitempty"`
}

// Loader 提供有序的工具定义列表。
type Loader interface {
	Load(ctx context.Context) ([]Definition, error)
}

// LookupFunc 与 os.LookupEnv 签名一致。
type LookupFunc func(key string) (string, bool)

// FileLoader 每次调用都重新读取文件，修改定义无需重启进程。
type FileLoader struct {
	path   string
	lookup LookupFunc
}

// NewFileLoader 创建从指定路径读取 JSON 或 YAML 定义的加载器。
func NewFileLoader(path string) *FileLoader {
	return &FileLoader{path: path, lookup: os.LookupEnv}
}

// WithLookup 替换环境变量查询函数，主要用于测试。
func (l *FileLoader) WithLookup(lookup LookupFunc) *FileLoader {
	if lookup != nil {
		l.lookup = lookup
	}
	return l
}

// Path 返回定义文件路径。
func (l *FileLoader) Path() string {
	return l.path
}

// Load 读取并解析定义文件。文件不存在属于配置错误。
func (l *FileLoader) Load(ctx context.Context) ([]Definition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(l.path) == "" {
		return nil, xerrors.New(xerrors.CodeConfiguration, "未配置工具定义文件路径")
	}

	raw, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, xerrors.Wrap(xerrors.CodeConfiguration, err,
				fmt.Sprintf("工具定义文件 %s 不存在", l.path))
		}
		return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, "读取工具定义文件失败")
	}

	var tree any
	switch strings.ToLower(filepath.Ext(l.path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(raw, &tree)
	default:
		err = json.Unmarshal(raw, &tree)
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, "解析工具定义文件失败")
	}

	return decodeDefinitions(Substitute(tree, l.lookup))
}

// decodeDefinitions 经 JSON 往返把通用结构映射为 Definition 列表。
func decodeDefinitions(tree any) ([]Definition, error) {
	encoded, err := json.Marshal(tree)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, "工具定义格式错误")
	}
	var defs []Definition
	if err := json.Unmarshal(encoded, &defs); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, "工具定义必须是数组")
	}
	if defs == nil {
		defs = []Definition{}
	}
	return defs, nil
}

var placeholder = regexp.MustCompile(`^\$\{(.+)\}$`)

// Substitute 递归替换形如 ${NAME} 的字符串值；未设置的变量替换为空字符串，
// 不完全匹配该形式的字符串保持原样。
func Substitute(value any, lookup LookupFunc) any {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	switch v := value.(type) {
	case string:
		match := placeholder.FindStringSubmatch(v)
		if match == nil {
			return v
		}
		env, _ := lookup(match[1])
		return env
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = Substitute(item, lookup)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = Substitute(item, lookup)
		}
		return out
	default:
		return v
	}
}
