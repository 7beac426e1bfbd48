// 可热更新字段注册表与按路径读写字段的反射辅助。
package config

import (
	"fmt"
	"reflect"
	"strings"
)

// HotReloadableField 描述一个运行期可调整的配置字段。
type HotReloadableField struct {
	// Path 点分字段路径，如 "Log.Level"
	Path string
	// Description 字段用途
	Description string
	// RequiresRestart 为真时修改会落地但需重启才生效
	RequiresRestart bool
	// Sensitive 为真时变更日志中的值会被脱敏
	Sensitive bool
}

// reloadableFields 运行期可调整的字段。连接级参数（地址、凭证、
// 采样率）改动后已建立的连接不受影响，标记为需重启。
var reloadableFields = []HotReloadableField{
	{Path: "Log.Level", Description: "Log level (debug, info, warn, error)"},
	{Path: "Log.Format", Description: "Log format (json, console)"},

	{Path: "DashScope.ChatModel", Description: "Default chat model"},
	{Path: "DashScope.Timeout", Description: "API request timeout"},
	{Path: "DashScope.MaxRetries", Description: "Maximum API request retries"},
	{Path: "DashScope.RateLimit", Description: "Client-side rate limit (requests/second)"},

	{Path: "Files.PollMaxAttempts", Description: "Maximum parse poll attempts"},
	{Path: "Files.PollInterval", Description: "Parse poll interval"},

	{Path: "DashScope.APIKey", Description: "DashScope API key", RequiresRestart: true, Sensitive: true},

	{Path: "Audio.WebSocketURL", Description: "Speech WebSocket endpoint", RequiresRestart: true},
	{Path: "Audio.SampleRate", Description: "ASR sample rate", RequiresRestart: true},

	{Path: "Redis.Addr", Description: "Redis address", RequiresRestart: true},
	{Path: "Redis.Password", Description: "Redis password", RequiresRestart: true, Sensitive: true},

	{Path: "OceanBase.Host", Description: "OceanBase host", RequiresRestart: true},
	{Path: "OceanBase.Port", Description: "OceanBase port", RequiresRestart: true},
	{Path: "OceanBase.Password", Description: "OceanBase password", RequiresRestart: true, Sensitive: true},

	{Path: "Tair.Addr", Description: "Tair address", RequiresRestart: true},
	{Path: "Tair.Password", Description: "Tair password", RequiresRestart: true, Sensitive: true},
}

var reloadableByPath = func() map[string]HotReloadableField {
	m := make(map[string]HotReloadableField, len(reloadableFields))
	for _, f := range reloadableFields {
		m[f.Path] = f
	}
	return m
}()

// GetHotReloadableFields 返回注册表的副本。
func GetHotReloadableFields() map[string]HotReloadableField {
	out := make(map[string]HotReloadableField, len(reloadableByPath))
	for k, v := range reloadableByPath {
		out[k] = v
	}
	return out
}

// IsHotReloadable 报告字段是否无需重启即可生效。
func IsHotReloadable(path string) bool {
	f, ok := reloadableByPath[path]
	return ok && !f.RequiresRestart
}

// splitPath 拆分点分路径。
func splitPath(path string) []string {
	return strings.FieldsFunc(path, func(c rune) bool { return c == '.' })
}

// fieldByPath 沿点分路径定位结构体字段。
func fieldByPath(root reflect.Value, path string) (reflect.Value, error) {
	v := root
	for _, part := range splitPath(path) {
		if v.Kind() == reflect.Ptr {
			v = v.Elem()
		}
		if v.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("config: %s is not a struct field", part)
		}
		v = v.FieldByName(part)
		if !v.IsValid() {
			return reflect.Value{}, fmt.Errorf("config: field not found: %s", part)
		}
	}
	return v, nil
}

// getFieldByPath 读取嵌套字段的当前值。
func getFieldByPath(cfg *Config, path string) (any, error) {
	v, err := fieldByPath(reflect.ValueOf(cfg), path)
	if err != nil {
		return nil, err
	}
	return v.Interface(), nil
}

// setFieldByPath 设置嵌套字段，必要时做类型转换。
func setFieldByPath(cfg *Config, path string, value any) error {
	v, err := fieldByPath(reflect.ValueOf(cfg), path)
	if err != nil {
		return err
	}
	if !v.CanSet() {
		return fmt.Errorf("config: cannot set field: %s", path)
	}

	newVal := reflect.ValueOf(value)
	if !newVal.Type().ConvertibleTo(v.Type()) {
		return fmt.Errorf("config: type mismatch for %s: expected %s, got %s", path, v.Type(), newVal.Type())
	}
	v.Set(newVal.Convert(v.Type()))
	return nil
}

// diffConfigs 递归比较两份配置，返回所有值不同的叶子字段。
func diffConfigs(oldCfg, newCfg *Config) []ConfigChange {
	var changes []ConfigChange
	diffStructs("", reflect.ValueOf(oldCfg).Elem(), reflect.ValueOf(newCfg).Elem(), &changes)
	return changes
}

func diffStructs(prefix string, oldVal, newVal reflect.Value, changes *[]ConfigChange) {
	t := oldVal.Type()
	for i := 0; i < oldVal.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		path := field.Name
		if prefix != "" {
			path = prefix + "." + field.Name
		}

		of, nf := oldVal.Field(i), newVal.Field(i)
		if of.Kind() == reflect.Struct {
			diffStructs(path, of, nf, changes)
			continue
		}
		if !reflect.DeepEqual(of.Interface(), nf.Interface()) {
			*changes = append(*changes, ConfigChange{
				Path:     path,
				OldValue: of.Interface(),
				NewValue: nf.Interface(),
			})
		}
	}
}
