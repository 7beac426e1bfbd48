// 版权所有 2026 dashscope-go Authors
// MIT 许可

// Package config 提供统一配置加载：默认值 → YAML 文件 → 环境变量。
package config
