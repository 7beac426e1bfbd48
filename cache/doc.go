// 版权所有 2026 dashscope-go Authors
// MIT 许可

// Package cache 为聊天补全提供两级响应缓存（本地 LRU + Redis）。
//
// 相同 model+messages 的非流式请求命中缓存时直接返回，
// 省掉一次上游调用。带工具调用的请求不缓存。
package cache
