// 版权所有 2026 dashscope-go Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的客户端指标采集能力，覆盖
API 请求、Token 用量、异步任务、WebSocket 协议、缓存与向量存储。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
工厂注册到调用方提供的 Registerer（默认 DefaultRegisterer）。
所有指标按 namespace 隔离，支持多维度 label 分组。

# 主要能力

  - API 指标：请求总数与耗时，按 api/status 分组。
  - Token 指标：prompt/completion 用量，按 model 分组。
  - 异步任务指标：轮询次数与总等待时长，按 kind 分组。
  - WebSocket 指标：协议事件计数，按 event 分组。
  - 缓存指标：命中与未命中计数，按 cache_type 分组。
  - 向量存储指标：操作耗时，按 store/operation 分组。
*/
package metrics
