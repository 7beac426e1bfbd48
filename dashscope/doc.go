// Package dashscope provides a native Go client for Alibaba Cloud Model
// Studio (DashScope) model APIs: chat completion (blocking and SSE
// streaming), text embeddings, image and video synthesis via the async
// task protocol, and agent application completion.
//
// 所有请求通过统一的 Client 发出：API Key 鉴权、工作空间头、
// 客户端限流、Prometheus 指标与 zap 日志。
//
// Realtime audio (TTS/ASR over WebSocket) lives in the audio subpackage;
// the document-cloud ingestion pipeline lives in the files subpackage.
package dashscope
