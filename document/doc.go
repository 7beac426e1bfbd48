// 版权所有 2026 dashscope-go Authors
// MIT 许可

// Package document 提供文档读取与分块能力。
//
// Reader 接口统一了各来源的文档抽取：
//   - BilibiliReader 抓取 B 站视频的标题、简介与字幕
//   - CSDNReader 抽取 CSDN 博客正文
//   - CloudReader 走 DashScope 文档中心做云端解析（PDF/Word 等）
//
// Chunker 基于 tiktoken 做 token 感知的分块，带重叠窗口，
// 供向量入库前的切片使用。
package document
