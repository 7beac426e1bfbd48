// 版权所有 2026 dashscope-go Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package audio 实现 DashScope 实时音频推理的 WebSocket 协议客户端，
提供流式语音合成（TTS）与流式语音识别（ASR）。

# 协议

所有任务共享同一套事件信封：客户端动作 run-task / continue-task /
finish-task，服务端事件 task-started / result-generated /
task-finished / task-failed。文本事件为 JSON 帧，音频数据为二进制帧，
两种帧在同一条连接上交错传输。

	conn, err := audio.Dial(ctx, audio.Config{APIKey: key})
	...
	synth := audio.NewSpeechSynthesizer(conn, audio.SpeechConfig{Model: "cosyvoice-v1"}, logger)
	result, err := synth.Synthesize(ctx, "你好，世界")

WebSocket 连接不支持并发写，Conn 内部以互斥锁序列化所有发送。
*/
package audio
