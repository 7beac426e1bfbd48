// 版权所有 2026 dashscope-go Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package files 实现 DashScope 文档中心（DocMind）的云端摄取管线：
申请上传租约 → PUT 上传字节 → 登记文件 → 轮询解析状态 → 拉取解析文本。

上传前做客户端侧的文件大小校验；解析轮询使用指数退避，
总等待时间受 ParseConfig.MaxWait 约束。

	fc := files.NewClient(files.Config{APIKey: key}, files.WithLogger(logger))
	doc, err := fc.ParseFile(ctx, files.DefaultCategory, "report.pdf")
*/
package files
