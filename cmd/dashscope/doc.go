// 版权所有 2026 dashscope-go Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
dashscope 是模块自带的命令行工具，覆盖日常调试场景：

	dashscope chat "你好"                    # 聊天补全（--stream 流式输出）
	dashscope embed "文本一" "文本二"          # 文本向量化
	dashscope parse --file report.pdf        # 上传并解析文档（DocMind）
	dashscope migrate up                     # 初始化 OceanBase 向量表
	dashscope version                        # 显示版本信息

配置通过 --config 指定的 YAML 文件与 DASHSCOPE_* 环境变量加载，
环境变量优先。
*/
package main
