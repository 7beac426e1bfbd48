// 版权所有 2026 dashscope-go Authors
// MIT 许可

// Package vectorstore 提供向量存储适配器。
//
// 统一的 Store 接口之下有三个实现：
//   - InMemoryStore：内存余弦检索，测试与小规模场景
//   - OceanBaseStore：OceanBase 4.x 向量列（GORM + MySQL 协议），
//     建表走嵌入式 golang-migrate 迁移
//   - TairStore：Tair 向量引擎（TVS.* 命令族，go-redis 直发）
//
// Indexer 把 document 切片、DashScope embedding 和 Store 串成入库流水线。
package vectorstore
