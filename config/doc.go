// Package config 提供 RAG 服务的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量 的顺序叠加，
// .env 文件中的键在加载前注入进程环境。
// 语义缓存和重排序阈值均为配置项，不在代码中硬编码。
package config
