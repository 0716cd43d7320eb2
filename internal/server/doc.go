// Package server 管理 HTTP 服务器生命周期。API 与 /metrics 两个端口各一个
// [Manager]，由 [Group] 一起启动、汇总异步错误并并发关闭。
package server
