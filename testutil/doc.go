/*
Package testutil 提供测试共享的辅助函数。

  - Drain 读取通道直到关闭，超时即失败，用于检查流式生产者不会泄漏
  - Conversation 按 user/assistant 交替构造多轮历史

子包 testutil/mocks 是外部端口的脚本化实现。MockLanguageModel 按提示词子串
匹配返回内容，MockEmbedder 生成确定性的词袋哈希向量，MockReranker
按文档内容返回预设分数。三者均支持错误注入与调用计数。

	lm := mocks.NewMockLanguageModel().
		On("canonical form", "What is AI?").
		OnError("query router", errors.New("boom"))
*/
package testutil
