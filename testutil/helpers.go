package testutil

import (
	"testing"
	"time"

	"github.com/aagudeloRN/RAGPruebas/types"
)

// Drain 读取 ch 直到关闭。timeout 内未关闭视为生产者泄漏，测试失败。
func Drain[T any](t testing.TB, ch <-chan T, timeout time.Duration) []T {
	t.Helper()
	var out []T
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case v, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, v)
		case <-timer.C:
			t.Fatalf("channel not closed within %s (received %d items)", timeout, len(out))
			return out
		}
	}
}

// Conversation 从 user 开始交替构造对话历史
func Conversation(turns ...string) []types.Message {
	msgs := make([]types.Message, 0, len(turns))
	for i, content := range turns {
		role := types.RoleUser
		if i%2 == 1 {
			role = types.RoleAssistant
		}
		msgs = append(msgs, types.NewMessage(role, content))
	}
	return msgs
}
