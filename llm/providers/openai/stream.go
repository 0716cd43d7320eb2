package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/aagudeloRN/RAGPruebas/llm"
	"github.com/aagudeloRN/RAGPruebas/types"
)

// 单个 SSE 事件的上限，超过视为上游异常
const maxEventSize = 1 << 20

var (
	dataPrefix = []byte("data:")
	doneMarker = []byte("[DONE]")
)

// streamChunks 读取 SSE 事件并转发为 StreamChunk。注释行与空行忽略，
// 读到 [DONE] 或 EOF 后关闭通道。
func streamChunks(ctx context.Context, body io.ReadCloser, provider string) <-chan llm.StreamChunk {
	out := make(chan llm.StreamChunk)

	go func() {
		defer close(out)
		defer body.Close()

		send := func(c llm.StreamChunk) bool {
			select {
			case out <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}
		fail := func(msg string, cause error) {
			send(llm.StreamChunk{Provider: provider, Err: types.NewUpstreamError(serviceName, msg).WithCause(cause)})
		}

		sc := bufio.NewScanner(body)
		sc.Buffer(make([]byte, 0, 64<<10), maxEventSize)
		for sc.Scan() {
			payload, ok := bytes.CutPrefix(bytes.TrimSpace(sc.Bytes()), dataPrefix)
			if !ok {
				continue
			}
			payload = bytes.TrimSpace(payload)
			if bytes.Equal(payload, doneMarker) {
				return
			}

			var ev chatResponse
			if err := json.Unmarshal(payload, &ev); err != nil {
				fail("invalid stream chunk", err)
				return
			}
			for _, c := range eventChunks(&ev, provider) {
				if !send(c) {
					return
				}
			}
		}
		if err := sc.Err(); err != nil && ctx.Err() == nil {
			fail("stream read failed", err)
		}
	}()
	return out
}

// eventChunks 每个 choice 一个块；只带 usage 的收尾事件单独成块
func eventChunks(ev *chatResponse, provider string) []llm.StreamChunk {
	chunks := make([]llm.StreamChunk, 0, len(ev.Choices)+1)
	for _, c := range ev.Choices {
		chunk := llm.StreamChunk{
			ID:           ev.ID,
			Provider:     provider,
			Model:        ev.Model,
			Index:        c.Index,
			FinishReason: c.FinishReason,
			Delta:        llm.Message{Role: llm.RoleAssistant},
		}
		if c.Delta != nil {
			chunk.Delta.Content = c.Delta.Content
		}
		chunks = append(chunks, chunk)
	}
	if ev.Usage != nil {
		u := ev.Usage.toLLM()
		chunks = append(chunks, llm.StreamChunk{
			ID:       ev.ID,
			Provider: provider,
			Model:    ev.Model,
			Delta:    llm.Message{Role: llm.RoleAssistant},
			Usage:    &u,
		})
	}
	return chunks
}

// errorMessage 取 {"error":{"message","type"}}，解析失败时返回原始响应体
func errorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 64<<10))
	if err != nil {
		return "failed to read error response"
	}
	var env struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if json.Unmarshal(data, &env) != nil || env.Error.Message == "" {
		return strings.TrimSpace(string(data))
	}
	if env.Error.Type == "" {
		return env.Error.Message
	}
	return fmt.Sprintf("%s [%s]", env.Error.Message, env.Error.Type)
}
