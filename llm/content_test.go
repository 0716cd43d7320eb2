package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirstChoice(t *testing.T) {
	_, err := FirstChoice(nil)
	assert.ErrorIs(t, err, ErrNoChoices)

	_, err = FirstChoice(&ChatResponse{})
	assert.ErrorIs(t, err, ErrNoChoices)

	choice, err := FirstChoice(&ChatResponse{Choices: []ChatChoice{
		{Index: 0, Message: Message{Content: "first"}},
		{Index: 1, Message: Message{Content: "second"}},
	}})
	require.NoError(t, err)
	assert.Equal(t, "first", choice.Message.Content)
}

func TestFirstContent(t *testing.T) {
	content, err := FirstContent(&ChatResponse{Choices: []ChatChoice{
		{Message: Message{Content: "  answer \n"}},
	}})
	require.NoError(t, err)
	assert.Equal(t, "answer", content)

	content, err = FirstContent(&ChatResponse{Choices: []ChatChoice{
		{Message: Message{Content: "ignored"}, Arguments: []byte(`{"tool":"answer_from_history"}`)},
	}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"tool":"answer_from_history"}`, content)

	_, err = FirstContent(&ChatResponse{Choices: []ChatChoice{
		{FinishReason: "content_filter"},
	}})
	assert.ErrorIs(t, err, ErrContentFiltered)

	// 截断前已有输出时保留
	content, err = FirstContent(&ChatResponse{Choices: []ChatChoice{
		{FinishReason: "content_filter", Message: Message{Content: "partial"}},
	}})
	require.NoError(t, err)
	assert.Equal(t, "partial", content)

	_, err = FirstContent(nil)
	assert.ErrorIs(t, err, ErrNoChoices)
}

func TestStripCodeFence(t *testing.T) {
	for in, want := range map[string]string{
		"```json\n{\"a\":1}\n```": `{"a":1}`,
		"```\n{\"a\":1}```":       `{"a":1}`,
		"  plain ":                "plain",
		"```{\"a\":1}```":         `{"a":1}`,
	} {
		assert.Equal(t, want, StripCodeFence(in), in)
	}
}
