package rag

import (
	"fmt"

	"github.com/aagudeloRN/RAGPruebas/llm"
	"github.com/aagudeloRN/RAGPruebas/types"
)

// 提示词构造函数均为纯函数：相同输入得到相同提示词。

const analystPromptTemplate = `You are an expert research analyst. Answer the user's question using ONLY the information in the context below.

Rules:
1. Use only the context. If the context does not contain the information needed, say so explicitly instead of guessing.
2. Prioritize quantitative data: figures, percentages, dates and amounts.
3. Identify trends, comparisons and relationships between the data points when they exist.
4. Structure the answer in Markdown with short paragraphs and bullet lists where they help.
5. Cite every factual claim inline in APA style as (Publisher, Year), using the publisher and year from the "Source:" line above each passage. The year is an integer.
6. Do not add a bibliography or references section at the end.

Context:
%s

Question: %s

Answer:`

func analystPrompt(contextText, query string) string {
	return fmt.Sprintf(analystPromptTemplate, contextText, query)
}

const canonicalPromptTemplate = `Rewrite the following question into its canonical form: fix grammar, spelling and punctuation, expand obvious abbreviations, and keep exactly the same meaning and language. Do not answer it and do not add information.

Reply with the rewritten question only.

Question: %s`

func canonicalPrompt(question string) string {
	return fmt.Sprintf(canonicalPromptTemplate, question)
}

const expansionPromptTemplate = `You generate search queries for a vector database of research reports.

Given the user's question, write %d alternative search queries that improve recall:
- a paraphrase with the same meaning
- a keyword-focused version with the key terms only
- a version focused on quantitative data (figures, percentages, statistics)
- further variants covering synonyms or related concepts

Keep the language of the original question.

Respond only with a JSON object: {"queries": ["...", "..."]}

Question: %s`

func expansionPrompt(query string, n int) string {
	return fmt.Sprintf(expansionPromptTemplate, n, query)
}

const condensePromptTemplate = `Given the following conversation and a follow-up question, rewrite the follow-up question as a standalone question that can be understood without the conversation. Keep the original language of the follow-up question.

Conversation:
%s

Follow-up question: %s

Standalone question:`

func condensePrompt(history []llm.Message, question string) string {
	return fmt.Sprintf(condensePromptTemplate, formatHistory(history), question)
}

const routerPromptTemplate = `You are a query router for a research assistant. Decide which tool should handle the user's latest question.

Tools:
- "query_knowledge_base": search the document knowledge base. Use it for any new question or any request for facts, data or sources.
- "answer_from_history": answer using only the conversation so far. Use it only when the question explicitly refers to the previous turns, for example asking to summarize, rephrase, translate or elaborate on an earlier answer.

When in doubt, choose "query_knowledge_base".

Conversation:
%s

Latest question: %s

Respond only with a JSON object: {"tool": "<tool name>", "query": "<question to pass to the tool>"}`

func routerPrompt(history []llm.Message, question string) string {
	return fmt.Sprintf(routerPromptTemplate, formatHistory(history), question)
}

const decompositionPromptTemplate = `You are an expert in query decomposition. Decide whether the user's question can be answered with a single search (simple) or needs several search and reasoning steps (complex).

- Simple: the question asks for a direct fact or topic, for example "What are stablecoins?".
- Complex: answering requires finding one entity first and then searching for information about it, for example "What was the first public office of the author of the 2025 Future of Jobs report?".

Respond only with a JSON object:
{"is_complex": <true|false>, "steps": ["step 1", "step 2", "..."]}

Rules:
- If simple, "steps" contains exactly one string: the original question.
- If complex, "steps" contains independently answerable questions in order, and the LAST element is always an instruction to synthesize the final answer from the previous steps.

Question: %s`

func decompositionPrompt(query string) string {
	return fmt.Sprintf(decompositionPromptTemplate, query)
}

const finalSynthesisPromptTemplate = `You are an expert research analyst. Several research steps were executed to answer a complex question. Their findings are given below as JSON; each finding lists the sources that support it.

Original question: %s

Instruction: %s

Findings:
%s

Rules:
1. Use only the findings. If they are insufficient, say what is missing instead of guessing.
2. Cite every fact inline as (Publisher, Year) using the sources attached to that finding.
3. Do not add a bibliography or references section.
4. Structure the answer in Markdown.

Answer:`

func finalSynthesisPrompt(originalQuery, instruction, factsJSON string) string {
	return fmt.Sprintf(finalSynthesisPromptTemplate, originalQuery, instruction, factsJSON)
}

const historyAnswerPromptTemplate = `Answer the user's latest question using ONLY the conversation below. If the conversation does not contain the answer, say that you could not find it in the conversation.

Conversation:
%s

Latest question: %s

Answer:`

func historyAnswerPrompt(history []llm.Message, question string) string {
	return fmt.Sprintf(historyAnswerPromptTemplate, formatHistory(history), question)
}

const refinementPromptTemplate = `You help users ask better questions to a research knowledge base. Given the user's question, propose exactly 4 improved queries:
1. An optimized reformulation of the original question.
2. A breakdown focusing on one specific aspect.
3. A keyword-oriented version.
4. A version focused on quantitative data.

Keep the language of the original question.

Respond only with a JSON object:
{"suggestions": [{"query": "...", "description": "..."}]}

Question: %s`

func refinementPrompt(query string) string {
	return fmt.Sprintf(refinementPromptTemplate, query)
}

func formatHistory(history []llm.Message) string {
	return types.Transcript(history)
}
