// Package agent talks to the remote study agent backend.
package agent

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/ashureev/study-buddy/internal/domain"
)

// Task selects what the backend agent does with a request.
type Task string

const (
	TaskTutor     Task = "tutor"
	TaskQuiz      Task = "quiz"
	TaskAnalyze   Task = "analyze"
	TaskRoadmap   Task = "roadmap"
	TaskQuestions Task = "questions"
)

// Analysis inputs understood by TaskAnalyze.
const (
	AnalyzeQuizBased = "quiz-based"
	AnalyzeChatBased = "chat-based"
)

// Request is the body of POST /api/agent.
type Request struct {
	Task      Task             `json:"task"`
	Input     string           `json:"input"`
	History   []domain.Message `json:"history"`
	SessionID string           `json:"session_id,omitempty"`
}

// Response is the agent reply. Output and Meta are task specific and kept
// raw; the accessors below decode them leniently.
type Response struct {
	Task      Task            `json:"task"`
	Output    json.RawMessage `json:"output"`
	Meta      json.RawMessage `json:"meta"`
	SessionID string          `json:"session_id,omitempty"`
}

// QuizOutput is the decoded output of a quiz task.
type QuizOutput struct {
	Raw       string
	Questions []domain.QuizQuestion
}

func decodeObject(raw json.RawMessage) map[string]json.RawMessage {
	var obj map[string]json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &obj) != nil {
		return nil
	}
	return obj
}

// textOf renders a JSON value as text: strings verbatim, null as "",
// anything else as its JSON encoding.
func textOf(raw json.RawMessage) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return trimmed
}

// Answer returns output.answer of a tutor reply.
func (r *Response) Answer() string {
	return textOf(decodeObject(r.Output)["answer"])
}

// Summary returns output.summary of an analyze reply.
func (r *Response) Summary() string {
	return textOf(decodeObject(r.Output)["summary"])
}

// Quiz decodes output.raw and output.questions. Questions that cannot be
// decoded are skipped; missing options become an empty list.
func (r *Response) Quiz() QuizOutput {
	obj := decodeObject(r.Output)
	out := QuizOutput{Raw: textOf(obj["raw"])}

	var items []json.RawMessage
	if err := json.Unmarshal(obj["questions"], &items); err != nil {
		return out
	}
	for _, item := range items {
		var q domain.QuizQuestion
		if err := json.Unmarshal(item, &q); err != nil {
			continue
		}
		if q.Options == nil {
			q.Options = []string{}
		}
		out.Questions = append(out.Questions, q)
	}
	return out
}

// QuizAttemptID returns meta.quiz_attempt_id, or 0 if absent.
func (r *Response) QuizAttemptID() int64 {
	raw, ok := decodeObject(r.Meta)["quiz_attempt_id"]
	if !ok {
		return 0
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		var s string
		if json.Unmarshal(raw, &s) != nil {
			return 0
		}
		n = json.Number(s)
	}
	id, err := strconv.ParseInt(n.String(), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// MemoryFile is an uploaded document to ingest.
type MemoryFile struct {
	Name    string
	Content []byte
}

type historyResponse struct {
	SessionID string                  `json:"session_id"`
	Messages  []domain.HistoryMessage `json:"messages"`
}

type analysisResponse struct {
	SessionID string  `json:"session_id"`
	Summary   *string `json:"summary"`
	Timestamp string  `json:"timestamp,omitempty"`
}

type weakTopicsResponse struct {
	SessionID  string             `json:"session_id"`
	WeakTopics []domain.WeakTopic `json:"weak_topics"`
}

type roadmapResponse struct {
	SessionID string               `json:"session_id"`
	Tasks     []domain.RoadmapTask `json:"tasks"`
}

type masteryResponse struct {
	SessionID string                  `json:"session_id"`
	Masteries []domain.ConceptMastery `json:"masteries"`
}

type taskStatusRequest struct {
	SessionID string            `json:"session_id"`
	TaskID    int64             `json:"task_id"`
	Status    domain.TaskStatus `json:"status"`
}

type memoryResponse struct {
	Added int      `json:"added"`
	IDs   []string `json:"ids"`
}
