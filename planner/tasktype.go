package planner

import "strings"

// TaskType classifies what kind of work a message is asking for.
type TaskType string

const (
	TaskCodeGeneration  TaskType = "code_generation"
	TaskSummarization   TaskType = "summarization"
	TaskTranslation     TaskType = "translation"
	TaskReasoning       TaskType = "reasoning"
	TaskQuestionAnswering TaskType = "question_answering"
	TaskCompletion      TaskType = "completion"
	TaskChat            TaskType = "chat"
)

type taskTypeRule struct {
	taskType TaskType
	keywords []string
}

// taskTypeRules is evaluated in order; the first match wins, matching the
// priority order spec.md §4.5 specifies.
var taskTypeRules = []taskTypeRule{
	{TaskCodeGeneration, []string{"code", "implement", "function", "class", "debug", "refactor"}},
	{TaskSummarization, []string{"summarize", "tldr", "tl;dr", "brief"}},
	{TaskTranslation, []string{"translate"}},
	{TaskReasoning, []string{"analyze", "explain why", "step by step", "compare", "pros and cons"}},
}

var whWords = []string{"what", "why", "how", "when", "where", "who", "which"}

// InferTaskType classifies text by lowercased keyword pattern, in the fixed
// priority order CodeGeneration > Summarization > Translation > Reasoning >
// QuestionAnswering > Completion > Chat.
func InferTaskType(text string) TaskType {
	lower := strings.ToLower(text)

	for _, rule := range taskTypeRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.taskType
			}
		}
	}

	if strings.Contains(text, "?") {
		return TaskQuestionAnswering
	}
	for _, w := range whWords {
		if strings.HasPrefix(lower, w+" ") {
			return TaskQuestionAnswering
		}
	}

	for _, kw := range []string{"complete", "finish", "continue"} {
		if strings.Contains(lower, kw) {
			return TaskCompletion
		}
	}

	return TaskChat
}
