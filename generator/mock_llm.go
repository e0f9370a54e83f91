package generator

import (
	"context"
	"errors"
	"sync"
)

var ErrScriptExhausted = errors.New("scripted llm: no answers left")

// ScriptedLLM replays canned answers without calling an external model.
// Respond, when set, takes precedence over Answers.
type ScriptedLLM struct {
	Answers []string
	Respond func(Prompt) (string, error)

	mu    sync.Mutex
	calls []Prompt
}

func (s *ScriptedLLM) Complete(_ context.Context, prompt Prompt) (Completion, error) {
	s.mu.Lock()
	s.calls = append(s.calls, prompt)
	respond := s.Respond
	var answer string
	var empty bool
	if respond == nil {
		if len(s.Answers) == 0 {
			empty = true
		} else {
			answer, s.Answers = s.Answers[0], s.Answers[1:]
		}
	}
	s.mu.Unlock()

	if respond != nil {
		text, err := respond(prompt)
		if err != nil {
			return Completion{}, err
		}
		return Completion{Text: text, Usage: Usage{PromptTokens: int64(len(prompt.User)), CompletionTokens: int64(len(text))}}, nil
	}
	if empty {
		return Completion{}, ErrScriptExhausted
	}
	return Completion{Text: answer, Usage: Usage{PromptTokens: int64(len(prompt.User)), CompletionTokens: int64(len(answer))}}, nil
}

// Calls returns the prompts seen so far.
func (s *ScriptedLLM) Calls() []Prompt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Prompt(nil), s.calls...)
}
