package generator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("auto_slide_generator/generator")

// Agent binds a role to a model and a history.
type Agent struct {
	role    *Role
	llm     LLMClient
	history *History
	log     zerolog.Logger
}

func NewAgent(role *Role, llm LLMClient, history *History, log zerolog.Logger) (*Agent, error) {
	if role == nil {
		return nil, errors.New("role is required")
	}
	if llm == nil {
		return nil, errors.New("llm client is required")
	}
	if history == nil {
		history = NewHistory(false)
	}
	return &Agent{
		role:    role,
		llm:     llm,
		history: history,
		log:     log.With().Str("agent", role.Name).Logger(),
	}, nil
}

func (a *Agent) Name() string { return a.role.Name }

// Call renders the role template with vars and asks the model once.
func (a *Agent) Call(ctx context.Context, vars map[string]any, images ...string) (*Conversation, error) {
	user, err := a.role.Render(vars)
	if err != nil {
		return nil, err
	}
	conv := &Conversation{
		agent: a,
		prompt: Prompt{
			System: a.role.SystemPrompt,
			User:   user,
			Images: images,
			JSON:   a.role.ReturnJSON,
		},
	}
	conv.lastUser = user
	if err := conv.invoke(ctx, conv.prompt, 0, ""); err != nil {
		return nil, err
	}
	return conv, nil
}

// Conversation is the exchange between one Call and its retries. It is owned
// by a single goroutine.
type Conversation struct {
	agent    *Agent
	prompt   Prompt
	history  []Message
	lastUser string
	answer   string
}

// Answer is the latest model output.
func (c *Conversation) Answer() string { return c.answer }

func (c *Conversation) Role() string { return c.agent.role.Name }

// Retry sends the exchange so far back with the failure and asks again.
func (c *Conversation) Retry(ctx context.Context, feedback, detail string, attempt int) error {
	history := append(append([]Message(nil), c.history...),
		Message{Role: "user", Content: c.lastUser},
		Message{Role: "assistant", Content: c.answer},
	)
	next := Prompt{
		System:  c.prompt.System,
		User:    retryMessage(feedback, detail, attempt),
		History: history,
		JSON:    c.prompt.JSON,
	}
	if err := c.invoke(ctx, next, attempt, feedback); err != nil {
		return err
	}
	c.history = history
	c.lastUser = next.User
	return nil
}

func retryMessage(feedback, detail string, attempt int) string {
	msg := fmt.Sprintf("Your previous answer could not be used (attempt %d).\nError: %s\n", attempt, feedback)
	if detail != "" && detail != feedback {
		msg += "Details:\n" + detail + "\n"
	}
	return msg + "Fix the problem and answer again in the same format, without explanations."
}

func (c *Conversation) invoke(ctx context.Context, p Prompt, attempt int, feedback string) error {
	a := c.agent
	ctx, span := tracer.Start(ctx, "agent."+a.role.Name, trace.WithAttributes(
		attribute.String("agent.role", a.role.Name),
		attribute.Int("agent.attempt", attempt),
		attribute.Int("agent.images", len(p.Images)),
	))
	defer span.End()

	start := time.Now()
	out, err := a.llm.Complete(ctx, p)
	rec := Record{
		Role:       a.role.Name,
		Attempt:    attempt,
		System:     p.System,
		Prompt:     p.User,
		Images:     p.Images,
		Output:     out.Text,
		Feedback:   feedback,
		DurationMS: time.Since(start).Milliseconds(),
		CreatedAt:  start,
	}
	if err != nil {
		rec.Error = err.Error()
		a.history.Append(rec)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		a.log.Warn().Err(err).Int("attempt", attempt).Msg("model call failed")
		return fmt.Errorf("%s: %w", a.role.Name, err)
	}
	usage := out.Usage
	rec.Usage = &usage
	a.history.Append(rec)
	span.SetAttributes(
		attribute.Int64("llm.prompt_tokens", usage.PromptTokens),
		attribute.Int64("llm.completion_tokens", usage.CompletionTokens),
	)
	a.log.Debug().Int("attempt", attempt).Dur("took", time.Since(start)).Msg("model answered")
	c.answer = out.Text
	return nil
}

// Staff is the set of agents hired for one run, all sharing one History.
type Staff struct {
	History *History
	agents  map[string]*Agent
}

// NewStaff hires an agent for each named role, or for every known role when
// names is empty.
func NewStaff(roles map[string]*Role, models Models, history *History, log zerolog.Logger, names ...string) (*Staff, error) {
	if history == nil {
		history = NewHistory(false)
	}
	if len(names) == 0 {
		for n := range roles {
			names = append(names, n)
		}
		sort.Strings(names)
	}
	s := &Staff{History: history, agents: make(map[string]*Agent, len(names))}
	for _, n := range names {
		r, ok := roles[n]
		if !ok {
			return nil, fmt.Errorf("unknown role %q", n)
		}
		llm, err := models.For(r.UseModel)
		if err != nil {
			return nil, fmt.Errorf("role %s: %w", n, err)
		}
		ag, err := NewAgent(r, llm, history, log)
		if err != nil {
			return nil, err
		}
		s.agents[n] = ag
	}
	return s, nil
}

// Agent returns the hired agent for role.
func (s *Staff) Agent(role string) (*Agent, error) {
	a, ok := s.agents[role]
	if !ok {
		return nil, fmt.Errorf("role %q not hired", role)
	}
	return a, nil
}
