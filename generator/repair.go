package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var ErrRetriesExhausted = errors.New("retries exhausted")

// Feedback is a validation failure carrying its own trace, such as an
// executor report.
type Feedback struct {
	Message string
	Trace   string
}

func (f *Feedback) Error() string { return f.Message }

// ExhaustedError is returned once a conversation used all its attempts.
type ExhaustedError struct {
	Role     string
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: gave up after %d attempts: %v", e.Role, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() []error { return []error{ErrRetriesExhausted, e.Last} }

// Trace renders err for the model: its own trace when it has one, the wrap
// chain otherwise.
func Trace(err error) string {
	var fb *Feedback
	if errors.As(err, &fb) && fb.Trace != "" {
		return fb.Trace
	}
	var lines []string
	for e := err; e != nil; e = errors.Unwrap(e) {
		lines = append(lines, e.Error())
	}
	return strings.Join(lines, "\n  caused by: ")
}

// Repair checks the latest answer of conv and, while check fails, sends the
// failure back to the model. check runs at most retries+1 times. Model
// transport errors end the loop immediately.
func Repair[T any](ctx context.Context, conv *Conversation, retries int, check func(answer string) (T, error)) (T, error) {
	var zero T
	if retries < 0 {
		retries = 0
	}
	for attempt := 0; ; attempt++ {
		v, err := check(conv.Answer())
		if err == nil {
			return v, nil
		}
		conv.agent.log.Debug().Err(err).Int("attempt", attempt).Msg("answer rejected")
		if attempt >= retries {
			return zero, &ExhaustedError{Role: conv.Role(), Attempts: attempt + 1, Last: err}
		}
		if cerr := ctx.Err(); cerr != nil {
			return zero, cerr
		}
		if rerr := conv.Retry(ctx, err.Error(), Trace(err), attempt+1); rerr != nil {
			return zero, rerr
		}
	}
}

// CallJSON is Call followed by Repair over ExtractJSON and decode.
func CallJSON[T any](ctx context.Context, a *Agent, retries int, vars map[string]any, decode func([]byte) (T, error), images ...string) (T, error) {
	var zero T
	conv, err := a.Call(ctx, vars, images...)
	if err != nil {
		return zero, err
	}
	return Repair(ctx, conv, retries, func(answer string) (T, error) {
		raw, err := ExtractJSON(answer)
		if err != nil {
			return zero, err
		}
		return decode(raw)
	})
}
