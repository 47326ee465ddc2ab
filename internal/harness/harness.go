package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/samber/lo"

	"github.com/roach88/threads/internal/id"
	"github.com/roach88/threads/internal/readmodel"
	"github.com/roach88/threads/internal/service"
	"github.com/roach88/threads/internal/store"
	"github.com/roach88/threads/internal/testutil"
	"github.com/roach88/threads/internal/thread"
)

// TimeFormat renders trace timestamps.
const TimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Harness executes one scenario. It tracks the alias of every thread and
// the last version it observed for each.
type Harness struct {
	svc      *service.Service
	ids      map[string]id.ThreadID
	aliases  map[id.ThreadID]string
	versions map[string]thread.Version
	roots    map[string]id.MessageID
}

// Run executes scenario against st and returns the trace.
//
// st should be empty. The returned error is reserved for failures the
// scenario cannot express, such as a storage error; unmet expectations are
// reported through Result.Errors.
func Run(ctx context.Context, scenario *Scenario, st store.Store) (*Result, error) {
	h := &Harness{
		svc: service.New(st,
			service.WithClock(testutil.NewDeterministicClock()),
			service.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		),
		ids:      make(map[string]id.ThreadID),
		aliases:  make(map[id.ThreadID]string),
		versions: make(map[string]thread.Version),
		roots:    make(map[string]id.MessageID),
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		ev, err := h.execute(ctx, step)
		if err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i+1, step.Op, err)
		}
		ev.Step = i + 1
		ev.Op = step.Op
		ev.Thread = step.Thread

		if step.Op == OpCreate || step.Op == OpReply {
			want := lo.Ternary(step.Expect == "", OutcomeOK, step.Expect)
			if ev.Outcome != want {
				result.AddError(fmt.Sprintf("step %d (%s %s): expected outcome %s, got %s",
					ev.Step, step.Op, step.Thread, want, ev.Outcome))
			}
		}
		for _, msg := range ev.checks {
			result.AddError(fmt.Sprintf("step %d (%s %s): %s", ev.Step, step.Op, step.Thread, msg))
		}
		result.addTrace(ev.TraceEvent)
	}
	return result, nil
}

// stepResult carries a trace event plus consistency failures found while
// producing it.
type stepResult struct {
	TraceEvent
	checks []string
}

func (h *Harness) execute(ctx context.Context, step Step) (stepResult, error) {
	switch step.Op {
	case OpCreate:
		return h.create(ctx, step)
	case OpReply:
		return h.reply(ctx, step)
	case OpFind:
		return h.find(ctx, step)
	case OpGet:
		return h.get(ctx, step)
	case OpList:
		return h.list(ctx)
	default:
		return stepResult{}, fmt.Errorf("unknown op %q", step.Op)
	}
}

// threadID resolves alias, minting an unbound id for aliases no create
// step has claimed.
func (h *Harness) threadID(alias string) id.ThreadID {
	if tid, ok := h.ids[alias]; ok {
		return tid
	}
	tid := id.NewThreadID()
	h.ids[alias] = tid
	return tid
}

func (h *Harness) bound(alias string) bool {
	tid, ok := h.ids[alias]
	if !ok {
		return false
	}
	_, ok = h.aliases[tid]
	return ok
}

func (h *Harness) create(ctx context.Context, step Step) (stepResult, error) {
	if h.bound(step.Thread) {
		return stepResult{}, fmt.Errorf("thread alias %q already created", step.Thread)
	}

	th, events, createErr := h.svc.CreateThread(ctx, step.Content)
	var res stepResult
	var err error
	res.Outcome, err = outcome(createErr)
	if err != nil {
		return stepResult{}, err
	}
	if res.Outcome != OutcomeOK {
		return res, nil
	}

	h.ids[step.Thread] = th.ID()
	h.aliases[th.ID()] = step.Thread
	h.versions[step.Thread] = th.Version()
	h.roots[step.Thread] = events[0].EventPayload().MessageID
	res.Version = lo.ToPtr(th.Version().Uint32())
	return res, nil
}

func (h *Harness) reply(ctx context.Context, step Step) (stepResult, error) {
	tid := h.threadID(step.Thread)
	repeat := max(step.Repeat, 1)

	var res stepResult
	if repeat > 1 {
		res.Repeat = repeat
	}

	for range repeat {
		expected, ok := h.versions[step.Thread]
		if !ok {
			expected = thread.InitialVersion()
		}
		if step.ExpectedVersion != nil {
			expected = thread.Version(*step.ExpectedVersion)
		}
		if repeat == 1 {
			res.ExpectedVersion = lo.ToPtr(expected.Uint32())
		}

		th, _, replyErr := h.svc.Reply(ctx, tid, expected, step.Content)
		var err error
		res.Outcome, err = outcome(replyErr)
		if err != nil {
			return stepResult{}, err
		}
		if res.Outcome != OutcomeOK {
			if vm, ok := store.AsVersionMismatch(replyErr); ok {
				res.ActualVersion = lo.ToPtr(vm.Actual.Uint32())
			}
			return res, nil
		}
		h.versions[step.Thread] = th.Version()
		res.Version = lo.ToPtr(th.Version().Uint32())
	}
	return res, nil
}

func (h *Harness) find(ctx context.Context, step Step) (stepResult, error) {
	tid := h.threadID(step.Thread)

	var res stepResult
	th, ok, err := h.svc.Find(ctx, tid)
	if err != nil {
		return stepResult{}, err
	}
	res.Found = lo.ToPtr(ok)
	if !ok {
		return res, nil
	}

	res.Version = lo.ToPtr(th.Version().Uint32())
	res.MessageCount = lo.ToPtr(th.MessageCount())
	if th.ID() != tid {
		res.checks = append(res.checks, fmt.Sprintf("found thread %s, want %s", th.ID(), tid))
	}
	return res, nil
}

func (h *Harness) get(ctx context.Context, step Step) (stepResult, error) {
	tid := h.threadID(step.Thread)

	var res stepResult
	rt, ok, err := h.svc.GetThread(ctx, tid)
	if err != nil {
		return stepResult{}, err
	}
	res.Found = lo.ToPtr(ok)
	if !ok {
		return res, nil
	}

	res.Version = lo.ToPtr(rt.Version.Uint32())
	res.RepliesCount = lo.ToPtr(rt.RepliesCount)
	res.CreatedAt = formatTime(rt.CreatedAt)
	res.LastMessage = lo.ToPtr(traceMessage(rt.LastMessage))
	res.Messages = lo.Map(rt.Messages, func(m readmodel.Message, _ int) TraceMessage { return traceMessage(m) })

	if root, ok := h.roots[step.Thread]; ok && len(rt.Messages) > 0 && rt.Messages[0].ID != root {
		res.checks = append(res.checks, fmt.Sprintf("root message is %s, want %s", rt.Messages[0].ID, root))
	}
	for _, m := range rt.Messages {
		tm, ok, err := h.svc.GetMessage(ctx, m.ID)
		if err != nil {
			return stepResult{}, err
		}
		switch {
		case !ok:
			res.checks = append(res.checks, fmt.Sprintf("message %d not found by id", m.Number))
		case tm.ThreadID != tid || tm.Message.Number != m.Number || tm.Message.Content != m.Content:
			res.checks = append(res.checks, fmt.Sprintf("message %d lookup disagrees with projection", m.Number))
		}
	}
	return res, nil
}

func (h *Harness) list(ctx context.Context) (stepResult, error) {
	summaries, err := h.svc.ListThreads(ctx)
	if err != nil {
		return stepResult{}, err
	}

	var res stepResult
	res.Threads = lo.Map(summaries, func(s readmodel.Summary, _ int) string {
		if alias, ok := h.aliases[s.ID]; ok {
			return alias
		}
		return "?" + s.ID.String()
	})
	return res, nil
}

// outcome classifies err. Errors outside the scenario vocabulary are
// returned as the second value.
func outcome(err error) (string, error) {
	switch {
	case err == nil:
		return OutcomeOK, nil
	case store.IsVersionMismatch(err):
		return OutcomeVersionMismatch, nil
	case store.IsNotFound(err):
		return OutcomeNotFound, nil
	case thread.IsMessageLimit(err):
		return OutcomeMessageLimit, nil
	case thread.IsContentError(err):
		return OutcomeInvalidContent, nil
	default:
		return "", err
	}
}

func traceMessage(m readmodel.Message) TraceMessage {
	return TraceMessage{Number: m.Number, Content: m.Content, CreatedAt: formatTime(m.CreatedAt)}
}

func formatTime(t time.Time) string { return t.UTC().Format(TimeFormat) }
