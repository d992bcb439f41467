package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/leapstack-labs/csvchat/internal/codegen"
	"github.com/leapstack-labs/csvchat/internal/metrics"
	"github.com/leapstack-labs/csvchat/internal/reconcile"
	"github.com/leapstack-labs/csvchat/pkg/core"
)

// SuccessContent is the reply for code that printed nothing.
const SuccessContent = "Done."

// Query results recorded in metrics.
const (
	resultSuccess         = "success"
	resultGenerationError = "generation_error"
	resultExecutionError  = "execution_error"
	resultUnrecoverable   = "unrecoverable"
)

// Result is what one question added to the transcript.
type Result struct {
	Outcome reconcile.Outcome
	// Messages are the messages appended, in order.
	Messages []core.Message
}

// Reply returns the last appended assistant message, if any.
func (r Result) Reply() (core.Message, bool) {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == core.RoleAssistant {
			return r.Messages[i], true
		}
	}
	return core.Message{}, false
}

// Pipeline answers questions against the runtime.
type Pipeline struct {
	store      core.Store
	runtime    core.Runtime
	gen        core.CodeGenerator
	reconciler *reconcile.Reconciler
	logger     *slog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

// Ask reconciles the session, generates code for question, runs it and
// appends the exchange to the transcript. The generator is only called
// once the session is bound; otherwise the standing warning is appended.
func (p *Pipeline) Ask(ctx context.Context, session *core.Session, question string) (Result, error) {
	out, err := p.reconciler.Reconcile(ctx, session)
	if err != nil {
		return Result{Outcome: out}, err
	}
	res := Result{Outcome: out}

	if !out.Bound() {
		p.metrics.Query(resultUnrecoverable)
		msg, appended, err := p.appendWarning(session, out)
		if err != nil {
			return res, err
		}
		if appended {
			res.Messages = append(res.Messages, msg)
		}
		return res, nil
	}

	user := core.Message{Role: core.RoleUser, Content: question, CreatedAt: p.now()}
	if err := p.store.AppendMessage(session.ID, user); err != nil {
		return res, fmt.Errorf("failed to save question: %w", err)
	}
	res.Messages = append(res.Messages, user)

	reply := p.answer(ctx, session, question)
	if err := p.store.AppendMessage(session.ID, reply); err != nil {
		return res, fmt.Errorf("failed to save reply: %w", err)
	}
	res.Messages = append(res.Messages, reply)
	return res, nil
}

// answer produces the assistant reply. Generation and execution failures
// become the reply's content.
func (p *Pipeline) answer(ctx context.Context, session *core.Session, question string) core.Message {
	p.runtime.ResetOutputBuffers()

	// The bound dataset may have been replaced under the same file name
	// since the snapshot was taken.
	columns := session.Columns
	if cols, err := p.reconciler.Columns(ctx); err == nil && len(cols) > 0 {
		columns = cols
	} else if err != nil {
		p.logger.Debug("using cached columns", slog.String("session", session.ID), slog.String("error", err.Error()))
	}

	start := time.Now()
	code, err := p.gen.Generate(ctx, columns, question)
	p.metrics.Generation(time.Since(start))
	if err != nil {
		p.metrics.Query(resultGenerationError)
		p.logger.Warn("code generation failed", slog.String("session", session.ID), slog.String("error", err.Error()))
		return core.Message{Role: core.RoleAssistant, Content: "Error: " + generationDetail(err), CreatedAt: p.now()}
	}

	start = time.Now()
	err = p.runtime.Execute(ctx, code)
	p.metrics.Execution(time.Since(start))
	if err != nil {
		p.metrics.Query(resultExecutionError)
		p.logger.Debug("analysis code failed", slog.String("session", session.ID), slog.String("error", err.Error()))
		p.runtime.ClearPlot()
		return core.Message{Role: core.RoleAssistant, Content: "Error: " + err.Error(), Code: code, CreatedAt: p.now()}
	}

	reply := core.Message{Role: core.RoleAssistant, Content: p.runtime.Stdout(), Code: code}
	if reply.Content == "" {
		reply.Content = SuccessContent
	}
	if p.runtime.HasPlot() {
		plot, err := p.runtime.PlotBase64()
		if err != nil {
			p.logger.Warn("failed to render plot", slog.String("error", err.Error()))
		} else {
			reply.Plot = plot
		}
	}
	p.runtime.ClearPlot()
	reply.CreatedAt = p.now()

	p.metrics.Query(resultSuccess)
	return reply
}

// appendWarning appends the outcome's warning unless it is already the last
// transcript entry.
func (p *Pipeline) appendWarning(session *core.Session, out reconcile.Outcome) (core.Message, bool, error) {
	text := out.Warning(session.FileName)
	if text == "" {
		return core.Message{}, false, nil
	}

	transcript, err := p.store.GetTranscript(session.ID)
	if err != nil {
		return core.Message{}, false, fmt.Errorf("failed to load transcript: %w", err)
	}
	if n := len(transcript); n > 0 {
		last := transcript[n-1]
		if last.Role == core.RoleAssistant && last.Content == text {
			return core.Message{}, false, nil
		}
	}

	msg := core.Message{Role: core.RoleAssistant, Content: text, CreatedAt: p.now()}
	if err := p.store.AppendMessage(session.ID, msg); err != nil {
		return core.Message{}, false, fmt.Errorf("failed to save warning: %w", err)
	}
	return msg, true, nil
}

// generationDetail extracts the service's detail. Without a response
// status the service was never reached and the transport error is kept.
func generationDetail(err error) string {
	var genErr *codegen.GenerationError
	if errors.As(err, &genErr) && genErr.Status != 0 {
		return genErr.Detail
	}
	return err.Error()
}
