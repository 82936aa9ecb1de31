package actions

import (
	"context"
	"errors"
	"strings"

	"github.com/rendis/triage/internal/expressions"
	"github.com/rendis/triage/internal/store"
	"github.com/rendis/triage/pkg/schema"
)

const (
	fieldRecipientPrefix = "field:"
	jqRecipientPrefix    = "jq:"
)

// sendEmail interpolates subject and body once and sends one email per
// resolved recipient. A failed send does not stop later recipients.
func (e *Executor) sendEmail(ctx context.Context, a *schema.SendEmail, sub *store.Submission) error {
	recipients := e.resolveRecipients(ctx, a.To, sub)
	if len(recipients) == 0 {
		e.logger.InfoContext(ctx, "email skipped: no valid recipients", "to", a.To)
		return nil
	}

	subject := e.interp.Interpolate(a.Subject, sub)
	body := e.interp.Interpolate(a.Body, sub)

	var errs []error
	for _, to := range recipients {
		if err := e.mailer.Send(ctx, to, subject, body); err != nil {
			e.logger.WarnContext(ctx, "email send failed", "to", to, "error", err)
			errs = append(errs, err)
			continue
		}
		e.logger.InfoContext(ctx, "email sent", "to", to)
	}
	if len(errs) > 0 {
		return schema.NewErrorf(schema.ErrCodeEmailFailed, "%d of %d emails failed", len(errs), len(recipients)).
			WithCause(errors.Join(errs...))
	}
	return nil
}

// resolveRecipients expands literal, "field:" and "jq:" entries. Only values
// containing "@" are kept; duplicates are dropped.
func (e *Executor) resolveRecipients(ctx context.Context, to []string, sub *store.Submission) []string {
	var out []string
	seen := make(map[string]struct{}, len(to))
	add := func(v any) {
		addr := strings.TrimSpace(expressions.Stringify(v))
		if !strings.Contains(addr, "@") {
			if addr != "" {
				e.logger.DebugContext(ctx, "recipient skipped: not an email", "value", addr)
			}
			return
		}
		if _, dup := seen[addr]; dup {
			return
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}

	for _, entry := range to {
		switch {
		case strings.HasPrefix(entry, fieldRecipientPrefix):
			fv, ok := sub.Lookup(strings.TrimPrefix(entry, fieldRecipientPrefix))
			if !ok {
				continue
			}
			if list, isList := fv.Value.([]any); isList {
				for _, item := range list {
					add(item)
				}
				continue
			}
			add(fv.Value)
		case strings.HasPrefix(entry, jqRecipientPrefix):
			if e.jq == nil {
				e.logger.WarnContext(ctx, "jq recipients disabled", "query", entry)
				continue
			}
			results, err := e.jq.EvaluateAll(ctx, strings.TrimPrefix(entry, jqRecipientPrefix), sub.Document())
			if err != nil {
				e.logger.WarnContext(ctx, "recipient query failed", "query", entry, "error", err)
				continue
			}
			for _, r := range results {
				add(r)
			}
		default:
			add(entry)
		}
	}
	return out
}
