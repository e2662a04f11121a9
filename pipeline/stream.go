package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/Agent-Zoey/Zoey-sub001/provider"
)

const (
	defaultEditIntervalMS       = 500
	defaultStreamInactivityMS   = 2000
	openTextTag                = "<text>"
	closeTextTag                = "</text>"
)

// EditFunc pushes an edited placeholder to the adapter.
type EditFunc func(ctx context.Context, text string, final bool) error

// Pacer paces outbound edits: an edit is emitted only once editInterval has
// elapsed since the last one, except the final edit (final=true or
// inactivity timeout), which is always emitted regardless of interval.
type Pacer struct {
	editInterval time.Duration
	inactivity   time.Duration
	lastEdit     time.Time
}

// NewPacer constructs a Pacer with the given edit interval and inactivity
// watchdog duration. Zero values fall back to spec.md §4.6's defaults
// (500ms edit interval, 2000ms inactivity).
func NewPacer(editInterval, inactivity time.Duration) *Pacer {
	if editInterval <= 0 {
		editInterval = defaultEditIntervalMS * time.Millisecond
	}
	if inactivity <= 0 {
		inactivity = defaultStreamInactivityMS * time.Millisecond
	}
	return &Pacer{editInterval: editInterval, inactivity: inactivity}
}

// ShouldEmit reports whether an edit at now should be sent, given final.
func (p *Pacer) ShouldEmit(now time.Time, final bool) bool {
	if final {
		return true
	}
	if now.Sub(p.lastEdit) >= p.editInterval {
		return true
	}
	return false
}

// MarkEmitted records that an edit was just sent at now.
func (p *Pacer) MarkEmitted(now time.Time) {
	p.lastEdit = now
}

// Consume drains a provider.Chunk stream, accumulating text and invoking
// emit at most as often as the pacer allows, with the final edit always
// delivered. It stops and marks the result Interrupted if ctx is canceled
// mid-stream, still attempting one last emit of the partial text with a
// trailing "(interrupted)" marker per spec §5's cancellation contract.
// inactivity timeout since the last chunk also forces a final emit.
func Consume(ctx context.Context, chunks <-chan provider.Chunk, pacer *Pacer, emit EditFunc) (assembled string, interrupted bool, err error) {
	var b strings.Builder
	timer := time.NewTimer(pacer.inactivity)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			assembled = b.String()
			partial := assembled
			if partial != "" {
				partial += " (interrupted)"
			}
			_ = emit(context.Background(), partial, true)
			return assembled, true, ctx.Err()

		case <-timer.C:
			assembled = b.String()
			_ = emit(ctx, assembled, true)
			return assembled, false, nil

		case chunk, ok := <-chunks:
			if !ok {
				assembled = b.String()
				_ = emit(ctx, assembled, true)
				return assembled, false, nil
			}
			if chunk.Error != "" {
				assembled = b.String()
				return assembled, false, providerStreamError(chunk.Error)
			}
			if chunk.Text != "" {
				b.WriteString(chunk.Text)
			}
			if chunk.Text != "" || chunk.Final {
				if pacer.ShouldEmit(timeNow(), chunk.Final) {
					if err := emit(ctx, b.String(), chunk.Final); err != nil {
						return b.String(), false, err
					}
					pacer.MarkEmitted(timeNow())
				}
			}
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(pacer.inactivity)
			if chunk.Final {
				assembled = b.String()
				return assembled, false, nil
			}
		}
	}
}

var timeNow = time.Now

type streamError string

func (e streamError) Error() string { return string(e) }

func providerStreamError(msg string) error { return streamError(msg) }

// ExtractText applies the <text>...</text> wrapper rule from spec.md §4.6:
// if the assembled text contains the wrapper, only the inner text is shown;
// if the opening tag is present without a closing tag at finalization, the
// text after the opening tag is used verbatim. If no opening tag is
// present, the assembled text is returned unchanged.
func ExtractText(assembled string) string {
	openIdx := strings.Index(assembled, openTextTag)
	if openIdx == -1 {
		return assembled
	}
	rest := assembled[openIdx+len(openTextTag):]
	closeIdx := strings.Index(rest, closeTextTag)
	if closeIdx == -1 {
		return rest
	}
	return rest[:closeIdx]
}
