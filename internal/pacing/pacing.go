package pacing

import (
	"context"
	"fmt"
	"time"
)

// Action is one paced step of an automated reply
type Action string

const (
	ActionWait      Action = "wait"
	ActionTyping    Action = "typing"
	ActionRecording Action = "recording"
	ActionReact     Action = "react"
	ActionSend      Action = "send"
	ActionClose     Action = "close"
)

// Step runs Action after waiting DelayBefore
type Step struct {
	Action      Action
	DelayBefore time.Duration
}

// Policy is an ordered list of steps
type Policy []Step

// Then appends the steps of next to p
func (p Policy) Then(next Policy) Policy {
	out := make(Policy, 0, len(p)+len(next))
	out = append(out, p...)
	return append(out, next...)
}

// Total is the sum of all delays in the policy
func (p Policy) Total() time.Duration {
	var d time.Duration
	for _, s := range p {
		d += s.DelayBefore
	}
	return d
}

// Has reports whether the policy contains a step with action a
func (p Policy) Has(a Action) bool {
	for _, s := range p {
		if s.Action == a {
			return true
		}
	}
	return false
}

// Performer carries out the non-wait actions of a policy
type Performer interface {
	Perform(ctx context.Context, a Action) error
}

// PerformerFunc adapts a function to Performer
type PerformerFunc func(ctx context.Context, a Action) error

func (f PerformerFunc) Perform(ctx context.Context, a Action) error {
	return f(ctx, a)
}

// Pacer executes policies against a clock
type Pacer struct {
	clock Clock
}

// New creates a pacer; a nil clock means wall-clock time
func New(clock Clock) *Pacer {
	if clock == nil {
		clock = RealClock{}
	}
	return &Pacer{clock: clock}
}

// Clock returns the pacer's clock
func (p *Pacer) Clock() Clock {
	return p.clock
}

// Run executes every step in order. Presence failures are not fatal; a
// failing send, react or close aborts the rest of the policy.
func (p *Pacer) Run(ctx context.Context, policy Policy, perf Performer) error {
	for _, step := range policy {
		if step.DelayBefore > 0 {
			if err := p.clock.Sleep(ctx, step.DelayBefore); err != nil {
				return err
			}
		}
		if step.Action == ActionWait {
			continue
		}
		err := perf.Perform(ctx, step.Action)
		if err == nil {
			continue
		}
		if step.Action == ActionTyping || step.Action == ActionRecording {
			continue
		}
		return fmt.Errorf("pacing: %s: %w", step.Action, err)
	}
	return nil
}

// Timings are the fixed delays used by the automated reply paths
type Timings struct {
	PreambleDelay time.Duration // typing before the first agent segment
	ReactionDelay time.Duration // pause after reacting to the inbound message
	Presence      time.Duration // pause between a send and the next presence signal
	Segment       time.Duration // pause after each text segment
	FarewellWait  time.Duration // wait after a farewell segment
	FarewellClose time.Duration // additional delay before the ticket is closed
	BookingBefore time.Duration
	BookingAfter  time.Duration
}

// DefaultTimings returns the production delays
func DefaultTimings() Timings {
	return Timings{
		PreambleDelay: 3 * time.Second,
		ReactionDelay: 2 * time.Second,
		Presence:      500 * time.Millisecond,
		Segment:       5 * time.Second,
		FarewellWait:  10 * time.Second,
		FarewellClose: 3 * time.Second,
		BookingBefore: 5 * time.Second,
		BookingAfter:  5 * time.Second,
	}
}

// Preamble shows "typing" and waits before the first segment
func (t Timings) Preamble() Policy {
	return Policy{{ActionTyping, 0}, {ActionWait, t.PreambleDelay}}
}

// NotUnderstood is the single apology send when the agent has no answer
func (t Timings) NotUnderstood() Policy {
	return Policy{{ActionTyping, 0}, {ActionSend, t.PreambleDelay}}
}

// Reaction reacts to the inbound message then pauses
func (t Timings) Reaction() Policy {
	return Policy{{ActionReact, 0}, {ActionWait, t.ReactionDelay}}
}

// TextSegment sends one plain text segment. A segment that is not the last
// announces typing for the next one; the last announces recording when a
// voice note follows.
func (t Timings) TextSegment(last, audioFollows bool) Policy {
	p := Policy{{ActionSend, 0}}
	switch {
	case !last:
		p = append(p, Step{ActionTyping, t.Presence})
	case audioFollows:
		p = append(p, Step{ActionRecording, t.Presence})
	}
	return append(p, Step{ActionWait, t.Segment})
}

// InteractiveSegment sends a button or list message as the last segment
func (t Timings) InteractiveSegment(audioFollows bool) Policy {
	p := Policy{{ActionSend, 0}}
	if audioFollows {
		p = append(p, Step{ActionRecording, t.Presence}, Step{ActionWait, t.Segment})
	}
	return p
}

// Attachment sends a voice note or image right away
func (t Timings) Attachment() Policy {
	return Policy{{ActionSend, 0}}
}

// Farewell waits and then closes the conversation
func (t Timings) Farewell() Policy {
	return Policy{{ActionWait, t.FarewellWait}, {ActionClose, t.FarewellClose}}
}

// BookingResult sends an external booking result between two pauses
func (t Timings) BookingResult() Policy {
	return Policy{{ActionSend, t.BookingBefore}, {ActionWait, t.BookingAfter}}
}
