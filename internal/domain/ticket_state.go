package domain

import "fmt"

// TicketState is the routing state of a ticket, derived from its status,
// queue, assignee and the contact's automation flags.
type TicketState int

const (
	StateUnassigned TicketState = iota
	StateAwaitingQueueSelection
	StateAssignedHuman
	StateAssignedAgent
	StateClosed
)

func (s TicketState) String() string {
	switch s {
	case StateUnassigned:
		return "unassigned"
	case StateAwaitingQueueSelection:
		return "awaiting_queue_selection"
	case StateAssignedHuman:
		return "assigned_human"
	case StateAssignedAgent:
		return "assigned_agent"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// TicketEvent drives a transition between ticket states
type TicketEvent string

const (
	EventMenuPrompted      TicketEvent = "menu_prompted"
	EventHumanQueueChosen  TicketEvent = "human_queue_chosen"
	EventAgentQueueChosen  TicketEvent = "agent_queue_chosen"
	EventAgentHandoff      TicketEvent = "agent_handoff"
	EventAgentResumed      TicketEvent = "agent_resumed"
	EventStaffAssigned     TicketEvent = "staff_assigned"
	EventOutOfHoursClosed  TicketEvent = "out_of_hours_closed"
	EventConversationEnded TicketEvent = "conversation_ended"
	EventClosed            TicketEvent = "closed"
	EventReopened          TicketEvent = "reopened"
)

var ticketTransitions = map[TicketState]map[TicketEvent]TicketState{
	StateUnassigned: {
		EventMenuPrompted:     StateAwaitingQueueSelection,
		EventHumanQueueChosen: StateAssignedHuman,
		EventAgentQueueChosen: StateAssignedAgent,
		EventStaffAssigned:    StateAssignedHuman,
		EventOutOfHoursClosed: StateClosed,
		EventClosed:           StateClosed,
	},
	StateAwaitingQueueSelection: {
		EventMenuPrompted:     StateAwaitingQueueSelection,
		EventHumanQueueChosen: StateAssignedHuman,
		EventAgentQueueChosen: StateAssignedAgent,
		EventStaffAssigned:    StateAssignedHuman,
		EventOutOfHoursClosed: StateClosed,
		EventClosed:           StateClosed,
	},
	StateAssignedHuman: {
		EventAgentResumed:      StateAssignedAgent,
		EventStaffAssigned:     StateAssignedHuman,
		EventConversationEnded: StateClosed,
		EventOutOfHoursClosed:  StateClosed,
		EventClosed:            StateClosed,
	},
	StateAssignedAgent: {
		EventAgentHandoff:      StateAssignedHuman,
		EventStaffAssigned:     StateAssignedHuman,
		EventConversationEnded: StateClosed,
		EventOutOfHoursClosed:  StateClosed,
		EventClosed:            StateClosed,
	},
	StateClosed: {
		EventReopened: StateUnassigned,
	},
}

// Transition returns the state reached from s by ev, or an error when the
// transition table has no such edge.
func (s TicketState) Transition(ev TicketEvent) (TicketState, error) {
	if next, ok := ticketTransitions[s][ev]; ok {
		return next, nil
	}
	return s, fmt.Errorf("ticket: no transition from %s on %s", s, ev)
}

// CanTransition reports whether ev is legal from s
func (s TicketState) CanTransition(ev TicketEvent) bool {
	_, ok := ticketTransitions[s][ev]
	return ok
}

// ResolveTicketState derives the routing state of t. queueCount is the number
// of queues configured on the ticket's channel. t.Queue must be populated when
// t.QueueID is set for the agent check to apply.
func ResolveTicketState(t *Ticket, c *Contact, queueCount int) TicketState {
	if t.Status == TicketStatusClosed {
		return StateClosed
	}
	if t.QueueID == nil {
		if t.UserID != nil {
			return StateAssignedHuman
		}
		if queueCount > 1 && c != nil && c.UseQueues {
			return StateAwaitingQueueSelection
		}
		return StateUnassigned
	}
	if t.UserID == nil && t.Queue != nil && t.Queue.Agent != nil && c != nil && c.UseAgent {
		return StateAssignedAgent
	}
	return StateAssignedHuman
}

// QueueChosenEvent picks the assignment event matching the queue's handler
func QueueChosenEvent(q *Queue) TicketEvent {
	if q != nil && q.Agent != nil {
		return EventAgentQueueChosen
	}
	return EventHumanQueueChosen
}
