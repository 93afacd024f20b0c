package session

// Turn is one user message and its assistant reply, plus the system messages
// produced while handling it. Nothing in a Turn is persisted until the
// conversation loop finalizes it.
type Turn struct {
	User      Message
	Assistant *Message
	system    []Message
}

// NewTurn starts a turn for the given user message.
func NewTurn(user Message) *Turn {
	return &Turn{User: user}
}

// UpsertSystem records a system message. A message whose ID matches an
// earlier one replaces it, so an evolving event stays a single entry.
func (t *Turn) UpsertSystem(msg Message) {
	msg.Role = RoleSystem
	for i := range t.system {
		if msg.ID != "" && t.system[i].ID == msg.ID {
			t.system[i] = msg
			return
		}
	}
	t.system = append(t.system, msg)
}

// System returns a copy of the turn's system messages in arrival order.
func (t *Turn) System() []Message {
	out := make([]Message, len(t.system))
	copy(out, t.system)
	return out
}

// SetAssistant stores the final assistant reply.
func (t *Turn) SetAssistant(msg Message) {
	msg.Role = RoleAssistant
	t.Assistant = &msg
}

// Messages returns the turn in persistence order: user, system..., assistant.
func (t *Turn) Messages() []Message {
	out := make([]Message, 0, len(t.system)+2)
	out = append(out, t.User)
	out = append(out, t.system...)
	if t.Assistant != nil {
		out = append(out, *t.Assistant)
	}
	return out
}
