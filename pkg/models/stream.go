package models

// Fragment is one increment of a streaming model response. A fragment may
// carry plain text, a piece of a structured tool invocation, or both; the
// final fragment of a stream has Done set and carries token usage.
type Fragment struct {
	// Text is a chunk of assistant text. Chunk boundaries are arbitrary
	// and carry no meaning.
	Text string `json:"text,omitempty"`

	// Invocation is a piece of a structured tool invocation.
	Invocation *InvocationDelta `json:"invocation,omitempty"`

	// Restart signals that the stream is being replayed from the start
	// after a mid-stream failure. Consumers must discard everything
	// accumulated for the current turn.
	Restart bool `json:"restart,omitempty"`

	// Done marks the final fragment of a successful stream.
	Done bool `json:"done,omitempty"`

	// Err reports a stream-level failure. No further fragments follow.
	Err error `json:"-"`

	// Token usage, populated on the Done fragment when the provider
	// reports it.
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}

// InvocationDelta is an incremental piece of a structured tool invocation.
// Deltas for one invocation share an ID; providers may interleave deltas
// for several invocations. Name is set on the first delta for an ID and
// ArgsDelta fragments concatenate into the argument document. Complete
// marks the final delta.
type InvocationDelta struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	ArgsDelta string `json:"args_delta,omitempty"`
	Complete  bool   `json:"complete,omitempty"`
}
