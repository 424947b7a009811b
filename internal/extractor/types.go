package extractor

// llmResponse is the wire shape the model is asked to return.
type llmResponse struct {
	Events []eventWire `json:"events"`
}

// eventWire is one extracted event as the model reports it. The speaker,
// timestamp, and character span are derived from the referenced turn, not
// trusted from the model.
type eventWire struct {
	EventType  string  `json:"event_type"`
	TurnIndex  int     `json:"turn_index"`
	Quote      string  `json:"quote"`
	Confidence float64 `json:"confidence"`
}
