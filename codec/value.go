package codec

// SignalValue is one decoded signal.
type SignalValue struct {
	Name  string
	Kind  SignalKind
	Raw   int64
	Value float64
	Flag  bool
	// Enum is the label of Raw for enum signals, empty when Raw is not in the table.
	Enum string
	Unit string
}

// DetailWriter receives the decoded signals of one frame.
type DetailWriter interface {
	WriteSignals(id MessageID, values []SignalValue)
}

// DetailWriterFunc adapts a function to DetailWriter.
type DetailWriterFunc func(id MessageID, values []SignalValue)

func (f DetailWriterFunc) WriteSignals(id MessageID, values []SignalValue) {
	f(id, values)
}
