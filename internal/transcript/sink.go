package transcript

// Sink is the only channel by which the pipeline communicates committed
// lines outward.
type Sink interface {
	Deliver(lines []Line, cumulativeWords, position int) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(lines []Line, cumulativeWords, position int) error

func (f SinkFunc) Deliver(lines []Line, cumulativeWords, position int) error {
	return f(lines, cumulativeWords, position)
}
