package protocol

// ParseError reports an inbound message that could not be turned into an Envelope.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return "parse envelope: " + e.Reason + ": " + e.Err.Error()
	}
	return "parse envelope: " + e.Reason
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
