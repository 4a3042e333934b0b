package logger

// A null writer to discard suppressed log levels
type nullWritter struct{}

func (null *nullWritter) Write(b []byte) (n int, err error) {
	return len(b), nil
}
