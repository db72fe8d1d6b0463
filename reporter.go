package awfel

// Reporter receives progress after every chunk of a multi-chunk
// operation. done and total are bytes.
type Reporter interface {
	Progress(op string, done, total int64)
}

// ReporterFunc adapts a function to the Reporter interface.
type ReporterFunc func(op string, done, total int64)

func (f ReporterFunc) Progress(op string, done, total int64) {
	f(op, done, total)
}

type discardReporter struct{}

func (discardReporter) Progress(string, int64, int64) {}
