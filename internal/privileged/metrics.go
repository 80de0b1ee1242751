package privileged

// Metrics receives router, cache and quit events.
type Metrics interface {
	CommandReceived(cmd string)
	UnknownCommand()
	CacheLookup(hit bool)
	QuitExecuted(reason string)
	LeaksReported(leaked, odd int)
}

type nopMetrics struct{}

func (nopMetrics) CommandReceived(string) {}
func (nopMetrics) UnknownCommand()        {}
func (nopMetrics) CacheLookup(bool)       {}
func (nopMetrics) QuitExecuted(string)    {}
func (nopMetrics) LeaksReported(int, int) {}
