package copier

import "time"

// Sink receives progress percentages for a job. Implementations are called
// from the copy goroutine and from the periodic notifier, never concurrently
// for the same job, and must be safe to read from elsewhere.
type Sink interface {
	Progress(identity string, percent int)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(identity string, percent int)

func (f SinkFunc) Progress(identity string, percent int) { f(identity, percent) }

type discardSink struct{}

func (discardSink) Progress(string, int) {}

// advance records one finished file operation and pushes the new percentage.
func (p *Pipeline) advance(job *Job) {
	job.sendMu.Lock()
	defer job.sendMu.Unlock()
	job.completed.Add(1)
	p.sendLocked(job)
}

// resend pushes the current percentage without advancing. Used by the
// periodic notifier.
func (p *Pipeline) resend(job *Job) {
	job.sendMu.Lock()
	defer job.sendMu.Unlock()
	if job.isDone() {
		return
	}
	p.sendLocked(job)
}

func (p *Pipeline) sendLocked(job *Job) {
	pct := job.Percent()
	if pct < job.lastSent {
		return
	}
	job.lastSent = pct
	p.sink.Progress(job.Identity, pct)
}

// notify re-sends the current percentage every interval until the job ends.
func (p *Pipeline) notify(job *Job) {
	if p.progressInterval <= 0 {
		return
	}
	ticker := time.NewTicker(p.progressInterval)
	defer ticker.Stop()
	for {
		select {
		case <-job.Done():
			return
		case <-ticker.C:
			p.resend(job)
		}
	}
}
