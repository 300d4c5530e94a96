package instrumentation

import (
	"time"

	"github.com/peterbourgon/g2s"
)

// Satisfaction guaranteed.
var _ Instrumentation = statsdInstrumentation{}

type statsdInstrumentation struct {
	statter    g2s.Statter
	sampleRate float32
	prefix     string
}

// NewStatsd returns an Instrumentation that forwards metrics to statsd over
// g2s. Bucket names take the form "<prefix>command.<verb>.count" and are
// prefixed with bucketPrefix.
func NewStatsd(statter g2s.Statter, sampleRate float32, bucketPrefix string) Instrumentation {
	return statsdInstrumentation{
		statter:    statter,
		sampleRate: sampleRate,
		prefix:     bucketPrefix,
	}
}

func (i statsdInstrumentation) CommandProcessed(verb string) {
	i.statter.Counter(i.sampleRate, i.prefix+"command."+verb+".count", 1)
}

func (i statsdInstrumentation) CommandDuration(verb string, d time.Duration) {
	i.statter.Timing(i.sampleRate, i.prefix+"command."+verb+".duration", d)
}

func (i statsdInstrumentation) KeyExpired(family string) {
	i.statter.Counter(i.sampleRate, i.prefix+"expired."+family+".count", 1)
}

func (i statsdInstrumentation) SnapshotAttempted() {
	i.statter.Counter(i.sampleRate, i.prefix+"snapshot.attempted.count", 1)
}

func (i statsdInstrumentation) SnapshotSucceeded(d time.Duration) {
	i.statter.Counter(i.sampleRate, i.prefix+"snapshot.succeeded.count", 1)
	i.statter.Timing(i.sampleRate, i.prefix+"snapshot.duration", d)
}

func (i statsdInstrumentation) SnapshotFailed() {
	i.statter.Counter(i.sampleRate, i.prefix+"snapshot.failed.count", 1)
}
