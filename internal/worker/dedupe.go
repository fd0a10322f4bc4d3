package worker

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/fairyhunter13/ai-table-enricher/internal/adapter/observability"
	"github.com/fairyhunter13/ai-table-enricher/pkg/textx"
)

// Fingerprinter derives the dedupe key for one prompt invocation. The HMAC
// key mixes the process-wide secret with the job owner's user id so
// fingerprints are not portable across users.
type Fingerprinter struct {
	key []byte
}

// NewFingerprinter builds a fingerprinter for one job.
func NewFingerprinter(secret, userID string) *Fingerprinter {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(userID))
	return &Fingerprinter{key: mac.Sum(nil)}
}

// Fingerprint returns the hex HMAC-SHA-256 of the canonical invocation form.
// Only options that affect model output participate; for this system that is
// the temperature, which is fixed at zero.
func (f *Fingerprinter) Fingerprint(promptID, provider, modelID, systemText, userText string, temperature float64) string {
	mac := hmac.New(sha256.New, f.key)
	fmt.Fprintf(mac, "promptId=%s\x00provider=%s\x00model=%s\x00system=%s\x00user=%s\x00temperature=%g",
		promptID, provider, modelID, textx.Normalize(systemText), textx.Normalize(userText), temperature)
	return hex.EncodeToString(mac.Sum(nil))
}

// pendingCall is an in-flight dedupe entry. In the single-task row loop the
// channel is already closed by the time a second lookup could observe it, but
// the await path stays correct if the loop is ever driven concurrently.
type pendingCall struct {
	done    chan struct{}
	content string
	err     error
}

func (p *pendingCall) resolve(content string) {
	p.content = content
	close(p.done)
}

func (p *pendingCall) fail(err error) {
	p.err = err
	close(p.done)
}

// Await blocks until the call settles and returns its outcome.
func (p *pendingCall) Await() (string, error) {
	<-p.done
	return p.content, p.err
}

// DedupeCache collapses identical prompt invocations within one row-loop run.
// Successful results are memoized for the rest of the run; failures never
// populate the cache. Scoped per prompt so identical text under different
// output columns stays distinct.
type DedupeCache struct {
	enabled  bool
	resolved map[string]map[string]string
	inflight map[string]map[string]*pendingCall
}

// NewDedupeCache constructs a cache. A disabled cache reports every lookup as
// a miss and ignores registrations.
func NewDedupeCache(enabled bool) *DedupeCache {
	return &DedupeCache{
		enabled:  enabled,
		resolved: make(map[string]map[string]string),
		inflight: make(map[string]map[string]*pendingCall),
	}
}

// lookupResult tags the three lookup outcomes.
type lookupResult int

const (
	lookupMiss lookupResult = iota
	lookupResolved
	lookupInFlight
)

// Lookup consults the cache for (promptID, fingerprint).
func (c *DedupeCache) Lookup(promptID, fp string) (lookupResult, string, *pendingCall) {
	if !c.enabled {
		return lookupMiss, "", nil
	}
	if content, ok := c.resolved[promptID][fp]; ok {
		observability.DedupeLookupsTotal.WithLabelValues("hit").Inc()
		return lookupResolved, content, nil
	}
	if p, ok := c.inflight[promptID][fp]; ok {
		observability.DedupeLookupsTotal.WithLabelValues("inflight").Inc()
		return lookupInFlight, "", p
	}
	observability.DedupeLookupsTotal.WithLabelValues("miss").Inc()
	return lookupMiss, "", nil
}

// Register installs an in-flight entry and returns it. Returns nil when the
// cache is disabled.
func (c *DedupeCache) Register(promptID, fp string) *pendingCall {
	if !c.enabled {
		return nil
	}
	p := &pendingCall{done: make(chan struct{})}
	m, ok := c.inflight[promptID]
	if !ok {
		m = make(map[string]*pendingCall)
		c.inflight[promptID] = m
	}
	m[fp] = p
	return p
}

// Resolve replaces an in-flight entry with resolved content. Call only on
// upstream success.
func (c *DedupeCache) Resolve(promptID, fp, content string) {
	if !c.enabled {
		return
	}
	if p, ok := c.inflight[promptID][fp]; ok {
		p.resolve(content)
		delete(c.inflight[promptID], fp)
	}
	m, ok := c.resolved[promptID]
	if !ok {
		m = make(map[string]string)
		c.resolved[promptID] = m
	}
	m[fp] = content
}

// Unregister drops an in-flight entry after a failed call, propagating the
// failure to any waiters.
func (c *DedupeCache) Unregister(promptID, fp string, err error) {
	if !c.enabled {
		return
	}
	if p, ok := c.inflight[promptID][fp]; ok {
		p.fail(err)
		delete(c.inflight[promptID], fp)
	}
}

// CallStats tracks the dedupe accounting the loop reports at completion.
type CallStats struct {
	PlannedRequests int
	LLMCallsMade    int
	CacheHits       int
	InFlightHits    int
	Skipped         int
}
