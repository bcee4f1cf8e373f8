package metrics

type Counter interface {
	Inc()
}

type Metrics struct {
	Enqueued     Counter
	Deduped      Counter
	Dropped      Counter
	Expired      Counter
	Rejected     Counter
	Executed     Counter
	Failed       Counter
	Retries      Counter
	MEVProtected Counter
	BreakerOpen  Counter
	BreakerClose Counter
}

type noopCounter struct{}

func (noopCounter) Inc() {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		Enqueued:     n,
		Deduped:      n,
		Dropped:      n,
		Expired:      n,
		Rejected:     n,
		Executed:     n,
		Failed:       n,
		Retries:      n,
		MEVProtected: n,
		BreakerOpen:  n,
		BreakerClose: n,
	}
}
