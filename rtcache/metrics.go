package rtcache

import (
	"time"

	"github.com/hkwi/rtnl/rtobj"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is safe to use as a nil pointer, which records nothing.
type Metrics struct {
	Objects      *prometheus.GaugeVec
	Generation   prometheus.Gauge
	Deltas       *prometheus.CounterVec
	DecodeErrors prometheus.Counter
	Overruns     prometheus.Counter
	Exchange     *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		Objects: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "rtnl",
			Name:      "cache_objects",
			Help:      "Objects held in the cache.",
		}, []string{"kind"}),
		Generation: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rtnl",
			Name:      "cache_generation",
			Help:      "Number of full refreshes applied to the cache.",
		}),
		Deltas: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rtnl",
			Name:      "deltas_total",
			Help:      "Changes applied to the cache.",
		}, []string{"kind", "event"}),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rtnl",
			Name:      "decode_errors_total",
			Help:      "Messages skipped because they could not be decoded.",
		}),
		Overruns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rtnl",
			Name:      "overruns_total",
			Help:      "Notification socket overruns.",
		}),
		Exchange: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rtnl",
			Name:      "exchange_seconds",
			Help:      "Duration of request/response exchanges.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"request", "result"}),
	}
}

func (self *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{self.Objects, self.Generation, self.Deltas, self.DecodeErrors, self.Overruns, self.Exchange} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (self *Metrics) objects(kind rtobj.Kind, n int) {
	if self != nil {
		self.Objects.WithLabelValues(kind.String()).Set(float64(n))
	}
}

func (self *Metrics) generation(gen uint64) {
	if self != nil {
		self.Generation.Set(float64(gen))
	}
}

func (self *Metrics) delta(kind rtobj.Kind, t EventType) {
	if self != nil {
		self.Deltas.WithLabelValues(kind.String(), t.String()).Inc()
	}
}

func (self *Metrics) decodeError() {
	if self != nil {
		self.DecodeErrors.Inc()
	}
}

func (self *Metrics) overrun() {
	if self != nil {
		self.Overruns.Inc()
	}
}

func (self *Metrics) exchange(request string, start time.Time, err error) {
	if self == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	self.Exchange.WithLabelValues(request, result).Observe(time.Since(start).Seconds())
}
