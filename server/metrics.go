package server

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
)

var requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "oauth2",
	Name:      "request_duration_seconds",
	Help:      "Histogram of request durations per endpoint.",
	Buckets:   prometheus.LinearBuckets(0.01, 0.01, 10),
},
	[]string{"endpoint", "status"},
)

var tokensIssued = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "oauth2",
	Name:      "tokens_issued_total",
	Help:      "Number of tokens issued, per grant.",
},
	[]string{"grant"},
)

func init() {
	prometheus.MustRegister(requestDuration)
	prometheus.MustRegister(tokensIssued)
}

type httpHandler func(w http.ResponseWriter, r *http.Request)

type statefulWriter struct {
	http.ResponseWriter
	Status int
}

func (w *statefulWriter) WriteHeader(status int) {
	w.Status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statefulWriter) Write(b []byte) (int, error) {
	if w.Status == 0 {
		w.Status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

func timedHandler(f httpHandler, endpointName string) httpHandler {
	observer := requestDuration.MustCurryWith(prometheus.Labels{"endpoint": endpointName})
	return func(w http.ResponseWriter, r *http.Request) {
		writer := &statefulWriter{ResponseWriter: w}
		timer := prometheus.NewTimer(prometheus.ObserverFunc(func(v float64) {
			observer.WithLabelValues(fmt.Sprintf("%d", writer.Status)).Observe(v)
		}))
		defer timer.ObserveDuration()
		f(writer, r)
	}
}
