package prom

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	xhttp "github.com/nimasrn/smpp-transport/pkg/http"
	"github.com/nimasrn/smpp-transport/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

const (
	SystemSession = "session"
	SystemQueue   = "queue"
	SystemSMS     = "sms"
	SystemHTTP    = "http"
	SystemWorker  = "worker"
)
const (
	MetricSessionState      = "state"
	MetricSessionReconnects = "reconnects_total"
	MetricSubmitResults     = "submit_results_total"
	MetricSubmitLatency     = "submit_latency_seconds"
	MetricReceipts          = "receipts_total"
	MetricQueueDepth        = "depth"
	MetricFinalStatus       = "final_status_total"
	MetricEndToEndDuration  = "end_to_end_duration_seconds"
	MetricHTTPRequests      = "requests_total"
	MetricHTTPDuration      = "request_duration_seconds"
	MetricWorkerSize        = "size"
	MetricWorkerBacklog     = "backlog"
	MetricWorkerActive      = "active"
)

const (
	TypeCounter      = "counter"
	TypeCounterVec   = "counterVec"
	TypeHistogram    = "histogram"
	TypeHistogramVec = "histogramVec"
	TypeGaugeVec     = "gaugeVec"
)

var lockCreateMetricLock = &sync.Mutex{}
var namespace = "none"

var MetricSystemEnabled = false

var MetricCollectionCounters = make(map[string]prometheus.Counter)
var MetricCollectionCounterVec = make(map[string]*prometheus.CounterVec)
var MetricCollectionGaugeVec = make(map[string]*prometheus.GaugeVec)
var MetricCollectionHistogram = make(map[string]prometheus.Histogram)
var MetricCollectionHistogramVec = make(map[string]*prometheus.HistogramVec)

var defaultLabels prometheus.Labels

func Create(host string, env string, nameSpace string) error {
	defaultLabels = make(prometheus.Labels)
	defaultLabels["env"] = env
	defaultLabels["instance"] = host
	namespace = nameSpace
	MetricSystemEnabled = true

	var err error
	hasError := func(e error) {
		if err == nil && e != nil {
			err = e
		}
	}

	hasError(createGaugeVec(SystemSession, MetricSessionState, []string{"state"}))
	hasError(createCounter(SystemSession, MetricSessionReconnects))
	hasError(createCounterVec(SystemSession, MetricSubmitResults, []string{"result"}))
	hasError(createHistogram(SystemSession, MetricSubmitLatency))
	hasError(createCounterVec(SystemSession, MetricReceipts, []string{"state"}))
	hasError(createGaugeVec(SystemQueue, MetricQueueDepth, []string{"priority"}))
	hasError(createCounterVec(SystemSMS, MetricFinalStatus, []string{"status", "priority"}))
	hasError(createHistogramVec(SystemSMS, MetricEndToEndDuration, []string{"priority"}))
	hasError(createCounterVec(SystemHTTP, MetricHTTPRequests, []string{"method", "route", "status"}))
	hasError(createHistogramVec(SystemHTTP, MetricHTTPDuration, []string{"route"}))
	hasError(createGaugeVec(SystemWorker, MetricWorkerSize, []string{"pool"}))
	hasError(createGaugeVec(SystemWorker, MetricWorkerBacklog, []string{"pool"}))
	hasError(createGaugeVec(SystemWorker, MetricWorkerActive, []string{"pool"}))

	return err
}

func CreateMetric(metricType, metricSubsystem, metricName string, labelsValues ...string) error {
	switch metricType {
	case TypeCounter:
		return createCounter(metricSubsystem, metricName)
	case TypeCounterVec:
		return createCounterVec(metricSubsystem, metricName, labelsValues)
	case TypeHistogram:
		return createHistogram(metricSubsystem, metricName)
	case TypeHistogramVec:
		return createHistogramVec(metricSubsystem, metricName, labelsValues)
	case TypeGaugeVec:
		return createGaugeVec(metricSubsystem, metricName, labelsValues)
	}
	return fmt.Errorf("metric type %s is not defined", metricType)
}

func ListenAndServer(port string, url string) {
	hh := fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
	s := xhttp.CreateServer()
	s.GET(url, hh)
	logger.Info("[metrics-server] listening...", "url", url)
	if err := s.ListenAndServe(port); err != nil {
		logger.Panic("[metrics-server] http listen error", "error", err)
	}
}

func createCounter(subsystem, name string) error {
	lockCreateMetricLock.Lock()
	defer lockCreateMetricLock.Unlock()
	MetricCollectionCounters[subsystem+name] = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		Help:        "",
		ConstLabels: defaultLabels,
	})
	return prometheus.Register(MetricCollectionCounters[subsystem+name])
}

func createCounterVec(subsystem, name string, labels []string) error {
	lockCreateMetricLock.Lock()
	defer lockCreateMetricLock.Unlock()
	MetricCollectionCounterVec[subsystem+name] = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		Help:        "",
		ConstLabels: defaultLabels,
	}, labels)
	return prometheus.Register(MetricCollectionCounterVec[subsystem+name])
}

func createHistogram(subsystem, name string) error {
	lockCreateMetricLock.Lock()
	defer lockCreateMetricLock.Unlock()
	MetricCollectionHistogram[subsystem+name] = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		Help:        "",
		ConstLabels: defaultLabels,
		Buckets:     prometheus.DefBuckets,
	})
	return prometheus.Register(MetricCollectionHistogram[subsystem+name])
}

func createHistogramVec(subsystem, name string, labels []string) error {
	lockCreateMetricLock.Lock()
	defer lockCreateMetricLock.Unlock()
	MetricCollectionHistogramVec[subsystem+name] = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		Help:        "",
		ConstLabels: defaultLabels,
	}, labels)
	return prometheus.Register(MetricCollectionHistogramVec[subsystem+name])
}

func createGaugeVec(subsystem, name string, labels []string) error {
	lockCreateMetricLock.Lock()
	defer lockCreateMetricLock.Unlock()

	MetricCollectionGaugeVec[subsystem+name] = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		Help:        "",
		ConstLabels: defaultLabels,
	}, labels)
	return prometheus.Register(MetricCollectionGaugeVec[subsystem+name])
}

func IncCounter(subsystem, name string) {
	AddCounter(subsystem, name, 1)
}

func AddCounter(subsystem, name string, number float64) {
	if MetricSystemEnabled == false {
		return
	}
	if v, ok := MetricCollectionCounters[subsystem+name]; ok {
		v.Add(number)
		return
	}
	logger.Warn("[metrics-server] counter not found", "subsystem", subsystem, "name", name)
}

func IncGaugeVec(subsystem, name string, labelValues ...string) {
	AddGaugeVec(subsystem, name, 1, labelValues...)
}

func AddGaugeVec(subsystem, name string, num float64, labelValues ...string) {
	if MetricSystemEnabled == false {
		return
	}
	if v, ok := MetricCollectionGaugeVec[subsystem+name]; ok {
		v.WithLabelValues(labelValues...).Add(num)
		return
	}
	logger.Warn("[metrics-server] gauge not found", "subsystem", subsystem, "name", name)
}

func AddCounterVec(subsystem, name string, num float64, labelValues ...string) {
	if MetricSystemEnabled == false {
		return
	}
	if v, ok := MetricCollectionCounterVec[subsystem+name]; ok {
		v.WithLabelValues(labelValues...).Add(num)
		return
	}
	logger.Warn("[metrics-server] counter vec not found", "subsystem", subsystem, "name", name)
}

func IncCounterVec(subsystem, name string, labelValues ...string) {
	AddCounterVec(subsystem, name, 1, labelValues...)
}

func AddHistogram(subsystem, name string, number float64) {
	if MetricSystemEnabled == false {
		return
	}
	if v, ok := MetricCollectionHistogram[subsystem+name]; ok {
		v.Observe(number)
		return
	}
	logger.Warn("[metrics-server] histogram not found", "subsystem", subsystem, "name", name)
}

func AddHistogramVec(subsystem, name string, number float64, labelValues ...string) {
	if MetricSystemEnabled == false {
		return
	}
	if v, ok := MetricCollectionHistogramVec[subsystem+name]; ok {
		v.WithLabelValues(labelValues...).Observe(number)
		return
	}
	logger.Warn("[metrics-server] histogram vec not found", "subsystem", subsystem, "name", name)
}

func SetGaugeVec(subsystem, name string, num float64, labelValues ...string) {
	if MetricSystemEnabled == false {
		return
	}
	if v, ok := MetricCollectionGaugeVec[subsystem+name]; ok {
		v.WithLabelValues(labelValues...).Set(num)
		return
	}
	logger.Warn("[metrics-server] gauge not found", "subsystem", subsystem, "name", name)
}

var sessionStates = []string{"disconnected", "connecting", "bind_pending", "bound", "closing"}

// SetSessionState flags the current session state with 1 and every other state with 0.
func SetSessionState(state string) {
	for _, s := range sessionStates {
		v := 0.0
		if s == state {
			v = 1
		}
		SetGaugeVec(SystemSession, MetricSessionState, v, s)
	}
}

func IncSessionReconnect() {
	IncCounter(SystemSession, MetricSessionReconnects)
}

func IncSubmitResult(result string) {
	IncCounterVec(SystemSession, MetricSubmitResults, result)
}

// ObserveSubmitLatency records the time from sending submit_sm to its response.
func ObserveSubmitLatency(d time.Duration) {
	AddHistogram(SystemSession, MetricSubmitLatency, d.Seconds())
}

func IncReceipt(state string) {
	IncCounterVec(SystemSession, MetricReceipts, state)
}

func SetQueueDepth(priority string, depth int64) {
	SetGaugeVec(SystemQueue, MetricQueueDepth, float64(depth), priority)
}

func AddFinalStatus(status, priority string, duration float64) {
	IncCounterVec(SystemSMS, MetricFinalStatus, status, priority)
	AddHistogramVec(SystemSMS, MetricEndToEndDuration, duration, priority)
}

// ObserveHTTPRequest matches xhttp.ObserveFunc.
func ObserveHTTPRequest(method, route string, status int, latency time.Duration) {
	IncCounterVec(SystemHTTP, MetricHTTPRequests, method, route, strconv.Itoa(status))
	AddHistogramVec(SystemHTTP, MetricHTTPDuration, latency.Seconds(), route)
}

// SetWorkerPool publishes the pool size and the jobs waiting for a free worker.
func SetWorkerPool(pool string, size int, backlog int64) {
	SetGaugeVec(SystemWorker, MetricWorkerSize, float64(size), pool)
	SetGaugeVec(SystemWorker, MetricWorkerBacklog, float64(backlog), pool)
}

func WorkerStarted(pool string) {
	IncGaugeVec(SystemWorker, MetricWorkerActive, pool)
}

func WorkerFinished(pool string) {
	AddGaugeVec(SystemWorker, MetricWorkerActive, -1, pool)
}
