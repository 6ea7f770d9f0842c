package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Transfer outcomes used as the "result" label
const (
	ResultOK                = "ok"
	ResultNotFound          = "not_found"
	ResultForbidden         = "forbidden"
	ResultInvalidState      = "invalid_state"
	ResultInsufficientFunds = "insufficient_funds"
	ResultInvalidInput      = "invalid_input"
	ResultError             = "error"
)

// Metrics holds the Prometheus collectors of the card service
type Metrics struct {
	Transfers         *prometheus.CounterVec
	TransferredAmount prometheus.Counter
	TransferLatency   prometheus.Histogram
	CardsCreated      prometheus.Counter
	StatusChanges     *prometheus.CounterVec
	CardsExpired      prometheus.Counter
	HTTPRequests      *prometheus.CounterVec
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Transfers: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bankcards_transfers_total",
			Help: "Total number of transfer attempts by result",
		}, []string{"result"}),
		TransferredAmount: factory.NewCounter(prometheus.CounterOpts{
			Name: "bankcards_transferred_amount_total",
			Help: "Sum of completed transfer amounts in minor units",
		}),
		TransferLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "bankcards_transfer_duration_seconds",
			Help:    "Duration of transfer operations",
			Buckets: prometheus.DefBuckets,
		}),
		CardsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "bankcards_cards_created_total",
			Help: "Total number of cards created",
		}),
		StatusChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bankcards_card_status_changes_total",
			Help: "Card status transitions by target status",
		}, []string{"status"}),
		CardsExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "bankcards_cards_expired_by_sweep_total",
			Help: "Cards moved to EXPIRED by the expiry sweep",
		}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bankcards_http_requests_total",
			Help: "HTTP requests by method and status code",
		}, []string{"method", "code"}),
	}
}
