// Package metrics holds Prometheus collectors for the token lifecycle
// engine. Defined in a standalone package to avoid import cycles between the
// engine and HTTP packages.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	CodeExchanges = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailvault_code_exchanges_total",
		Help: "Authorization-code exchanges by provider and result",
	}, []string{"provider", "result"}) // result: ok|invalid_state|exchange_failed|profile_failed

	TokenRefreshes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailvault_token_refreshes_total",
		Help: "Refresh-grant attempts by provider and result",
	}, []string{"provider", "result"}) // result: ok|refresh_failed|decrypt_failed

	Disconnects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailvault_disconnects_total",
		Help: "Disconnect operations by provider",
	}, []string{"provider"})
)

// RegisterLifecycle registers the engine metrics on the given registry (or
// the default if nil). Double registration is tolerated for tests.
func RegisterLifecycle(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{CodeExchanges, TokenRefreshes, Disconnects} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}
