package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Version and Commit are stamped with -ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
)

var (
	buildInfoOnce sync.Once

	// buildInfo: gauge со статич. значением 1 и метками версии/коммита.
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Ledger service build information.",
		},
		[]string{"version", "commit", "service"},
	)
)

// InitBuildInfo регистрирует build_info (однократно) и выставляет значение для service.
func InitBuildInfo(service string) {
	buildInfoOnce.Do(func() {
		prometheus.MustRegister(buildInfo)
	})
	buildInfo.WithLabelValues(Version, Commit, service).Set(1)
}
