package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfoOnce sync.Once

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Admin auth service build information.",
		},
		[]string{"version", "commit", "env"},
	)
)

// InitBuildInfo registers build_info once and sets the labelled sample to 1.
func InitBuildInfo(version, commit, env string) {
	buildInfoOnce.Do(func() {
		prometheus.MustRegister(buildInfo)
	})
	buildInfo.WithLabelValues(version, commit, env).Set(1)
}
