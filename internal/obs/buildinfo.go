package obs

import (
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfoOnce sync.Once

	// build_info{version, commit, go_version} 1
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "labd_build_info",
			Help: "labd build information.",
		},
		[]string{"version", "commit", "go_version"},
	)
)

// InitBuildInfo регистрирует метрику build_info (однократно) и устанавливает значение.
// An empty or "dev" commit is taken from the embedded VCS revision when present.
func InitBuildInfo(version, commit string) {
	buildInfoOnce.Do(func() {
		prometheus.MustRegister(buildInfo)
	})
	if commit == "" || commit == "dev" {
		if rev := vcsRevision(); rev != "" {
			commit = rev
		}
	}
	buildInfo.WithLabelValues(version, commit, runtime.Version()).Set(1)
}

func vcsRevision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" {
			if len(s.Value) > 12 {
				return s.Value[:12]
			}
			return s.Value
		}
	}
	return ""
}
