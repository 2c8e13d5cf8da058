package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Заполняются через -ldflags "-X github.com/vladislavdragonenkov/storefront/internal/version.version=...".
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Build описывает собранный бинарь.
type Build struct {
	Version   string
	Commit    string
	Date      string
	GoVersion string
	Modified  bool
}

// Current собирает Build. Значения, не заданные через ldflags, берутся из VCS-меток go build.
func Current() Build {
	info, _ := debug.ReadBuildInfo()
	return resolve(info)
}

func resolve(info *debug.BuildInfo) Build {
	b := Build{Version: version, Commit: commit, Date: date, GoVersion: runtime.Version()}
	if info == nil {
		return b
	}
	if b.Version == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		b.Version = info.Main.Version
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			if b.Commit == "unknown" {
				b.Commit = shortRevision(s.Value)
			}
		case "vcs.time":
			if b.Date == "unknown" {
				b.Date = s.Value
			}
		case "vcs.modified":
			b.Modified = s.Value == "true"
		}
	}
	return b
}

func shortRevision(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}

// String — строка для `omsctl --version`.
func (b Build) String() string {
	commit := b.Commit
	if b.Modified {
		commit += "-dirty"
	}
	return fmt.Sprintf("storefront version=%s commit=%s date=%s go=%s", b.Version, commit, b.Date, b.GoVersion)
}
