package buildinfo

import (
	"runtime/debug"
)

const modulePath = "github.com/coder/monacoharness"

var version string

func init() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	version = versionFrom(info)
}

// versionFrom finds this module's version whether it was built as the main
// module (the CLI) or pulled in as a dependency of a test suite.
func versionFrom(info *debug.BuildInfo) string {
	if info.Main.Path == modulePath && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}

	for _, dep := range info.Deps {
		if dep.Path != modulePath {
			continue
		}
		if dep.Replace != nil && dep.Replace.Version != "" {
			return dep.Replace.Version
		}
		return dep.Version
	}

	return ""
}

func Version() string {
	if version == "" {
		return "unknown"
	}
	return version
}
