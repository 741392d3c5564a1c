// Package version holds the version of jobctl and describes the binary it
// was built into.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

// Version represents the current version of jobctl.
type Version struct {
	Major    string
	Minor    string
	Patch    string
	Metadata string
	Build    string
}

// JobctlVersion is the current version of jobctl.
var JobctlVersion = Version{
	Major: "0", Minor: "3", Patch: "0", Metadata: "",
	Build: "$Id$",
}

func (v Version) String() string {
	if strings.HasPrefix(v.Build, "$Id$") {
		v.Build = vcsBuild(readBuildInfo())
	}
	ver := fmt.Sprintf("Version: %s.%s.%s", v.Major, v.Minor, v.Patch)
	if v.Metadata != "" {
		ver += "-" + v.Metadata
	}
	if v.Build == "" {
		return ver
	}
	return fmt.Sprintf("%s\nBuild: %s", ver, v.Build)
}

var readBuildInfo = func() *debug.BuildInfo {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return nil
	}
	return info
}

// vcsBuild returns the revision jobctl was built from, marked dirty when
// the working tree had local changes.
func vcsBuild(info *debug.BuildInfo) string {
	if info == nil {
		return ""
	}
	var rev string
	var modified bool
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			rev = setting.Value
		case "vcs.modified":
			modified = setting.Value == "true"
		}
	}
	if rev != "" && modified {
		rev += "-dirty"
	}
	return rev
}

// BuildInfo describes the toolchain, platform and modules of the running
// binary.
func BuildInfo() string {
	return formatBuildInfo(readBuildInfo())
}

func formatBuildInfo(info *debug.BuildInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Go: %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	if info == nil {
		b.WriteString("Modules: unknown, not built in module mode\n")
		return b.String()
	}
	fmt.Fprintf(&b, "Module: %s %s\n", info.Main.Path, info.Main.Version)
	if len(info.Deps) == 0 {
		return b.String()
	}
	b.WriteString("Dependencies:\n")
	for _, dep := range info.Deps {
		if dep.Replace != nil {
			fmt.Fprintf(&b, "  %s %s (replaced by %s %s)\n", dep.Path, dep.Version, dep.Replace.Path, dep.Replace.Version)
			continue
		}
		fmt.Fprintf(&b, "  %s %s\n", dep.Path, dep.Version)
	}
	return b.String()
}
