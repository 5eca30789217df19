package version

import (
	"fmt"
	"runtime"
)

// Version represents the current version of elfscope.
type Version struct {
	Major    string
	Minor    string
	Patch    string
	Metadata string
	Build    string
}

// ElfscopeVersion is the current version of elfscope.
var ElfscopeVersion = Version{
	Major: "0", Minor: "9", Patch: "2", Metadata: "",
	Build: "$Id$",
}

func (v Version) String() string {
	fixBuild(&v)
	ver := fmt.Sprintf("Version: %s.%s.%s", v.Major, v.Minor, v.Patch)
	if v.Metadata != "" {
		ver += "-" + v.Metadata
	}
	return fmt.Sprintf("%s\nBuild: %s", ver, v.Build)
}

var buildInfo = func() string {
	return ""
}

func BuildInfo() string {
	return fmt.Sprintf("%s\n%s", runtime.Version(), buildInfo())
}

// fixBuild is replaced at init time on toolchains that expose VCS build
// settings. The default keeps whatever the build system stamped in.
var fixBuild = func(v *Version) {}
