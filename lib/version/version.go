package version

import (
	"fmt"
)

const Name = "swarmwatch"

var Major = "0"

var Minor = "3"

var Patch = "1"

var Git string

func Version() string {
	v := fmt.Sprintf("%s-%s.%s.%s", Name, Major, Minor, Patch)
	if len(Git) > 0 {
		v += fmt.Sprintf("-%s", Git)
	}
	return v
}

// UserAgent is sent on every outbound http request
func UserAgent() string {
	return fmt.Sprintf("%s/%s.%s.%s", Name, Major, Minor, Patch)
}
