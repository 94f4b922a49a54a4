package ir

import "fmt"

// Mode distinguishes managed resources from read-only data sources.
type Mode string

const (
	ModeManaged Mode = "managed"
	ModeData    Mode = "data"
)

// Identity uniquely identifies a resource within a configuration.
type Identity struct {
	Mode Mode
	Type string
	Name string
}

// String returns the canonical address, e.g. "aws_instance.web" or
// "data.aws_ami.ubuntu".
func (id Identity) String() string {
	if id.Mode == ModeData {
		return fmt.Sprintf("data.%s.%s", id.Type, id.Name)
	}
	return fmt.Sprintf("%s.%s", id.Type, id.Name)
}

// Lifecycle holds per-resource lifecycle policy.
type Lifecycle struct {
	CreateBeforeDestroy bool
	PreventDestroy      bool
	IgnoreChanges       []string
}
