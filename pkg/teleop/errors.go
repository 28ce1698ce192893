package teleop

import (
	"errors"
	"fmt"
)

// Error classes the follow loop keys its recovery policy on. A
// transient read skips the side for one tick, a rejected command is
// counted toward a fatal stop, an unavailable device downgrades to
// manual or auto-start operation.
var (
	ErrTransientRead     = errors.New("transient read failure")
	ErrControlRejected   = errors.New("external control not accepting commands")
	ErrDeviceUnavailable = errors.New("device unavailable")
)

// ExternalControlRemediation is the operator action required to clear a
// FatalControlLoss on a stock arm installation.
const ExternalControlRemediation = "on the pendant: load ExternalControl.urp, press Play, and enable Remote Control with the host IP set to this machine"

// FatalControlLoss is raised when one side's arm controller keeps
// rejecting commands. It stops the whole loop; the message names the
// external remediation because nothing in-process can fix it.
type FatalControlLoss struct {
	Side        Side
	Consecutive int
	Remediation string
}

func (e *FatalControlLoss) Error() string {
	return fmt.Sprintf("%s arm: control lost after %d consecutive rejected commands; %s",
		e.Side, e.Consecutive, e.Remediation)
}
