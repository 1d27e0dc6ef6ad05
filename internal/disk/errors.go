package disk

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrContractViolation means an operation was called on a disk without
	// the identifying information it needs.
	ErrContractViolation = errors.New("couldn't check if device is detected by the system: disk has neither serial number nor path")

	// ErrNotResolved is returned by constraints that reference a disk which
	// has not been registered yet.
	ErrNotResolved = errors.New("disk type not resolved")

	// ErrEmptyTypeSet is returned when comparing a constraint whose
	// resolved set is empty.
	ErrEmptyTypeSet = errors.New("empty disk type set")

	// ErrSysfsNotFound means the kernel sysfs address of a disk could not be found.
	ErrSysfsNotFound = errors.New("failed to find sysfs address")

	// ErrTimeout matches every *TimeoutError.
	ErrTimeout = errors.New("plug status timeout")
)

// TimeoutError reports a plug or unplug that did not settle in time.
type TimeoutError struct {
	Type    DiskType
	Action  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout occurred while trying to %s %s disk (waited %s)", e.Action, e.Type, e.Timeout)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}
