// disk-harness finds, classifies and hot-plugs the test disks of a machine
// under test for storage integration suites.
//
// Usage:
//
//	disk-harness discover                    # list test disks of the local host
//	disk-harness --target root@node1 assign  # assign configured requirements
//	disk-harness unplug BTWL2                # remove a disk through sysfs
//	disk-harness plug BTWL2 --type sata      # rescan and wait for it
package main

import "github.com/escape-velocity-ventures/disk-harness/cmd"

var version = "dev"

func main() {
	cmd.Execute(version)
}
