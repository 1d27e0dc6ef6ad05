package report

import (
	"fmt"
	"io"

	"github.com/jstemmer/go-junit-report/v2/junit"
)

// JUnit renders inv as a single test suite: one passing testcase per
// discovered disk and one testcase per requirement, failed when no disk
// satisfied it.
func JUnit(inv *Inventory) junit.Testsuites {
	suite := junit.Testsuite{
		Name:     "disk-harness",
		Hostname: inv.Target,
		Time:     "0.000",
	}
	suite.SetTimestamp(inv.GeneratedAt)
	suite.AddProperty("run_id", inv.RunID)
	suite.AddProperty("target", inv.Target)

	for _, d := range inv.Disks {
		suite.AddTestcase(junit.Testcase{
			Classname: "discovery",
			Name:      fmt.Sprintf("%s %s", d.Type, d.Path),
			Time:      "0.000",
			SystemOut: &junit.Output{Data: fmt.Sprintf("serial: %s\nblock size: %d\nsize: %s",
				d.Serial, d.BlockSize, d.SizeHuman)},
		})
	}

	for _, r := range inv.Requirements {
		tc := junit.Testcase{
			Classname: "requirements",
			Name:      r.Name,
			Time:      "0.000",
		}
		if r.Satisfied {
			tc.SystemOut = &junit.Output{Data: "assigned " + r.Disk}
		} else {
			tc.Failure = &junit.Result{
				Message: "no disk satisfies requirement",
				Type:    "unsatisfied",
				Data:    string(r.Constraint),
			}
		}
		suite.AddTestcase(tc)
	}

	var suites junit.Testsuites
	suites.AddSuite(suite)
	return suites
}

// WriteJUnit writes the JUnit XML of inv to w.
func WriteJUnit(w io.Writer, inv *Inventory) error {
	suites := JUnit(inv)
	return suites.WriteXML(w)
}
