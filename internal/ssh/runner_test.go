package ssh

import (
	"testing"
)

func TestParseTarget(t *testing.T) {
	tests := []struct {
		input string
		want  Target
	}{
		{"root@dut-01", Target{User: "root", Host: "dut-01", Port: "22"}},
		{"tester@10.0.0.5:2222", Target{User: "tester", Host: "10.0.0.5", Port: "2222"}},
		{"root@[fe80::1]:22", Target{User: "root", Host: "fe80::1", Port: "22"}},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			got, err := ParseTarget(tc.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("expected %+v, got %+v", tc.want, got)
			}
		})
	}
}

func TestParseTargetInvalid(t *testing.T) {
	for _, input := range []string{"", "dut-01", "@dut-01", "root@"} {
		if _, err := ParseTarget(input); err == nil {
			t.Errorf("expected error for %q", input)
		}
	}
}

func TestTargetString(t *testing.T) {
	if s := (Target{User: "root", Host: "dut", Port: "22"}).String(); s != "root@dut" {
		t.Errorf("expected root@dut, got %s", s)
	}
	if s := (Target{User: "root", Host: "dut", Port: "2222"}).String(); s != "root@dut:2222" {
		t.Errorf("expected root@dut:2222, got %s", s)
	}
	if a := (Target{User: "root", Host: "dut", Port: "2222"}).Addr(); a != "dut:2222" {
		t.Errorf("expected dut:2222, got %s", a)
	}
}
