package disk

import (
	"encoding/json"
	"testing"
)

func TestDiskTypeOrdering(t *testing.T) {
	all := AllTypes()
	for i := 0; i < len(all); i++ {
		for j := i + 1; j < len(all); j++ {
			if !(all[i] < all[j]) {
				t.Errorf("expected %s < %s", all[i], all[j])
			}
		}
	}
	if !(HDD < HDD4K && HDD4K < SATA && SATA < NAND && NAND < Optane) {
		t.Error("expected hdd < hdd4k < sata < nand < optane")
	}
}

func TestParseType(t *testing.T) {
	tests := []struct {
		input string
		want  DiskType
	}{
		{"hdd", HDD},
		{"hdd4k", HDD4K},
		{"SATA", SATA},
		{" nand ", NAND},
		{"optane", Optane},
	}
	for _, tc := range tests {
		got, err := ParseType(tc.input)
		if err != nil {
			t.Fatalf("ParseType(%q): %v", tc.input, err)
		}
		if got != tc.want {
			t.Errorf("ParseType(%q) = %s, expected %s", tc.input, got, tc.want)
		}
	}
	if _, err := ParseType("floppy"); err == nil {
		t.Error("expected error for unknown type")
	}
}

func TestRecordJSON(t *testing.T) {
	rec := Record{Type: HDD4K, Path: "/dev/disk/by-id/wwn-0x5000", Serial: "S1", BlockSize: 4096, Size: 1 << 40}
	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"type":"hdd4k","path":"/dev/disk/by-id/wwn-0x5000","serial":"S1","blocksize":4096,"size":1099511627776}`
	if string(data) != want {
		t.Errorf("expected %s, got %s", want, data)
	}

	var back Record
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if back != rec {
		t.Errorf("expected %+v, got %+v", rec, back)
	}
}

func TestIsNVMe(t *testing.T) {
	for _, dt := range AllTypes() {
		want := dt == NAND || dt == Optane
		if dt.IsNVMe() != want {
			t.Errorf("%s.IsNVMe() = %v, expected %v", dt, dt.IsNVMe(), want)
		}
	}
}
