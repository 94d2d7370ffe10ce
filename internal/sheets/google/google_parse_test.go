package google

import (
	"reflect"
	"testing"
)

func TestMatchingRows(t *testing.T) {
	values := [][]interface{}{
		{"execution_id"},
		{"a"},
		{" a "},
		{},
		{"b"},
		{"a"},
	}
	got := matchingRows(values, "a")
	if want := []int{2, 3, 6}; !reflect.DeepEqual(got, want) {
		t.Errorf("matchingRows = %v, want %v", got, want)
	}
}

func TestRowRangesGroupsConsecutiveRows(t *testing.T) {
	got := rowRanges("Allocations", []int{2, 3, 4, 7, 9, 10})
	want := []string{"Allocations!A2:Q4", "Allocations!A7:Q7", "Allocations!A9:Q10"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("rowRanges = %v, want %v", got, want)
	}
}

func TestColumnName(t *testing.T) {
	tests := map[int]string{1: "A", 17: "Q", 26: "Z", 27: "AA", 52: "AZ", 53: "BA"}
	for n, want := range tests {
		if got := columnName(n); got != want {
			t.Errorf("columnName(%d) = %q, want %q", n, got, want)
		}
	}
}
