package task

import "testing"

func TestStatusIsError(t *testing.T) {
	cases := []struct {
		msg  string
		want bool
	}{
		{"Error: workbook is corrupt", true},
		{"  Error: leading space", true},
		{"Ошибка: не найдены столбцы", true},
		{"Processing", false},
		{"", false},
		{"No Error here", false},
	}
	for _, tc := range cases {
		if got := (Status{Message: tc.msg}).IsError(); got != tc.want {
			t.Fatalf("IsError(%q) = %v, want %v", tc.msg, got, tc.want)
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	if (Status{Progress: 40, Message: "Processing"}).Terminal() {
		t.Fatalf("40%% processing must not be terminal")
	}
	if !(Status{Progress: 100, Message: "Done"}).Terminal() {
		t.Fatalf("100%% must be terminal")
	}
	if !(Status{Progress: 10, ResultFile: "out.xlsx"}).Terminal() {
		t.Fatalf("result file must be terminal")
	}
	if !(Status{Progress: 30, Message: "Error: boom"}).Terminal() {
		t.Fatalf("error message must be terminal")
	}
	if (Status{}).Terminal() {
		t.Fatalf("empty snapshot must not be terminal")
	}
}
