package raw

import "testing"

func TestEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "  debug ")
	t.Setenv("LOG_CALLER", "on")
	t.Setenv("LOG_COLOR", "FALSE")
	t.Setenv("LOG_JSON", "maybe")
	t.Setenv("LOG_SAMPLE_EVERY", "10")
	t.Setenv("LOG_NEG", "-3")
	t.Setenv("LOG_HEX", "0x10")
	t.Setenv("LEVEL", "warn")

	log := Scope("LOG_")
	if got := log.String("LEVEL", "info"); got != "debug" {
		t.Fatalf("String(LEVEL) = %q", got)
	}
	if got := Scope("").String("LEVEL", "info"); got != "warn" {
		t.Fatalf("unprefixed String(LEVEL) = %q", got)
	}
	if got := log.String("MISSING", "info"); got != "info" {
		t.Fatalf("String(MISSING) = %q", got)
	}

	bools := []struct {
		key  string
		def  bool
		want bool
	}{
		{"CALLER", false, true},
		{"COLOR", true, false},
		{"JSON", true, true},
		{"MISSING", false, false},
	}
	for _, b := range bools {
		if got := log.Bool(b.key, b.def); got != b.want {
			t.Errorf("Bool(%s, %v) = %v, want %v", b.key, b.def, got, b.want)
		}
	}

	ints := map[string]int{"SAMPLE_EVERY": 10, "NEG": 5, "HEX": 5, "MISSING": 5}
	for key, want := range ints {
		if got := log.Int(key, 5); got != want {
			t.Errorf("Int(%s) = %d, want %d", key, got, want)
		}
	}
}
