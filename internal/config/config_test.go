package config

import (
	"reflect"
	"testing"
)

func TestSplitList(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"okay", []string{"okay"}},
		{"okay, alright ,sure", []string{"okay", "alright", "sure"}},
		{" , ,", []string{}},
	}
	for _, c := range cases {
		if got := splitList(c.in); !reflect.DeepEqual(got, c.want) {
			t.Errorf("splitList(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestGetEnv(t *testing.T) {
	t.Setenv("DT_TEST_KEY", "value")
	if got := getEnv("DT_TEST_KEY", "fallback"); got != "value" {
		t.Errorf("expected env value, got %q", got)
	}
	if got := getEnv("DT_TEST_MISSING", "fallback"); got != "fallback" {
		t.Errorf("expected fallback, got %q", got)
	}
}
