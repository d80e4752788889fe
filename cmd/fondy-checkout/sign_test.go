package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/viper"
)

func TestSignArgs(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		args     []string
		json     string
		expected string
	}{
		"pairs": {
			args:     []string{"currency=X", "amount=100"},
			expected: "9f8793c9a3f7de565257d35e4c873b6741871f9b",
		},
		"json skips nested values": {
			json:     `{"amount":100,"currency":"X","meta":{"a":1}}`,
			expected: "9f8793c9a3f7de565257d35e4c873b6741871f9b",
		},
	}

	for name, tc := range tests {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			got, err := signArgs("test", tc.args, tc.json != "", strings.NewReader(tc.json))
			if err != nil {
				t.Fatalf("signArgs: %v", err)
			}
			if got != tc.expected {
				t.Fatalf("expected %s, got %s", tc.expected, got)
			}
		})
	}
}

func TestSignArgsRejectsMalformedPair(t *testing.T) {
	t.Parallel()
	if _, err := signArgs("test", []string{"amount"}, false, nil); err == nil {
		t.Fatal("expected error for argument without '='")
	}
}

func TestSignCommandPrintsOnlyDigest(t *testing.T) {
	v := viper.New()
	cmd := newRootCmd(v)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"sign", "--secret", "s", "b=2", "a=1"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != "d23e993c700f484f2438f5672232ee0fa523b627" {
		t.Fatalf("unexpected output %q", got)
	}
}
