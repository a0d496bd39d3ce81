package common

import (
	"reflect"
	"testing"
)

func TestRedactArgv(t *testing.T) {
	cases := []struct {
		name string
		argv []string
		want []string
	}{
		{
			name: "authorization header",
			argv: []string{"curl", "-H", "Authorization: Bearer abc123", "https://api.example.com"},
			want: []string{"curl", "-H", "Authorization: ***", "https://api.example.com"},
		},
		{
			name: "key value token",
			argv: []string{"tool", "token=abc123"},
			want: []string{"tool", "token=***"},
		},
		{
			name: "password flag",
			argv: []string{"mysql", "--password", "hunter2"},
			want: []string{"mysql", "--password", "***"},
		},
		{
			name: "no sensitive args",
			argv: []string{"git", "status"},
			want: []string{"git", "status"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := RedactArgv(tc.argv, false)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("RedactArgv(%v) = %v, want %v", tc.argv, got, tc.want)
			}
		})
	}
}

func TestRedactArgvRawDisablesRedaction(t *testing.T) {
	argv := []string{"curl", "-H", "Authorization: Bearer abc123"}
	got := RedactArgv(argv, true)
	if !reflect.DeepEqual(got, argv) {
		t.Fatalf("raw mode should not redact, got %v", got)
	}
}

func TestPushCallStackDedupAndCap(t *testing.T) {
	var stack []string
	for i := 0; i < 10; i++ {
		stack = PushCallStack(stack, "git")
	}
	if len(stack) != 1 {
		t.Fatalf("adjacent duplicates should collapse, got %v", stack)
	}

	stack = nil
	for i := 0; i < MaxCallStack+3; i++ {
		stack = PushCallStack(stack, string(rune('a'+i)))
	}
	if len(stack) != MaxCallStack {
		t.Fatalf("expected stack capped at %d, got %d (%v)", MaxCallStack, len(stack), stack)
	}
}
