package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Event
	}{
		{"plain", "hello", Event{Kind: KindMessage, Actor: "a", Text: "hello", MessageID: "m"}},
		{"command", "/show", Event{Kind: KindCommand, Actor: "a", Name: "show", MessageID: "m"}},
		{"command with args", "/close now  ", Event{Kind: KindCommand, Actor: "a", Name: "close", Text: "now", MessageID: "m"}},
		{"lone slash", "/", Event{Kind: KindMessage, Actor: "a", Text: "/", MessageID: "m"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseText("a", "m", tt.in))
		})
	}
}
