package amqp

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mcoot/bunker/internal/model"
)

func TestRoutingKeyEscapesTopicSyntax(t *testing.T) {
	tests := []struct {
		lobby model.LobbyName
		want  string
	}{
		{"alpha", "alpha"},
		{"a.b", "a%2Eb"},
		{"all#", "all%23"},
		{"x*y", "x%2Ay"},
		{"50%", "50%25"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RoutingKey(tt.lobby), string(tt.lobby))
	}
}

func TestRoutingKeysAreDistinct(t *testing.T) {
	assert.NotEqual(t, RoutingKey("a.b"), RoutingKey("a%2Eb"))
}
