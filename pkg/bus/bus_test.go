package bus

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

type idEvent string

func (e idEvent) MsgID() string { return string(e) }

func TestMsgID(t *testing.T) {
	assert.Equal(t, "session-1:started", MsgID(idEvent("session-1:started")))
	assert.Equal(t, MsgID(idEvent("a")), MsgID(idEvent("a")), "stable across retries")

	tests := []struct {
		name string
		v    any
	}{
		{name: "plain value", v: map[string]string{"k": "v"}},
		{name: "empty id", v: idEvent("")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first := MsgID(tt.v)
			_, err := uuid.Parse(first)
			assert.NoError(t, err)
			assert.NotEqual(t, first, MsgID(tt.v))
		})
	}
}
