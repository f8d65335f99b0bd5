package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInterruptHandler_Message(t *testing.T) {
	var out bytes.Buffer
	h := NewInterruptHandler(&out)
	h.SetResumeHint("pinflow try --suid abc")

	assert.False(t, h.WasInterrupted())
	h.interrupt()
	h.interrupt()

	assert.True(t, h.WasInterrupted())
	assert.Contains(t, out.String(), "Funnel interrupted!")
	assert.Contains(t, out.String(), "pinflow try --suid abc")
	assert.Equal(t, 1, strings.Count(out.String(), "Funnel interrupted!"))
}

func TestInterruptHandler_NoHint(t *testing.T) {
	var out bytes.Buffer
	h := NewInterruptHandler(&out)
	h.interrupt()

	assert.NotContains(t, out.String(), "Resume with")
}
