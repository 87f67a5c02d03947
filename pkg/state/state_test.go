package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/surveyease/surveyease/pkg/models"
)

func TestParseLabel(t *testing.T) {
	t.Run("question node", func(t *testing.T) {
		l, err := ParseLabel("0_q")
		require.NoError(t, err)
		assert.Equal(t, NodeQuestion, l.Kind)
		assert.Equal(t, 0, l.Index)
	})

	t.Run("answer node", func(t *testing.T) {
		l, err := ParseLabel("12_a")
		require.NoError(t, err)
		assert.Equal(t, NodeAnswer, l.Kind)
		assert.Equal(t, 12, l.Index)
	})

	t.Run("terminal node", func(t *testing.T) {
		l, err := ParseLabel("end_survey")
		require.NoError(t, err)
		assert.Equal(t, NodeEnd, l.Kind)
	})

	t.Run("rejects garbage", func(t *testing.T) {
		for _, bad := range []string{"", "q_0", "x_q", "-1_a", "3_z", "end"} {
			_, err := ParseLabel(bad)
			assert.Error(t, err, "label %q should be rejected", bad)
		}
	})

	t.Run("round-trips through String", func(t *testing.T) {
		for _, s := range []string{"0_q", "5_a", "end_survey"} {
			l, err := ParseLabel(s)
			require.NoError(t, err)
			assert.Equal(t, s, l.String())
		}
	})
}

func TestSessionState_AppendMessage(t *testing.T) {
	st := &SessionState{CurrentStep: "0_q"}
	st.AppendMessage(models.NewAssistantMessage("q1"))
	st.AppendMessage(models.NewHumanMessage("a1"))

	require.Len(t, st.Messages, 2)
	require.Len(t, st.CurrentStepMessages, 2)
	// Per-step transcript stays a suffix of the full transcript.
	assert.Equal(t, st.Messages[len(st.Messages)-2:], st.CurrentStepMessages)

	st.ResetStepMessages()
	assert.Empty(t, st.CurrentStepMessages)
	assert.Len(t, st.Messages, 2)
}
