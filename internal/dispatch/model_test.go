// File: internal/dispatch/model_test.go
package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webnav-cli/internal/actions"
	"github.com/xkilldash9x/webnav-cli/internal/config"
	"github.com/xkilldash9x/webnav-cli/internal/llmclient"
)

// mockClient counts calls and returns canned responses.
type mockClient struct {
	calls    int
	response string
	err      error
	lastReq  llmclient.Request
}

func (m *mockClient) Generate(ctx context.Context, req llmclient.Request) (string, llmclient.Usage, error) {
	m.calls++
	m.lastReq = req
	if m.err != nil {
		return "", llmclient.Usage{}, m.err
	}
	return m.response, llmclient.Usage{TotalTokens: 42}, nil
}

func testLLMConfig() config.LLMConfig {
	return config.LLMConfig{
		FastModel:     "fast-model",
		VisionModel:   "vision-model",
		TimeoutFast:   2 * time.Second,
		TimeoutVision: 5 * time.Second,
		Temperature:   0.1,
	}
}

func TestParseWirePlan(t *testing.T) {
	t.Run("should parse a plain JSON array", func(t *testing.T) {
		acts, err := parseWirePlan(`[{"kind":"click","target":"#go"}]`)
		require.NoError(t, err)
		require.Len(t, acts, 1)
		assert.Equal(t, actions.KindClick, acts[0].Kind)
		assert.Equal(t, "#go", acts[0].Target)
	})

	t.Run("should strip code fences and prose", func(t *testing.T) {
		raw := "Here is the plan:\n```json\n[{\"kind\":\"scroll\",\"amount\":600}]\n```\nGood luck."
		acts, err := parseWirePlan(raw)
		require.NoError(t, err)
		require.Len(t, acts, 1)
		assert.Equal(t, actions.KindScroll, acts[0].Kind)
		assert.Equal(t, 600, acts[0].Amount)
	})

	t.Run("should repair mildly broken JSON", func(t *testing.T) {
		// Trailing comma and single quotes; common model output.
		raw := `[{'kind': 'click', 'target': '#go',},]`
		acts, err := parseWirePlan(raw)
		require.NoError(t, err)
		require.Len(t, acts, 1)
		assert.Equal(t, actions.KindClick, acts[0].Kind)
	})

	t.Run("should normalize key and kind aliases", func(t *testing.T) {
		raw := `[
			{"type":"type","selector":"#input","code":"XK42ZP"},
			{"kind":"key_sequence"},
			{"kind":"wait","seconds":2.5}
		]`
		acts, err := parseWirePlan(raw)
		require.NoError(t, err)
		require.Len(t, acts, 3)
		assert.Equal(t, actions.KindFill, acts[0].Kind)
		assert.Equal(t, "#input", acts[0].Target)
		assert.Equal(t, "XK42ZP", acts[0].Value)
		assert.Equal(t, actions.KindKeySeq, acts[1].Kind)
		assert.Equal(t, actions.KindWait, acts[2].Kind)
		assert.Equal(t, 2500*time.Millisecond, acts[2].Duration)
	})

	t.Run("should address elements by text when no selector is given", func(t *testing.T) {
		acts, err := parseWirePlan(`[{"kind":"click","text":"Reveal Code"}]`)
		require.NoError(t, err)
		require.Len(t, acts, 1)
		assert.Equal(t, "text=Reveal Code", acts[0].Target)
	})

	t.Run("should drop script actions from the model", func(t *testing.T) {
		raw := `[{"kind":"js","value":"document.title"},{"kind":"click","target":"#go"}]`
		acts, err := parseWirePlan(raw)
		require.NoError(t, err)
		require.Len(t, acts, 1)
		assert.Equal(t, actions.KindClick, acts[0].Kind)
	})

	t.Run("should fail when nothing usable remains", func(t *testing.T) {
		_, err := parseWirePlan(`[{"kind":"teleport"}]`)
		assert.ErrorIs(t, err, ErrMalformedResponse)
	})

	t.Run("should fail on unrepairable output", func(t *testing.T) {
		_, err := parseWirePlan("I cannot help with that.")
		assert.ErrorIs(t, err, ErrMalformedResponse)
	})
}

func TestModelClassifier(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()

	t.Run("should produce a validated plan from the model response", func(t *testing.T) {
		client := &mockClient{response: `[{"kind":"click","target":"#reveal"}]`}
		c := NewFastClassifier(client, testLLMConfig(), logger)

		plan, err := c.Classify(ctx, snapshotWith("Do something unusual"))
		require.NoError(t, err)
		assert.Equal(t, actions.TierFast, plan.Tier)
		assert.Equal(t, 42, plan.Tokens)
		assert.Equal(t, 1, client.calls)
		assert.Empty(t, client.lastReq.Image, "fast tier must not send a screenshot")
	})

	t.Run("should fail with a malformed response instead of retrying", func(t *testing.T) {
		client := &mockClient{response: "no json here at all"}
		c := NewFastClassifier(client, testLLMConfig(), logger)

		_, err := c.Classify(ctx, snapshotWith("Do something unusual"))
		assert.ErrorIs(t, err, ErrMalformedResponse)
		assert.Equal(t, 1, client.calls, "a malformed response is a tier failure, not a retry")
	})

	t.Run("should wrap transport failures as a tier failure", func(t *testing.T) {
		client := &mockClient{err: errors.New("connection reset")}
		c := NewFastClassifier(client, testLLMConfig(), logger)

		_, err := c.Classify(ctx, snapshotWith("Do something unusual"))
		assert.ErrorIs(t, err, ErrMalformedResponse)
	})

	t.Run("should attach the screenshot on the vision tier", func(t *testing.T) {
		client := &mockClient{response: `[{"kind":"click","target":"#reveal"}]`}
		c := NewVisionClassifier(client, testLLMConfig(), logger)

		snap := snapshotWith("Do something unusual")
		snap.Screenshot = []byte{0x89, 0x50, 0x4e, 0x47}

		plan, err := c.Classify(ctx, snap)
		require.NoError(t, err)
		assert.Equal(t, actions.TierVision, plan.Tier)
		assert.Equal(t, snap.Screenshot, client.lastReq.Image)
		assert.Equal(t, "image/png", client.lastReq.ImageMIME)
		assert.Contains(t, client.lastReq.User, "Previous attempts on this step failed")
	})
}
