// File: internal/actions/actions_test.go
package actions

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestActionValidate(t *testing.T) {
	tests := []struct {
		name    string
		action  Action
		wantErr bool
	}{
		{name: "should accept a click with a target", action: Action{Kind: KindClick, Target: "#go"}, wantErr: false},
		{name: "should reject a click without a target", action: Action{Kind: KindClick}, wantErr: true},
		{name: "should reject a hover without a target", action: Action{Kind: KindHover}, wantErr: true},
		{name: "should reject a drag without a target", action: Action{Kind: KindDrag}, wantErr: true},
		{name: "should accept a press with a key", action: Action{Kind: KindPress, Value: "Enter"}, wantErr: false},
		{name: "should reject a press without a key", action: Action{Kind: KindPress}, wantErr: true},
		{name: "should reject a script without a body", action: Action{Kind: KindJS}, wantErr: true},
		{name: "should accept a wait with a duration", action: Action{Kind: KindWait, Duration: time.Second}, wantErr: false},
		{name: "should accept a wait with an amount", action: Action{Kind: KindWait, Amount: 2}, wantErr: false},
		{name: "should reject an empty wait", action: Action{Kind: KindWait}, wantErr: true},
		{name: "should accept a fill without a target", action: Action{Kind: KindFill, Value: "hello"}, wantErr: false},
		{name: "should reject an unknown kind", action: Action{Kind: Kind("teleport")}, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.action.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPlanValidate(t *testing.T) {
	t.Run("should reject an empty plan", func(t *testing.T) {
		p := &Plan{Tier: TierFast}
		assert.Error(t, p.Validate())
	})

	t.Run("should name the failing action", func(t *testing.T) {
		p := &Plan{Actions: []Action{
			{Kind: KindClick, Target: "#go"},
			{Kind: KindClick},
		}}
		err := p.Validate()
		assert.ErrorContains(t, err, "action 1")
	})
}

func TestTierString(t *testing.T) {
	t.Run("should render the report labels", func(t *testing.T) {
		assert.Equal(t, "T0:pattern", TierPattern.String())
		assert.Equal(t, "T1:fast", TierFast.String())
		assert.Equal(t, "T2:vision", TierVision.String())
	})
}
