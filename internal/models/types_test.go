package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoutingRequest_GenerationOptions(t *testing.T) {
	req := &RoutingRequest{
		Messages:         []Message{{Role: RoleUser, Content: "hi"}},
		Model:            "gpt-4o",
		MaxTokens:        512,
		Temperature:      0.3,
		RequireStreaming: true,
	}

	opts := req.GenerationOptions()
	require.NotNil(t, opts)
	assert.Equal(t, "gpt-4o", opts.Model)
	assert.Equal(t, 512, opts.MaxTokens)
	assert.Equal(t, 0.3, opts.Temperature)
	assert.True(t, opts.Stream)
}

func TestRoutingRequest_GenerationOptionsDefaults(t *testing.T) {
	req := NewRoutingRequest([]Message{{Role: RoleUser, Content: "hi"}})
	opts := req.GenerationOptions()
	assert.Empty(t, opts.Model)
	assert.Zero(t, opts.MaxTokens)
	assert.False(t, opts.Stream)
}

func TestBuilders(t *testing.T) {
	msgs := []Message{{Role: RoleUser, Content: "hi"}}

	general := NewRoutingRequest(msgs)
	assert.Equal(t, PriorityNormal, general.Priority)
	assert.Equal(t, RequestTypeGeneral, general.RequestType)
	assert.Nil(t, general.MinQuality)

	philosophical := NewPhilosophicalRequest(msgs)
	assert.Equal(t, PriorityHigh, philosophical.Priority)
	assert.Equal(t, RequestTypePhilosophical, philosophical.RequestType)

	cheap := NewCostOptimizedRequest(msgs)
	assert.Equal(t, PriorityLow, cheap.Priority)

	quality := NewHighQualityRequest(msgs)
	assert.Equal(t, PriorityHigh, quality.Priority)
	require.NotNil(t, quality.MinQuality)
	assert.Equal(t, 0.8, *quality.MinQuality)
}

func TestPriorityAndTypeValues(t *testing.T) {
	assert.Equal(t, Priority("low"), PriorityLow)
	assert.Equal(t, Priority("normal"), PriorityNormal)
	assert.Equal(t, Priority("high"), PriorityHigh)
	assert.Equal(t, Priority("critical"), PriorityCritical)

	assert.Equal(t, RequestType("general"), RequestTypeGeneral)
	assert.Equal(t, RequestType("philosophical"), RequestTypePhilosophical)
}
