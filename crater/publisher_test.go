package crater

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPublisher(t *testing.T) {
	t.Setenv("MQTT_PUBLISH_PREFIX", "")
	publisher := NewPublisher(nil, "")
	if publisher.publishPrefix != "cratermerge" {
		t.Errorf("Default prefix = %s, want cratermerge", publisher.publishPrefix)
	}
	if publisher.qos != 0 {
		t.Errorf("Default QoS = %d, want 0", publisher.qos)
	}
	if !publisher.retain {
		t.Error("Default retain should be true")
	}
	if _, ok := publisher.LastRun(); ok {
		t.Error("LastRun() should be empty before publishing")
	}
}

func TestPublisher_NotConnected(t *testing.T) {
	publisher := NewPublisher(nil, "moon")
	assert.Error(t, publisher.PublishRun(RunSummary{RunID: "r1"}))
	assert.Error(t, publisher.PublishCatalogue("r1", nil))

	publisher = NewPublisher(NewMockClient(), "moon")
	assert.Error(t, publisher.PublishRun(RunSummary{RunID: "r1"}))
}

func testRunResult() *RunResult {
	return &RunResult{
		RunID:     "0b7d5c1e-3a43-4a43-9d7c-2c3a8f4b5e61",
		StartedAt: time.Unix(1700000000, 0),
		Duration:  1500 * time.Millisecond,
		Input:     12,
		Used:      10,
		Clusters:  2,
		Craters: []Crater{
			{Long: 30.75, Lat: 20.23, Radius: 40, Count: 6, CountNotMin: 6, Score: 6},
			{Long: 30.76, Lat: 20.24, Radius: 25, Count: 4, CountNotMin: 3, Score: 4},
		},
		Iterations:     2,
		FinalThreshold: 0.9,
		Warnings:       []Warning{{Kind: WarnDegenerateCluster, Message: "cluster 3 has one marking"}},
	}
}

func TestPublisher_PublishResult(t *testing.T) {
	t.Setenv("MQTT_PUBLISH_PREFIX", "")
	mock := NewMockClient()
	mock.SetConnected(true)
	publisher := NewPublisher(mock, "moon")

	res := testRunResult()
	require.NoError(t, publisher.PublishResult(res))

	msgs := mock.GetPublishedMessages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "moon/runs/"+res.RunID, msgs[0].Topic)
	assert.Equal(t, "moon/latest", msgs[1].Topic)
	assert.Equal(t, "moon/catalogue/"+res.RunID, msgs[2].Topic)
	for _, m := range msgs {
		assert.True(t, m.Retain)
		assert.Equal(t, byte(0), m.QoS)
	}
	assert.Equal(t, msgs[0].Payload, msgs[1].Payload)

	var summary RunSummary
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &summary))
	assert.Equal(t, res.Summary(), summary)
	assert.Equal(t, int64(1500), summary.DurationMs)
	assert.Equal(t, []string{"DegenerateCluster: cluster 3 has one marking"}, summary.Warnings)

	var cat CataloguePayload
	require.NoError(t, json.Unmarshal(msgs[2].Payload, &cat))
	assert.Equal(t, res.RunID, cat.RunID)
	assert.Equal(t, res.Craters, cat.Craters)

	last, ok := publisher.LastRun()
	require.True(t, ok)
	assert.Equal(t, res.RunID, last.RunID)
}

func TestPublisher_EmptyCatalogue(t *testing.T) {
	mock := NewMockClient()
	mock.SetConnected(true)
	publisher := NewPublisher(mock, "moon")
	require.NoError(t, publisher.PublishCatalogue("r2", nil))

	msgs := mock.GetPublishedMessages()
	require.Len(t, msgs, 1)
	assert.Contains(t, string(msgs[0].Payload), `"craters":[]`)
}

func TestPublisher_PublishError(t *testing.T) {
	t.Setenv("MQTT_PUBLISH_PREFIX", "")
	mock := NewMockClient()
	mock.SetConnected(true)
	mock.SetPublishError(errors.New("quota exceeded"))
	publisher := NewPublisher(mock, "moon")

	err := publisher.PublishRun(RunSummary{RunID: "r3"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "moon/runs/r3")
	_, ok := publisher.LastRun()
	assert.False(t, ok)
}

func TestPublisher_SetQoSAndRetain(t *testing.T) {
	mock := NewMockClient()
	mock.SetConnected(true)
	publisher := NewPublisher(mock, "moon")
	publisher.SetQoS(1)
	publisher.SetQoS(3) // ignored
	publisher.SetRetain(false)
	require.NoError(t, publisher.PublishCatalogue("r4", []Crater{{Radius: 20}}))

	msgs := mock.GetPublishedMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, byte(1), msgs[0].QoS)
	assert.False(t, msgs[0].Retain)
}
