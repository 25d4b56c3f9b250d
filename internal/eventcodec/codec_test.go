package eventcodec

import (
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seesafe/seesafe-agent/pkg/types"
)

func TestEncodeEventBothFormatsAgree(t *testing.T) {
	ev := types.ObstacleEvent{
		FrameNum:  7,
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Mode:      types.ModeFusion,
		Obstacles: []types.ObstacleRecord{{
			PixelBox:   types.PixelBox{X1: 1, Y1: 2, X2: 3, Y2: 4},
			ClassID:    0,
			ClassName:  "person",
			MeanDepth:  300,
			Confidence: 0.5,
		}},
	}

	s, err := EncodeEvent(ev)
	require.NoError(t, err)

	var fromJSON map[string]any
	require.NoError(t, json.Unmarshal(s.JSON, &fromJSON))

	fromPB, err := DecodeProtobuf(s.Protobuf)
	require.NoError(t, err)

	if diff := cmp.Diff(fromJSON, fromPB); diff != "" {
		t.Errorf("json vs protobuf mismatch (-json +pb):\n%s", diff)
	}

	raw, err := base64.StdEncoding.DecodeString(string(s.Base64()))
	require.NoError(t, err)
	assert.Equal(t, s.Protobuf, raw)
}

func TestEncodeEventNilObstacles(t *testing.T) {
	s, err := EncodeEvent(types.ObstacleEvent{Mode: types.ModeProximity, Nearby: true})
	require.NoError(t, err)
	assert.Contains(t, string(s.JSON), `"obstacles":[]`)
	assert.Equal(t, s.JSON, s.Bytes(FormatJSON))
	assert.Equal(t, s.Protobuf, s.Bytes(FormatProtobuf))
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	f, err = ParseFormat("pb")
	require.NoError(t, err)
	assert.Equal(t, FormatProtobuf, f)

	_, err = ParseFormat("xml")
	assert.Error(t, err)
}
