package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"link-cloaker/internal/engine"
)

func TestRunInspect(t *testing.T) {
	in := inspectInput{
		Campaign: engine.Campaign{
			ID: "inspect", IsActive: true, BlockBots: true,
			DestinationURL: "https://offer.example.com/", SafePageURL: "https://safe.example.com/",
		},
		Request: engine.Request{UserAgent: "curl/8.4.0", URL: "https://example.com/r/x", RemoteAddr: "10.1.2.3:4000"},
	}

	var buf bytes.Buffer
	require.NoError(t, runInspect(context.Background(), &buf, in))

	var got inspectReport
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.True(t, got.Outcome.Decision.Blocked)
	assert.Equal(t, engine.LayerBot, got.Outcome.Decision.Layer)
	assert.Equal(t, "https://safe.example.com/", got.Target)
	assert.Equal(t, "10.1.2.3", got.AccessLog.IPAddress)
}

func TestInspectCmd(t *testing.T) {
	cmd := inspectCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{
		"--ua", "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1",
		"--country", "de",
		"--block-countries", "US,DE",
	})
	require.NoError(t, cmd.Execute())

	var got inspectReport
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, engine.LayerGeo, got.Outcome.Decision.Layer)
	assert.Equal(t, "Layer 3 (Geo): Blocked country: Germany (DE)", got.Outcome.Decision.Reason)
	assert.Equal(t, "https://safe.example.com/", got.Target)
}
