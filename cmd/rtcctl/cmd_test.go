package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := New(zaptest.NewLogger(t))
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestAdURLCommand(t *testing.T) {
	out, err := execute(t, `[{"response":{"targeting":{"hb_pb":"3.20"}}}]`,
		"adurl", "--base-url", "https://ads.example.test/ads")
	require.NoError(t, err)
	assert.Equal(t, "https://ads.example.test/ads?scp=hb_pb%3D3.20\n", out)
}

func TestAdURLCommand_FileAndUntargeted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.json")
	require.NoError(t, os.WriteFile(path, []byte(`[]`), 0o600))

	out, err := execute(t, "", "adurl", "-f", path)
	require.NoError(t, err)
	assert.Equal(t, "https://prebid-support.lsd.test/ads\n", out)
}

func TestAdURLCommand_InvalidJSON(t *testing.T) {
	_, err := execute(t, `{`, "adurl")
	assert.Error(t, err)
}

func TestDecodeCommand(t *testing.T) {
	out, err := execute(t, "", "decode", "https://ads.example.test/ads?scp=hb_pb%3D3.20%26sport%3Drugby%2Ccricket")
	require.NoError(t, err)
	assert.JSONEq(t, `{"hb_pb":"3.20","sport":["rugby","cricket"]}`, out)
	assert.Less(t, strings.Index(out, "hb_pb"), strings.Index(out, "sport"))
}

func TestDecodeCommand_Errors(t *testing.T) {
	_, err := execute(t, "", "decode")
	assert.Error(t, err)
	_, err = execute(t, "", "decode", "https://ads.example.test/ads?scp=broken")
	assert.Error(t, err)
}
