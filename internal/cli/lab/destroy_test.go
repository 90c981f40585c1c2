package lab

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"labctl/internal/env"
)

func TestConfirm(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, confirm(strings.NewReader("exam\n"), &out, "lab exam in eu-west-1", "exam"))
	assert.Contains(t, out.String(), `Type "exam" to continue`)

	require.NoError(t, confirm(strings.NewReader("  exam  "), &out, "lab exam", "exam"), "no trailing newline")
	assert.ErrorIs(t, confirm(strings.NewReader("yes\n"), &out, "lab exam", "exam"), ErrNotConfirmed)
	assert.ErrorIs(t, confirm(strings.NewReader(""), &out, "lab exam", "exam"), ErrNotConfirmed)
}

func TestRegions(t *testing.T) {
	saved := env.Config
	t.Cleanup(func() { env.Config = saved })

	env.Config.Regions = []string{"eu-west-1", "us-east-1"}
	regionList, err := regions()
	require.NoError(t, err)
	assert.Equal(t, []string{"eu-west-1", "us-east-1"}, regionList)

	env.Config.Regions = nil
	t.Setenv("AWS_REGION", "")
	t.Setenv("AWS_DEFAULT_REGION", "ap-south-1")
	regionList, err = regions()
	require.NoError(t, err)
	assert.Equal(t, []string{"ap-south-1"}, regionList)
	assert.Equal(t, "ap-south-1", env.Config.Region)

	t.Setenv("AWS_DEFAULT_REGION", "")
	_, err = regions()
	assert.Error(t, err)
}

func TestPollerFromConfig(t *testing.T) {
	saved := env.Config
	t.Cleanup(func() { env.Config = saved })

	env.Config.WaitAttempts = 0
	env.Config.WaitDelay = 0
	assert.Equal(t, 60, poller().Attempts)

	env.Config.WaitAttempts = 3
	assert.Equal(t, 3, poller().Attempts)
}

func TestCheckProvider(t *testing.T) {
	saved := env.Config
	t.Cleanup(func() { env.Config = saved })

	env.Config.Provider = "aws"
	assert.NoError(t, checkProvider())
	env.Config.Provider = "gcp"
	assert.Error(t, checkProvider())
}

func TestRenderCommand(t *testing.T) {
	var out bytes.Buffer
	Lab.SetOut(&out)
	Lab.SetArgs([]string{"render", "-b", "exam-vpc"})
	t.Cleanup(func() {
		Lab.SetOut(nil)
		Lab.SetArgs(nil)
	})

	require.NoError(t, Lab.Execute())
	assert.Contains(t, out.String(), "name: exam-vpc")
}
