package lab

import (
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserDataPresets(t *testing.T) {
	assert.Equal(t, []string{"grafana", "juice-shop", "node-exporter", "prometheus"}, UserDataPresets())
}

func TestRenderUserDataPreset(t *testing.T) {
	script, err := RenderUserData(Instance{Name: "shop", UserData: "juice-shop"}, nil)
	require.NoError(t, err)
	assert.Contains(t, script, "#!/bin/bash\n")
	assert.Contains(t, script, "-p 80:3000")

	script, err = RenderUserData(Instance{Name: "shop", UserData: "juice-shop", UserDataVars: map[string]string{"port": "8080"}}, nil)
	require.NoError(t, err)
	assert.Contains(t, script, "-p 8080:3000")
}

func TestRenderUserDataResolvesPrivateIps(t *testing.T) {
	lookup := func(name string) (string, error) {
		if name == "prometheus" {
			return "10.40.1.11", nil
		}
		return "", errors.Errorf("unknown instance %q", name)
	}

	script, err := RenderUserData(Instance{
		Name:         "grafana",
		UserData:     "grafana",
		UserDataVars: map[string]string{"prometheus": "prometheus"},
	}, lookup)
	require.NoError(t, err)
	assert.Contains(t, script, `"url": "http://10.40.1.11:9090"`)

	_, err = RenderUserData(Instance{Name: "grafana", UserData: "grafana"}, lookup)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "userDataVars.prometheus is required")

	_, err = RenderUserData(Instance{
		Name:         "prometheus",
		UserData:     "prometheus",
		UserDataVars: map[string]string{"target": "exporter"},
	}, lookup)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown instance "exporter"`)
}

func TestRenderEveryPreset(t *testing.T) {
	lookup := func(name string) (string, error) {
		return "10.0.0.5", nil
	}
	vars := map[string]string{"target": "node", "prometheus": "prometheus"}

	for _, preset := range UserDataPresets() {
		t.Run(preset, func(t *testing.T) {
			script, err := RenderUserData(Instance{Name: preset, UserData: preset, UserDataVars: vars}, lookup)
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(script, "#!/bin/bash\n"))
			assert.NotContains(t, script, "{{")
			assert.NotContains(t, script, "<no value>")
		})
	}
}

func TestRequired(t *testing.T) {
	value, err := required("x is required", "set")
	require.NoError(t, err)
	assert.Equal(t, "set", value)

	_, err = required("x is required", "")
	assert.EqualError(t, err, "x is required")
	_, err = required("x is required", nil)
	assert.EqualError(t, err, "x is required")
}

func TestRenderUserDataInline(t *testing.T) {
	script, err := RenderUserData(Instance{
		Name:         "web",
		UserData:     "#!/bin/sh\necho {{ .greeting | upper }}\n",
		UserDataVars: map[string]string{"greeting": "hello"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "#!/bin/sh\necho HELLO\n", script)

	script, err = RenderUserData(Instance{Name: "empty"}, nil)
	require.NoError(t, err)
	assert.Empty(t, script)

	_, err = RenderUserData(Instance{Name: "broken", UserData: "{{ .x "}, nil)
	assert.Error(t, err)
}
