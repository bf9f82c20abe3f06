package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func TestDefaults(t *testing.T) {
	c := Defaults()
	require.NoError(t, c.Validate())

	assert.Equal(t, "ap-southeast-2", c.AWS.Region)
	assert.Equal(t, "TLJH-SG", c.Policy.Name)
	assert.Equal(t, "pawsey", c.Jupyter.AdminUsername)
	assert.Equal(t, 2, c.Jupyter.UsersPerMachine)
	assert.Equal(t, 180*time.Second, c.Jupyter.InstallationSettle.Duration)
	assert.Equal(t, 300*time.Second, c.Readiness.Timeout.Duration)
	assert.Equal(t, 5*time.Second, c.Readiness.PollInterval.Duration)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "classroom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
provider: memory
timezone: UTC
tags:
  Event: hackathon
jupyter:
  usersPerMachine: 4
  installationSettle: 90s
readiness:
  timeout: 600
shutdown:
  delay: 2h30m
  action: terminate
`), 0600))

	c, err := Load(logrus.NewEntry(logrus.New()), path)
	require.NoError(t, err)

	assert.Equal(t, ProviderMemory, c.Provider)
	assert.Equal(t, 4, c.Jupyter.UsersPerMachine)
	assert.Equal(t, 90*time.Second, c.Jupyter.InstallationSettle.Duration)
	assert.Equal(t, 600*time.Second, c.Readiness.Timeout.Duration)
	assert.Equal(t, 150*time.Minute, c.Shutdown.Delay.Duration)
	assert.Equal(t, "terminate", c.Shutdown.Action)
	// untouched fields keep their defaults
	assert.Equal(t, "pawsey", c.Jupyter.AdminUsername)
	assert.Equal(t, "hackathon", c.Tags["Event"])
	assert.Equal(t, "JupyterHub", c.Tags["Service"])
}

func TestLoadInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "classroom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("readiness:\n  timeout: soon\n"), 0600))

	_, err := Load(logrus.NewEntry(logrus.New()), path)
	assert.Error(t, err)
}

func TestApplyEnvironment(t *testing.T) {
	c := Defaults()
	err := c.applyEnvironment(env(map[string]string{
		"AWS_REGION":                 "us-west-2",
		"AWS_INSTANCE_TYPE":          "t2.large",
		"SECURITY_GROUP_NAME":        "custom-sg",
		"JUPYTER_ADMIN_USERNAME":     "admin",
		"JUPYTER_USERS_PER_INSTANCE": "5",
		"LOG_LEVEL":                  "info",
	}))
	require.NoError(t, err)

	assert.Equal(t, "us-west-2", c.AWS.Region)
	assert.Equal(t, "t2.large", c.AWS.InstanceType)
	assert.Equal(t, "custom-sg", c.Policy.Name)
	assert.Equal(t, "admin", c.Jupyter.AdminUsername)
	assert.Equal(t, 5, c.Jupyter.UsersPerMachine)
	assert.Equal(t, "info", c.LogLevel)
	assert.Equal(t, "ami-0892a9c01908fafd1", c.AWS.ImageID)
}

func TestApplyEnvironmentBadNumber(t *testing.T) {
	c := Defaults()
	err := c.applyEnvironment(env(map[string]string{"JUPYTER_USERS_PER_INSTANCE": "two"}))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	for _, tt := range []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "provider", mutate: func(c *Config) { c.Provider = "gcp" }},
		{name: "log level", mutate: func(c *Config) { c.LogLevel = "loud" }},
		{name: "timezone", mutate: func(c *Config) { c.Timezone = "Mars/Olympus" }},
		{name: "users per machine", mutate: func(c *Config) { c.Jupyter.UsersPerMachine = 0 }},
		{name: "admin", mutate: func(c *Config) { c.Jupyter.AdminUsername = "" }},
		{name: "policy", mutate: func(c *Config) { c.Policy.Name = "" }},
		{name: "timeout", mutate: func(c *Config) { c.Readiness.Timeout.Duration = 0 }},
		{name: "target", mutate: func(c *Config) { c.Shutdown.Target = "" }},
		{name: "action", mutate: func(c *Config) { c.Shutdown.Action = "hibernate" }},
		{name: "kube image", mutate: func(c *Config) { c.Provider = ProviderKube }},
	} {
		t.Run(tt.name, func(t *testing.T) {
			c := Defaults()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestOrchestratorConfig(t *testing.T) {
	c := Defaults()
	c.Timezone = "UTC"

	oc, err := c.Orchestrator()
	require.NoError(t, err)

	assert.Equal(t, "TLJH-SG", oc.PolicyName)
	assert.Equal(t, "ami-0892a9c01908fafd1", oc.Template.ImageID)
	assert.Equal(t, "t3.micro", oc.Template.MachineType)
	assert.Equal(t, "aws_00", oc.Template.KeyName)
	assert.Equal(t, time.UTC, oc.Location)
	assert.Equal(t, 8*time.Hour, oc.ShutdownDelay)
	assert.Equal(t, "stop-instance", oc.ShutdownTarget)

	oc.Template.Tags["Extra"] = "x"
	assert.NotContains(t, c.Tags, "Extra")

	c.Provider = ProviderKube
	c.Kube.Image = "jrei/systemd-ubuntu:20.04"
	oc, err = c.Orchestrator()
	require.NoError(t, err)
	assert.Equal(t, "jrei/systemd-ubuntu:20.04", oc.Template.ImageID)
}

func TestKubeImage(t *testing.T) {
	c := Defaults()
	assert.Empty(t, c.Kube.Image)

	require.NoError(t, c.applyEnvironment(func(key string) string {
		return map[string]string{
			"CLASSROOM_PROVIDER":   "kube",
			"CLASSROOM_KUBE_IMAGE": "jrei/systemd-ubuntu:20.04",
		}[key]
	}))
	require.NoError(t, c.Validate())
	assert.Equal(t, "jrei/systemd-ubuntu:20.04", c.ImageID())
}
