// Package config loads the classroom configuration from an optional YAML
// file, then applies environment overrides on top of the built-in defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
	_ "time/tzdata"

	"github.com/ghodss/yaml"
	"github.com/sirupsen/logrus"

	"github.com/mjudeikis/classroom-labs/pkg/api"
	"github.com/mjudeikis/classroom-labs/pkg/orchestrator"
)

const (
	ProviderAWS    = "aws"
	ProviderKube   = "kube"
	ProviderMemory = "memory"
)

// Duration accepts Go duration strings ("180s", "8h") or a number of
// seconds in YAML.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value) * time.Second
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		d.Duration = parsed
	default:
		return fmt.Errorf("invalid duration %s", string(b))
	}
	return nil
}

type AWS struct {
	Region       string `json:"region,omitempty"`
	ImageID      string `json:"imageId,omitempty"`
	InstanceType string `json:"instanceType,omitempty"`
	KeyName      string `json:"keyName,omitempty"`
}

type Kube struct {
	Kubeconfig string `json:"kubeconfig,omitempty"`
	Namespace  string `json:"namespace,omitempty"`
	// Image must boot systemd from its entrypoint and ship sudo and curl.
	Image      string `json:"image,omitempty"`
}

type Policy struct {
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}

type Jupyter struct {
	RequirementsURL    string   `json:"requirementsUrl,omitempty"`
	AdminUsername      string   `json:"adminUsername,omitempty"`
	UsersPerMachine    int      `json:"usersPerMachine,omitempty"`
	InstallationSettle Duration `json:"installationSettle,omitempty"`
}

type Readiness struct {
	Timeout      Duration `json:"timeout,omitempty"`
	PollInterval Duration `json:"pollInterval,omitempty"`
}

type Shutdown struct {
	Delay Duration `json:"delay,omitempty"`
	// Target is the function invoked when a shutdown rule fires: a Lambda
	// function name or ARN on AWS, a registered handler name locally.
	Target string `json:"target,omitempty"`
	// Action of the local reaper target: stop or terminate.
	Action string `json:"action,omitempty"`
}

type Config struct {
	Provider   string            `json:"provider,omitempty"`
	LogLevel   string            `json:"logLevel,omitempty"`
	StorageDir string            `json:"storageDir,omitempty"`
	NATSURL    string            `json:"natsUrl,omitempty"`
	Timezone   string            `json:"timezone,omitempty"`
	NamePrefix string            `json:"namePrefix,omitempty"`
	Tags       map[string]string `json:"tags,omitempty"`

	AWS       AWS       `json:"aws,omitempty"`
	Kube      Kube      `json:"kube,omitempty"`
	Policy    Policy    `json:"policy,omitempty"`
	Jupyter   Jupyter   `json:"jupyter,omitempty"`
	Readiness Readiness `json:"readiness,omitempty"`
	Shutdown  Shutdown  `json:"shutdown,omitempty"`
}

func Defaults() *Config {
	environment := os.Getenv("ENVIRONMENT")
	if environment == "" {
		environment = "development"
	}
	return &Config{
		Provider:   ProviderAWS,
		LogLevel:   "debug",
		StorageDir: "storage",
		Timezone:   "Australia/Perth",
		NamePrefix: "TLJH-Instance",
		Tags: map[string]string{
			"Environment": environment,
			"Project":     "quantum-computing-hackathon",
			"ManagedBy":   "classroom-labs",
			"Service":     "JupyterHub",
		},
		AWS: AWS{
			Region:       "ap-southeast-2",
			ImageID:      "ami-0892a9c01908fafd1",
			InstanceType: "t3.micro",
			KeyName:      "aws_00",
		},
		Kube: Kube{
			Namespace: "classroom",
		},
		Policy: Policy{
			Name:        "TLJH-SG",
			Description: "Security group for TLJH EC2 instances",
		},
		Jupyter: Jupyter{
			RequirementsURL:    "https://raw.githubusercontent.com/PawseySC/quantum-computing-hackathon/main/python/requirements.txt",
			AdminUsername:      "pawsey",
			UsersPerMachine:    2,
			InstallationSettle: Duration{180 * time.Second},
		},
		Readiness: Readiness{
			Timeout:      Duration{300 * time.Second},
			PollInterval: Duration{5 * time.Second},
		},
		Shutdown: Shutdown{
			Delay:  Duration{8 * time.Hour},
			Target: "stop-instance",
			Action: "stop",
		},
	}
}

// Load returns the defaults overlaid with the file at path (if path is not
// empty) and then with the environment.
func Load(log *logrus.Entry, path string) (*Config, error) {
	c := Defaults()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		log.Debugf("loaded configuration from %s", path)
	}
	if err := c.applyEnvironment(os.Getenv); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) applyEnvironment(getenv func(string) string) error {
	overrides := map[string]*string{
		"AWS_REGION":                &c.AWS.Region,
		"AWS_AMI_ID":                &c.AWS.ImageID,
		"AWS_INSTANCE_TYPE":         &c.AWS.InstanceType,
		"AWS_KEY_NAME":              &c.AWS.KeyName,
		"SECURITY_GROUP_NAME":       &c.Policy.Name,
		"JUPYTER_REQUIREMENTS_URL":  &c.Jupyter.RequirementsURL,
		"JUPYTER_ADMIN_USERNAME":    &c.Jupyter.AdminUsername,
		"LOG_LEVEL":                 &c.LogLevel,
		"CLASSROOM_PROVIDER":        &c.Provider,
		"CLASSROOM_TIMEZONE":        &c.Timezone,
		"CLASSROOM_STORAGE_DIR":     &c.StorageDir,
		"CLASSROOM_NATS_URL":        &c.NATSURL,
		"CLASSROOM_SHUTDOWN_TARGET": &c.Shutdown.Target,
		"KUBECONFIG":                &c.Kube.Kubeconfig,
		"CLASSROOM_KUBE_IMAGE":      &c.Kube.Image,
	}
	for env, field := range overrides {
		if v := getenv(env); v != "" {
			*field = v
		}
	}

	if v := getenv("JUPYTER_USERS_PER_INSTANCE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("JUPYTER_USERS_PER_INSTANCE: %w", err)
		}
		c.Jupyter.UsersPerMachine = n
	}
	return nil
}

func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderAWS, ProviderKube, ProviderMemory:
	default:
		return fmt.Errorf("unknown provider %q", c.Provider)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.Jupyter.UsersPerMachine <= 0 {
		return fmt.Errorf("jupyter.usersPerMachine must be positive, got %d", c.Jupyter.UsersPerMachine)
	}
	if c.Jupyter.AdminUsername == "" {
		return fmt.Errorf("jupyter.adminUsername is required")
	}
	if c.Policy.Name == "" {
		return fmt.Errorf("policy.name is required")
	}
	if c.Readiness.Timeout.Duration <= 0 || c.Readiness.PollInterval.Duration <= 0 {
		return fmt.Errorf("readiness timeout and poll interval must be positive")
	}
	if c.Jupyter.InstallationSettle.Duration < 0 || c.Shutdown.Delay.Duration < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	if c.Shutdown.Target == "" {
		return fmt.Errorf("shutdown.target is required")
	}
	switch c.Shutdown.Action {
	case "stop", "terminate":
	default:
		return fmt.Errorf("unknown shutdown action %q", c.Shutdown.Action)
	}
	if c.Provider == ProviderAWS && (c.AWS.Region == "" || c.AWS.ImageID == "") {
		return fmt.Errorf("aws.region and aws.imageId are required")
	}
	if c.Provider == ProviderKube && c.Kube.Image == "" {
		return fmt.Errorf("kube.image is required: an image that boots systemd and ships sudo and curl")
	}
	return nil
}

func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// ImageID is the machine image for the configured provider.
func (c *Config) ImageID() string {
	if c.Provider == ProviderKube {
		return c.Kube.Image
	}
	return c.AWS.ImageID
}

func (c *Config) Orchestrator() (orchestrator.Config, error) {
	location, err := c.Location()
	if err != nil {
		return orchestrator.Config{}, err
	}
	tags := make(map[string]string, len(c.Tags))
	for k, v := range c.Tags {
		tags[k] = v
	}
	return orchestrator.Config{
		PolicyName:        c.Policy.Name,
		PolicyDescription: c.Policy.Description,
		Template: api.MachineTemplate{
			ImageID:     c.ImageID(),
			MachineType: c.AWS.InstanceType,
			KeyName:     c.AWS.KeyName,
			Tags:        tags,
		},
		UsersPerMachine:  c.Jupyter.UsersPerMachine,
		AdminUsername:    c.Jupyter.AdminUsername,
		RequirementsURL:  c.Jupyter.RequirementsURL,
		NamePrefix:       c.NamePrefix,
		ShutdownDelay:    c.Shutdown.Delay.Duration,
		ShutdownTarget:   c.Shutdown.Target,
		Location:         location,
		ReadinessTimeout: c.Readiness.Timeout.Duration,
		PollInterval:     c.Readiness.PollInterval.Duration,
		SettleTime:       c.Jupyter.InstallationSettle.Duration,
	}, nil
}
