package hcloud

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/imamik/appinit/internal/provider"
)

var envNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// containerSpec is what a server's cloud-init runs: one container with its
// volumes, ports and environment.
type containerSpec struct {
	Name       string
	Image      string
	Entrypoint []string
	Cmd        []string
	Env        map[string]string
	Mounts     []containerMount
	Ports      []portMapping
	Restart    provider.RestartPolicy
	CPUs       int
	MemoryMB   int
	SwapSizeMB int
}

type containerMount struct {
	Device        string
	HostPath      string
	ContainerPath string
}

type portMapping struct {
	External int
	Internal int
}

type cloudConfig struct {
	WriteFiles []cloudFile `yaml:"write_files,omitempty"`
	RunCmd     [][]string  `yaml:"runcmd"`
}

type cloudFile struct {
	Path        string `yaml:"path"`
	Permissions string `yaml:"permissions"`
	Content     string `yaml:"content"`
}

func envFilePath(name string) string {
	return "/etc/appinit/" + name + ".env"
}

// volumeDevice is the stable device path of an attached Hetzner volume.
func volumeDevice(id int64) string {
	return fmt.Sprintf("/dev/disk/by-id/scsi-0HC_Volume_%d", id)
}

func restartFlag(policy provider.RestartPolicy) string {
	switch policy {
	case provider.RestartAlways:
		return "always"
	case provider.RestartOnFailure:
		return "on-failure"
	default:
		return "no"
	}
}

// envFile renders env in docker's --env-file format, sorted by name.
func envFile(env map[string]string) (string, error) {
	names := make([]string, 0, len(env))
	for name := range env {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		value := env[name]
		if !envNameRe.MatchString(name) {
			return "", fmt.Errorf("invalid environment variable name %q", name)
		}
		if strings.ContainsAny(value, "\r\n") {
			return "", fmt.Errorf("value of %s spans multiple lines, which env files cannot hold", name)
		}
		fmt.Fprintf(&b, "%s=%s\n", name, value)
	}
	return b.String(), nil
}

// dockerRunArgs is the docker run invocation of spec.
func dockerRunArgs(spec containerSpec) []string {
	args := []string{"docker", "run", "--detach", "--name", spec.Name, "--restart", restartFlag(spec.Restart)}
	if spec.CPUs > 0 {
		args = append(args, "--cpus", strconv.Itoa(spec.CPUs))
	}
	if spec.MemoryMB > 0 {
		args = append(args, "--memory", fmt.Sprintf("%dm", spec.MemoryMB))
	}
	for _, p := range spec.Ports {
		args = append(args, "--publish", fmt.Sprintf("%d:%d", p.External, p.Internal))
	}
	for _, m := range spec.Mounts {
		args = append(args, "--volume", m.HostPath+":"+m.ContainerPath)
	}
	if len(spec.Env) > 0 {
		args = append(args, "--env-file", envFilePath(spec.Name))
	}

	var extra []string
	if len(spec.Entrypoint) > 0 {
		args = append(args, "--entrypoint", spec.Entrypoint[0])
		extra = spec.Entrypoint[1:]
	}
	args = append(args, spec.Image)
	args = append(args, extra...)
	return append(args, spec.Cmd...)
}

// renderUserData builds the #cloud-config document that prepares swap and
// volumes and starts the container.
func renderUserData(spec containerSpec) (string, error) {
	var cfg cloudConfig

	if spec.SwapSizeMB > 0 {
		cfg.RunCmd = append(cfg.RunCmd,
			[]string{"fallocate", "-l", fmt.Sprintf("%dM", spec.SwapSizeMB), "/swapfile"},
			[]string{"chmod", "600", "/swapfile"},
			[]string{"mkswap", "/swapfile"},
			[]string{"swapon", "/swapfile"},
		)
	}
	for _, m := range spec.Mounts {
		cfg.RunCmd = append(cfg.RunCmd,
			[]string{"mkdir", "-p", m.HostPath},
			[]string{"mount", "-o", "discard,defaults", m.Device, m.HostPath},
		)
	}
	if len(spec.Env) > 0 {
		content, err := envFile(spec.Env)
		if err != nil {
			return "", err
		}
		cfg.WriteFiles = append(cfg.WriteFiles, cloudFile{
			Path:        envFilePath(spec.Name),
			Permissions: "0600",
			Content:     content,
		})
	}
	cfg.RunCmd = append(cfg.RunCmd, dockerRunArgs(spec))

	out, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal cloud-config: %w", err)
	}
	return "#cloud-config\n" + string(out), nil
}
