package saga

import (
	"fmt"
	"strings"

	"github.com/imamik/appinit/internal/provider"
)

// heredocDelimiter ends the config heredoc. It is never a valid TOML line.
const heredocDelimiter = "APPINIT_CONFIG_EOF"

func (s *Saga) guest() provider.Guest {
	return provider.Guest{
		CPUKind:  s.settings.GuestCPUKind,
		CPUs:     s.settings.GuestCPUs,
		MemoryMB: s.settings.GuestMemoryMB,
	}
}

func (s *Saga) volumeMounts() []provider.Mount {
	return []provider.Mount{{Volume: s.settings.VolumeName, Path: s.settings.VolumeMountPath}}
}

// bootstrapMachineRequest is the throwaway machine that idles so commands
// can be executed in it.
func (s *Saga) bootstrapMachineRequest() provider.MachineRequest {
	return provider.MachineRequest{
		Name:   s.settings.TempMachineName,
		Region: s.settings.Region,
		Config: provider.MachineConfig{
			Image: s.settings.Image,
			Guest: s.guest(),
			Init: provider.Init{
				Entrypoint: []string{"/usr/bin/sleep"},
				Cmd:        []string{"inf"},
				SwapSizeMB: s.settings.SwapSizeMB,
			},
			Restart: provider.RestartNo,
			Mounts:  s.volumeMounts(),
		},
	}
}

// finalMachineRequest runs the server with the verified config and exposes
// the health and webhook ports over TLS.
func (s *Saga) finalMachineRequest() provider.MachineRequest {
	return provider.MachineRequest{
		Name:   s.settings.FinalMachineName,
		Region: s.settings.Region,
		Config: provider.MachineConfig{
			Image: s.settings.Image,
			Guest: s.guest(),
			Init: provider.Init{
				Cmd:        []string{"server", "run", "--config", s.settings.ConfigPath()},
				SwapSizeMB: s.settings.SwapSizeMB,
			},
			Restart: provider.RestartNo,
			Mounts:  s.volumeMounts(),
			Services: []provider.Service{
				{
					InternalPort: s.settings.HealthInternalPort,
					Protocol:     "tcp",
					Ports:        []provider.Port{{Port: s.settings.HealthExternalPort, Handlers: []string{"tls"}}},
				},
				{
					InternalPort: s.settings.WebhookInternalPort,
					Protocol:     "tcp",
					Ports:        []provider.Port{{Port: s.settings.HTTPSPort, Handlers: []string{"tls"}}},
				},
			},
		},
	}
}

// writeConfigCommand writes text verbatim to the config path. The heredoc
// delimiter is quoted so the shell does not expand anything in text.
func (s *Saga) writeConfigCommand(text string) []string {
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	script := fmt.Sprintf("cat > %s <<'%s'\n%s%s\n", s.settings.ConfigPath(), heredocDelimiter, text, heredocDelimiter)
	return []string{"sh", "-c", script}
}

// verifyConfigCommand resolves every referenced component without starting
// the server. Secrets are not set yet, so missing env vars are ignored.
func (s *Saga) verifyConfigCommand() []string {
	return []string{s.settings.BinaryPath, "server", "verify", "--ignore-missing-env-vars", "--config", s.settings.ConfigPath()}
}
