package render

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// Document is the runtime config file.
type Document struct {
	API         Listener          `toml:"api"`
	WebUI       Listener          `toml:"webui"`
	SQLite      SQLite            `toml:"sqlite"`
	Wasm        Wasm              `toml:"wasm"`
	Log         Log               `toml:"log"`
	HTTPServers []HTTPServer      `toml:"http_server"`
	Webhooks    []WebhookEndpoint `toml:"webhook_endpoint,omitempty"`
	Activities  []Activity        `toml:"activity_wasm,omitempty"`
	Workflows   []Workflow        `toml:"workflow,omitempty"`
}

type Listener struct {
	ListeningAddr string `toml:"listening_addr"`
}

type SQLite struct {
	Directory string            `toml:"directory"`
	Pragma    map[string]string `toml:"pragma,omitempty"`
}

type Wasm struct {
	CacheDirectory      string       `toml:"cache_directory"`
	ParallelCompilation bool         `toml:"parallel_compilation"`
	CodegenCache        CodegenCache `toml:"codegen_cache"`
	Backtrace           Backtrace    `toml:"backtrace"`
}

type CodegenCache struct {
	Directory string `toml:"directory"`
}

type Backtrace struct {
	Persist bool `toml:"persist"`
}

type Log struct {
	Stdout LogStdout `toml:"stdout"`
}

type LogStdout struct {
	Enabled bool   `toml:"enabled"`
	Level   string `toml:"level"`
}

type HTTPServer struct {
	Name          string `toml:"name"`
	ListeningAddr string `toml:"listening_addr"`
}

// Location points at a component image.
type Location struct {
	OCI string `toml:"oci"`
}

type Activity struct {
	Name     string   `toml:"name"`
	Location Location `toml:"location"`
	EnvVars  []string `toml:"env_vars,omitempty"`
	Exec     *Exec    `toml:"exec,omitempty"`
}

type Exec struct {
	LockExpiry LockExpiry `toml:"lock_expiry"`
}

type LockExpiry struct {
	Seconds uint32 `toml:"seconds"`
}

type Workflow struct {
	Name     string   `toml:"name"`
	Location Location `toml:"location"`
}

type WebhookEndpoint struct {
	Name       string   `toml:"name"`
	Location   Location `toml:"location"`
	HTTPServer string   `toml:"http_server"`
	Routes     []Route  `toml:"routes"`
	EnvVars    []string `toml:"env_vars,omitempty"`
}

// Route is written as a bare path string when it has no methods, and as an
// inline table { methods = [...], route = "..." } otherwise.
type Route struct {
	Methods []string
	Path    string
}

// MarshalTOML implements toml.Marshaler.
func (r Route) MarshalTOML() ([]byte, error) {
	if len(r.Methods) == 0 {
		line, err := toml.Marshal(map[string]string{"route": r.Path})
		if err != nil {
			return nil, err
		}
		return []byte(strings.TrimPrefix(strings.TrimSpace(string(line)), "route = ")), nil
	}
	// The encoder writes a struct as table body lines and writes a
	// Marshaler's bytes verbatim, so the lines are folded into an inline table.
	body, err := toml.Marshal(routeTable{Methods: r.Methods, Route: r.Path})
	if err != nil {
		return nil, err
	}
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	return []byte("{ " + strings.Join(lines, ", ") + " }"), nil
}

type routeTable struct {
	Methods []string `toml:"methods"`
	Route   string   `toml:"route"`
}

// UnmarshalTOML implements toml.Unmarshaler.
func (r *Route) UnmarshalTOML(v any) error {
	switch val := v.(type) {
	case string:
		*r = Route{Path: val}
		return nil
	case map[string]any:
		out := Route{}
		for k, raw := range val {
			switch k {
			case "route":
				s, ok := raw.(string)
				if !ok {
					return fmt.Errorf("route: expected string, got %T", raw)
				}
				out.Path = s
			case "methods":
				list, ok := raw.([]any)
				if !ok {
					return fmt.Errorf("methods: expected array, got %T", raw)
				}
				for _, m := range list {
					s, ok := m.(string)
					if !ok {
						return fmt.Errorf("methods: expected string, got %T", m)
					}
					out.Methods = append(out.Methods, s)
				}
			default:
				return fmt.Errorf("unknown route key %q", k)
			}
		}
		*r = out
		return nil
	default:
		return fmt.Errorf("route must be a string or a table, got %T", v)
	}
}
