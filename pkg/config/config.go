package config

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"cuelang.org/go/cue"
)

// File is the top level configuration.
type File struct {
	DefaultProfile string             `json:"default_profile,omitempty"`
	Profiles       map[string]Profile `json:"profiles"`
	Gateway        Gateway            `json:"gateway,omitempty"`
	Archive        Archive            `json:"archive,omitempty"`
}

// Profile describes how to reach and log into one server.
type Profile struct {
	// Address is host[:port]. Endpoints, when set, take precedence.
	Address   string     `json:"address,omitempty"`
	Endpoints []Endpoint `json:"endpoints,omitempty"`

	// Transport is "raw" (default) or "ssh".
	Transport string    `json:"transport,omitempty"`
	SSH       SSHConfig `json:"ssh,omitempty"`

	Username string `json:"username,omitempty"`
	// Password is a secret reference, see package secret.
	Password string `json:"password,omitempty"`
	ServerID int    `json:"server_id,omitempty"`
	Nickname string `json:"nickname,omitempty"`

	TimeoutSeconds   float64   `json:"timeout_seconds,omitempty"`
	KeepAliveSeconds int       `json:"keepalive_seconds,omitempty"`
	RateLimit        RateLimit `json:"rate_limit,omitempty"`
	Events           []string  `json:"events,omitempty"`
}

// Endpoint is one failover target.
type Endpoint struct {
	Address  string `json:"address"`
	Priority int    `json:"priority,omitempty"`
}

// SSHConfig configures the ssh transport.
type SSHConfig struct {
	KnownHosts string `json:"known_hosts,omitempty"`
	KeyPath    string `json:"key_path,omitempty"`
	Insecure   bool   `json:"insecure,omitempty"`
}

// RateLimit configures client side flood protection.
type RateLimit struct {
	PerSecond float64 `json:"per_second,omitempty"`
	Burst     int     `json:"burst,omitempty"`
}

// Gateway configures the HTTP gateway.
type Gateway struct {
	Listen   string `json:"listen,omitempty"`
	TLSCert  string `json:"tls_cert,omitempty"`
	TLSKey   string `json:"tls_key,omitempty"`
	ClientCA string `json:"client_ca,omitempty"`
}

// Archive configures S3 event archival.
type Archive struct {
	Bucket string `json:"bucket,omitempty"`
	Prefix string `json:"prefix,omitempty"`
}

// ErrUnknownProfile is returned for a profile name not in the file.
var ErrUnknownProfile = errors.New("config: unknown profile")

// Load reads a configuration file.
func Load(path string) (*File, error) {
	f, err := LoadFromFile[File](path)
	if err != nil {
		return nil, err
	}
	return f, f.Validate()
}

// FromValue decodes an already loaded value. A value without content yields
// an empty File.
func FromValue(val cue.Value) (*File, error) {
	if !val.Exists() {
		return &File{}, nil
	}
	f, err := Decode[File](val)
	if err != nil {
		return nil, err
	}
	return f, f.Validate()
}

// Validate checks transports and endpoint addresses.
func (f *File) Validate() error {
	for name, p := range f.Profiles {
		switch p.Transport {
		case "", "raw", "ssh":
		default:
			return fmt.Errorf("config: profile %s: unknown transport %q", name, p.Transport)
		}
		for i, ep := range p.Endpoints {
			if ep.Address == "" {
				return fmt.Errorf("config: profile %s: endpoint %d has no address", name, i)
			}
		}
	}
	if f.DefaultProfile != "" {
		if _, ok := f.Profiles[f.DefaultProfile]; !ok {
			return fmt.Errorf("%w: default %q", ErrUnknownProfile, f.DefaultProfile)
		}
	}
	return nil
}

// Profile returns the named profile. An empty name selects the default
// profile, or the only profile when there is exactly one.
func (f *File) Profile(name string) (Profile, error) {
	if name == "" {
		name = f.DefaultProfile
	}
	if name == "" && len(f.Profiles) == 1 {
		for n := range f.Profiles {
			name = n
		}
	}
	p, ok := f.Profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q", ErrUnknownProfile, name)
	}
	return p, nil
}

// Names returns the profile names, sorted.
func (f *File) Names() []string {
	names := make([]string, 0, len(f.Profiles))
	for n := range f.Profiles {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Timeout returns the configured timeout or zero.
func (p Profile) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds * float64(time.Second))
}

// KeepAlive returns the configured keep-alive interval or zero.
func (p Profile) KeepAlive() time.Duration {
	return time.Duration(p.KeepAliveSeconds) * time.Second
}
