// Package enclaveconfig loads, validates, and persists the enclave.toml
// project file that drives a build/deploy invocation.
package enclaveconfig

import (
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
)

// SigningInfo locates the certificate/key pair used to sign the built EIF.
type SigningInfo struct {
	CertPath string `toml:"certPath"`
	KeyPath  string `toml:"keyPath"`
}

// EgressSettings controls the data-plane's outbound network policy.
type EgressSettings struct {
	Enabled             bool     `toml:"enabled"`
	Destinations        []string `toml:"destinations,omitempty"`
	ForwardProxyProtocol bool    `toml:"forwardProxyProtocol"`
}

// ScalingConfig sets the desired replica count for a deployment. Present
// only in the `ev-enclave` tree, which SPEC_FULL.md names canonical.
type ScalingConfig struct {
	DesiredReplicas int `toml:"desiredReplicas"`
}

// Measurements mirrors internal/describe.Measurements for the purpose of
// round-tripping through TOML; kept distinct so this package has no
// dependency on internal/describe.
type Measurements struct {
	PCR0      string `toml:"pcr0"`
	PCR1      string `toml:"pcr1"`
	PCR2      string `toml:"pcr2"`
	PCR8      string `toml:"pcr8,omitempty"`
	Signature string `toml:"signature,omitempty"`
}

// EnclaveConfig is the on-disk shape of enclave.toml. Every field is
// optional at the parse stage; Validate enforces which are actually
// required for a given operation.
type EnclaveConfig struct {
	EnclaveName       string          `toml:"name"`
	EnclaveUUID       string          `toml:"enclaveUuid"`
	AppUUID           string          `toml:"appUuid"`
	TeamUUID          string          `toml:"teamUuid"`
	Debug             bool            `toml:"debug"`
	Dockerfile        string          `toml:"dockerfile"`
	Egress            EgressSettings  `toml:"egress"`
	Signing           SigningInfo     `toml:"signing"`
	TLSTermination    bool            `toml:"tlsTermination"`
	APIKeyAuth        bool            `toml:"apiKeyAuth"`
	TrxLoggingEnabled bool            `toml:"trxLoggingEnabled"`
	DataPlaneVersion  string          `toml:"dataPlaneVersion,omitempty"`
	InstallerVersion  string          `toml:"installerVersion,omitempty"`
	Scaling           *ScalingConfig  `toml:"scaling,omitempty"`
	Attestation       *Measurements   `toml:"attestation,omitempty"`
}

// Load reads and parses an enclave.toml file at path.
func Load(path string) (*EnclaveConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "enclaveconfig: reading %s", path)
	}
	var cfg EnclaveConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrapf(err, "enclaveconfig: parsing %s", path)
	}
	return &cfg, nil
}

// ValidatedBuildConfig is the fully-populated, build-invocation-exclusive
// configuration the core build/deploy/transform packages consume. Building
// one is the only way to obtain a config the core will accept, matching
// spec.md §3's "ownership-exclusive to one build invocation" note.
type ValidatedBuildConfig struct {
	EnclaveName       string
	EnclaveUUID       string
	AppUUID           string
	TeamUUID          string
	Debug             bool
	DockerfilePath    string
	Egress            EgressSettings
	Signing           SigningInfo
	PriorAttestation  *Measurements
	TLSTermination    bool
	APIKeyAuth        bool
	TrxLoggingEnabled bool
	DataPlaneVersion  string
	InstallerVersion  string
	Scaling           *ScalingConfig

	// APIURL and APIKey/BearerToken drive the remote API client used by the
	// deploy state machine and the encrypt key-fetch path.
	APIURL      string
	APIKey      string
	BearerToken string

	// GitHash and SourceDateEpoch hold build metadata. Validate leaves them
	// unset and nothing reads them: the deployment intent request takes its
	// metadata from deploy.Options, and the reproducible-build timestamp
	// comes from orchestrator.BuildOptions or SOURCE_DATE_EPOCH.
	GitHash         string
	SourceDateEpoch int64
}

// ErrMissingField is returned by Validate when a required field is absent.
type ErrMissingField struct {
	Field string
}

func (e *ErrMissingField) Error() string {
	return "enclaveconfig: missing required field " + e.Field
}

// Validate checks that c carries every field a build invocation needs and
// produces the owned ValidatedBuildConfig the core consumes. Mirrors the
// original's CageConfig -> ValidatedCageBuildConfig field-presence checks.
func (c *EnclaveConfig) Validate() (*ValidatedBuildConfig, error) {
	required := map[string]string{
		"name":        c.EnclaveName,
		"enclaveUuid": c.EnclaveUUID,
		"appUuid":     c.AppUUID,
		"teamUuid":    c.TeamUUID,
		"dockerfile":  c.Dockerfile,
	}
	for field, val := range required {
		if val == "" {
			return nil, &ErrMissingField{Field: field}
		}
	}
	if c.Signing.CertPath == "" || c.Signing.KeyPath == "" {
		return nil, &ErrMissingField{Field: "signing.certPath/keyPath"}
	}

	apiURL := os.Getenv("EV_API_URL")
	if apiURL == "" {
		apiURL = "https://api.evervault.com"
	}

	return &ValidatedBuildConfig{
		EnclaveName:       c.EnclaveName,
		EnclaveUUID:       c.EnclaveUUID,
		AppUUID:           c.AppUUID,
		TeamUUID:          c.TeamUUID,
		Debug:             c.Debug,
		DockerfilePath:    c.Dockerfile,
		Egress:            c.Egress,
		Signing:           c.Signing,
		PriorAttestation:  c.Attestation,
		TLSTermination:    c.TLSTermination,
		APIKeyAuth:        c.APIKeyAuth,
		TrxLoggingEnabled: c.TrxLoggingEnabled,
		DataPlaneVersion:  c.DataPlaneVersion,
		InstallerVersion:  c.InstallerVersion,
		Scaling:           c.Scaling,
		APIURL:            apiURL,
		APIKey:            os.Getenv("EV_API_KEY"),
	}, nil
}

// Persist writes m back into the enclave.toml at path as the latest
// attestation measurements, matching spec.md §6 "Persisted state".
func Persist(path string, m Measurements) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "enclaveconfig: reading %s", path)
	}
	var cfg EnclaveConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return errors.Wrapf(err, "enclaveconfig: parsing %s", path)
	}
	cfg.Attestation = &m

	out, err := toml.Marshal(&cfg)
	if err != nil {
		return errors.Wrap(err, "enclaveconfig: marshaling updated config")
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return errors.Wrapf(err, "enclaveconfig: writing %s", path)
	}
	return nil
}
