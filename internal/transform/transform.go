// Package transform implements the build transform: a pure function from a
// decoded Dockerfile and a validated build config to a new directive
// sequence that preserves the user's build while injecting enclave runtime
// scaffolding and rewriting the entrypoint.
package transform

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/evervault/enclave-cli/internal/dockerfile"
	"github.com/evervault/enclave-cli/internal/enclaveconfig"
	"github.com/evervault/enclave-cli/internal/shellscript"
)

// restrictedPort is reserved for the data-plane's own TLS listener.
const restrictedPort = 443

func evDomain() string {
	// EV_DOMAIN is captured once at process start by cmd/enclave through
	// SetDomainOverride rather than threaded through every caller as an
	// explicit parameter; an empty override means the default domain.
	if d := envDomainOverride; d != "" {
		return d
	}
	return "evervault.com"
}

// envDomainOverride is set by cmd/enclave from EV_DOMAIN before invoking the
// transform; tests leave it empty and get the "evervault.com" default.
var envDomainOverride string

// SetDomainOverride configures the EV_DOMAIN used by Transform. Exported so
// cmd/enclave can set it once at startup without the transform depending on
// the os package directly.
func SetDomainOverride(domain string) {
	envDomainOverride = domain
}

// Transform runs the one-pass algorithm from SPEC_FULL.md §4.2 over in,
// producing the processed directive sequence or a transform error.
func Transform(in []dockerfile.Directive, cfg *enclaveconfig.ValidatedBuildConfig, dataPlaneVersion, installerVersion string) ([]dockerfile.Directive, error) {
	var kept []dockerfile.Directive
	var lastEntrypoint *dockerfile.EntrypointDirective
	var lastCmd *dockerfile.CmdDirective
	var exposedPort *uint16

	for _, d := range in {
		switch v := d.(type) {
		case dockerfile.EntrypointDirective:
			ep := v
			lastEntrypoint = &ep
		case dockerfile.CmdDirective:
			c := v
			lastCmd = &c
		case dockerfile.ExposeDirective:
			exposedPort = v.Port
		default:
			kept = append(kept, d)
		}
	}

	if exposedPort != nil && *exposedPort == restrictedPort {
		return nil, &RestrictedPortError{Port: *exposedPort}
	}

	combined, err := combine(lastEntrypoint, lastCmd)
	if err != nil {
		return nil, err
	}

	out := make([]dockerfile.Directive, 0, len(kept)+16)
	out = append(out, kept...)
	out = append(out, injected(cfg, dataPlaneVersion, installerVersion, combined, exposedPort)...)
	return out, nil
}

// combine implements the entrypoint+cmd combination rules from
// SPEC_FULL.md §4.2 step 4.
func combine(ep *dockerfile.EntrypointDirective, cmd *dockerfile.CmdDirective) (string, error) {
	if ep == nil && cmd == nil {
		return "", ErrNoEntrypoint
	}

	epExec := ep != nil && ep.Mode != nil && *ep.Mode == dockerfile.ModeExec
	cmdExec := cmd != nil && cmd.Mode != nil && *cmd.Mode == dockerfile.ModeExec

	switch {
	case ep != nil && cmd != nil && epExec && cmdExec:
		return shellscript.CombineExecTokens(ep.Tokens, cmd.Tokens), nil
	case ep != nil && cmd != nil:
		return strings.TrimSpace(text(ep.Mode, ep.Tokens) + " " + text(cmd.Mode, cmd.Tokens)), nil
	case ep != nil:
		return text(ep.Mode, ep.Tokens), nil
	default:
		return text(cmd.Mode, cmd.Tokens), nil
	}
}

// text renders a directive's tokens back to the form they'd have appeared
// in as raw shell text, regardless of mode, for the mixed exec/shell
// concatenation branch of combine.
func text(mode *dockerfile.Mode, tokens []string) string {
	if mode != nil && *mode == dockerfile.ModeExec {
		return shellscript.JoinShellTokens(tokens)
	}
	return strings.Join(tokens, " ")
}

func featureLabel(egress enclaveconfig.EgressSettings, tlsTermination bool) string {
	egressLabel := "disabled"
	if egress.Enabled {
		egressLabel = "enabled"
	}
	tlsLabel := "disabled"
	if tlsTermination {
		tlsLabel = "enabled"
	}
	label := fmt.Sprintf("egress-%s/tls-termination-%s", egressLabel, tlsLabel)
	if egress.ForwardProxyProtocol {
		label += "/forward-proxy-protocol"
	}
	return label
}

func execMode() dockerfile.Mode { return dockerfile.ModeExec }

func run(args string) dockerfile.Directive {
	return dockerfile.RunDirective{Arguments: args}
}

func add(url, dest string) dockerfile.Directive {
	return dockerfile.AddDirective{SourceURL: url, DestinationPath: dest}
}

// injected builds the fixed suffix of scaffolding directives appended after
// every kept user directive, in the exact order SPEC_FULL.md §4.2 specifies.
func injected(cfg *enclaveconfig.ValidatedBuildConfig, dataPlaneVersion, installerVersion, combinedCmd string, exposedPort *uint16) []dockerfile.Directive {
	domain := evDomain()
	installerURL := fmt.Sprintf("https://cage-build-assets.%s/installer/%s.tar.gz", domain, installerVersion)
	dataPlaneURL := fmt.Sprintf("https://cage-build-assets.%s/runtime/%s/data-plane/%s", domain, dataPlaneVersion, featureLabel(cfg.Egress, cfg.TLSTermination))

	userEntrypointScript := strings.Join([]string{
		"#!/bin/sh",
		"sleep 5",
		"SVDIR=/etc/service sv check data-plane || exit 1",
		"while [ ! -f /etc/customer-env ] || ! grep -q EV_API_KEY /etc/customer-env; do sleep 1; done",
		"source /etc/customer-env",
		"exec " + combinedCmd,
		"",
	}, "\n")

	dataPlaneRunScript := strings.Join([]string{
		"#!/bin/sh",
		"exec /opt/evervault/data-plane" + portArg(exposedPort),
		"",
	}, "\n")

	bootstrapScript := strings.Join([]string{
		"#!/bin/sh",
		"ifconfig lo 127.0.0.1",
		"exec runsvdir /etc/service",
		"",
	}, "\n")

	entrypointMode := execMode()

	directives := []dockerfile.Directive{
		run("mkdir -p /opt/evervault"),
		add(installerURL, "/opt/evervault/runtime-dependencies.tar.gz"),
		run("cd /opt/evervault ; tar -xzf runtime-dependencies.tar.gz ; sh ./installer.sh ; rm runtime-dependencies.tar.gz"),
		run("mkdir -p /etc/service/user-entrypoint"),
		writeExecutableScript("/etc/service/user-entrypoint/run", userEntrypointScript),
		add(dataPlaneURL, "/opt/evervault/data-plane"),
		run("chmod +x /opt/evervault/data-plane"),
		run("mkdir -p /etc/service/data-plane"),
		writeExecutableScript("/etc/service/data-plane/run", dataPlaneRunScript),
	}
	directives = append(directives, envBlock(cfg)...)
	directives = append(directives,
		writeExecutableScript("/bootstrap", bootstrapScript),
		dockerfile.EntrypointDirective{Mode: &entrypointMode, Tokens: []string{"/bootstrap", "1>&2"}},
	)
	return directives
}

// envBlock builds the injected ENV block as one EnvDirective per variable,
// one per line, matching SPEC_FULL.md §4.2's "block of ENV directives (one
// per line, delimiter Eq)".
func envBlock(cfg *enclaveconfig.ValidatedBuildConfig) []dockerfile.Directive {
	vars := []dockerfile.EnvVar{
		{Key: "EV_CAGE_NAME", Value: cfg.EnclaveName, Delimiter: dockerfile.DelimiterEq},
		{Key: "CAGE_UUID", Value: cfg.EnclaveUUID, Delimiter: dockerfile.DelimiterEq},
		{Key: "EV_APP_UUID", Value: cfg.AppUUID, Delimiter: dockerfile.DelimiterEq},
		{Key: "EV_TEAM_UUID", Value: cfg.TeamUUID, Delimiter: dockerfile.DelimiterEq},
		{Key: "DATA_PLANE_HEALTH_CHECKS", Value: "true", Delimiter: dockerfile.DelimiterEq},
		{Key: "EV_API_KEY_AUTH", Value: strconv.FormatBool(cfg.APIKeyAuth), Delimiter: dockerfile.DelimiterEq},
		{Key: "EV_TRX_LOGGING_ENABLED", Value: strconv.FormatBool(cfg.TrxLoggingEnabled), Delimiter: dockerfile.DelimiterEq},
	}
	directives := make([]dockerfile.Directive, len(vars))
	for i, v := range vars {
		directives[i] = dockerfile.EnvDirective{Vars: []dockerfile.EnvVar{v}}
	}
	return directives
}

func portArg(port *uint16) string {
	if port == nil {
		return ""
	}
	return " " + strconv.FormatUint(uint64(*port), 10)
}

// writeExecutableScript models the injected RUN that prints a script into
// path and chmods it executable, matching the original's
// write_command_to_script helper. A Dockerfile directive is one logical
// line, so body's newlines are carried as literal "\n" escapes for printf to
// expand at build time rather than raw newline bytes, which would split this
// RUN across several illegal bare lines once rendered.
func writeExecutableScript(path, body string) dockerfile.Directive {
	escaped := strings.ReplaceAll(body, "'", `'\''`)
	escaped = strings.ReplaceAll(escaped, "%", "%%")
	escaped = strings.ReplaceAll(escaped, "\n", `\n`)
	cmd := fmt.Sprintf("printf '%s' > %s && chmod +x %s", escaped, path, path)
	return run(cmd)
}
