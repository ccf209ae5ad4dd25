package transform

import (
	"strings"
	"testing"

	"github.com/evervault/enclave-cli/internal/dockerfile"
	"github.com/evervault/enclave-cli/internal/enclaveconfig"
)

func testConfig() *enclaveconfig.ValidatedBuildConfig {
	return &enclaveconfig.ValidatedBuildConfig{
		EnclaveName: "my-enclave",
		EnclaveUUID: "enclave-uuid",
		AppUUID:     "app-uuid",
		TeamUUID:    "team-uuid",
		Egress:      enclaveconfig.EgressSettings{Enabled: false},
		TLSTermination: true,
	}
}

func mustTransform(t *testing.T, in []dockerfile.Directive, cfg *enclaveconfig.ValidatedBuildConfig) []dockerfile.Directive {
	t.Helper()
	out, err := Transform(in, cfg, "0.0.0", "abcdef")
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	return out
}

func lastEntrypoint(directives []dockerfile.Directive) *dockerfile.EntrypointDirective {
	for i := len(directives) - 1; i >= 0; i-- {
		if ep, ok := directives[i].(dockerfile.EntrypointDirective); ok {
			return &ep
		}
	}
	return nil
}

// P3: user directives that are not ENTRYPOINT/CMD/EXPOSE pass through the
// transform untouched and in order.
func TestTransform_NonInterference(t *testing.T) {
	user := []dockerfile.Directive{
		dockerfile.FromDirective{Arguments: "node:16-alpine3.14"},
		dockerfile.RunDirective{Arguments: "npm install"},
		dockerfile.OtherDirective{Name: "WORKDIR", Arguments: "/app"},
		dockerfile.RunDirective{Arguments: "echo built"},
	}
	in := append(append([]dockerfile.Directive{}, user...),
		dockerfile.EntrypointDirective{Mode: mode(dockerfile.ModeShell), Tokens: []string{"echo", "hi"}})
	out := mustTransform(t, in, testConfig())

	if len(out) < 4 {
		t.Fatalf("expected at least the 4 user directives preserved, got %d", len(out))
	}
	for i, want := range user {
		if diff := cmpDirective(out[i], want); diff != "" {
			t.Errorf("user directive %d mismatch: %s", i, diff)
		}
	}
}

func cmpDirective(got, want dockerfile.Directive) string {
	if got != want {
		return "directives not equal"
	}
	return ""
}

// P4: an EXPOSE'd port is propagated into exactly one data-plane run-script
// argument, and only once.
func TestTransform_ExposedPortPropagatedOnce(t *testing.T) {
	in := []dockerfile.Directive{
		dockerfile.FromDirective{Arguments: "alpine"},
		dockerfile.ExposeDirective{Port: port(8080)},
		dockerfile.RunDirective{Arguments: "echo hi"},
		dockerfile.EntrypointDirective{Mode: mode(dockerfile.ModeShell), Tokens: []string{"echo", "hi"}},
	}
	out := mustTransform(t, in, testConfig())

	count := 0
	for _, d := range out {
		if run, ok := d.(dockerfile.RunDirective); ok && strings.Contains(run.Arguments, "data-plane 8080") {
			count++
		}
	}
	if count != 1 {
		t.Errorf("expected the exposed port to appear in exactly 1 injected run script, got %d", count)
	}
}

// P5/S5: EXPOSE 443 is rejected, since 443 is reserved for the data-plane's
// own TLS listener.
func TestTransform_RestrictedPort443(t *testing.T) {
	in := []dockerfile.Directive{
		dockerfile.FromDirective{Arguments: "alpine"},
		dockerfile.ExposeDirective{Port: port(443)},
		dockerfile.EntrypointDirective{Mode: mode(dockerfile.ModeShell), Tokens: []string{"echo", "hi"}},
	}
	_, err := Transform(in, testConfig(), "0.0.0", "abcdef")
	if err == nil {
		t.Fatal("expected an error for EXPOSE 443")
	}
	rpe, ok := err.(*RestrictedPortError)
	if !ok {
		t.Fatalf("expected *RestrictedPortError, got %T: %v", err, err)
	}
	if rpe.Port != 443 {
		t.Errorf("expected port 443 in error, got %d", rpe.Port)
	}
}

// P6: running Transform twice over the same inputs produces byte-identical
// output (no wall-clock/randomness leaks into the injected scaffolding).
func TestTransform_Deterministic(t *testing.T) {
	in := []dockerfile.Directive{
		dockerfile.FromDirective{Arguments: "node:16-alpine3.14"},
		dockerfile.RunDirective{Arguments: "npm install"},
		dockerfile.EntrypointDirective{Mode: mode(dockerfile.ModeExec), Tokens: []string{"node", "server.js"}},
	}
	cfg := testConfig()

	out1 := mustTransform(t, in, cfg)
	out2 := mustTransform(t, in, cfg)

	rendered1 := dockerfile.RenderAll(out1)
	rendered2 := dockerfile.RenderAll(out2)
	if rendered1 != rendered2 {
		t.Errorf("transform is not deterministic:\nrun1: %q\nrun2: %q", rendered1, rendered2)
	}
}

func TestTransform_NoEntrypointOrCmdIsError(t *testing.T) {
	in := []dockerfile.Directive{
		dockerfile.FromDirective{Arguments: "alpine"},
		dockerfile.RunDirective{Arguments: "echo hi"},
	}
	_, err := Transform(in, testConfig(), "0.0.0", "abcdef")
	if err != ErrNoEntrypoint {
		t.Fatalf("expected ErrNoEntrypoint, got %v", err)
	}
}

// S6: a full transform over entrypoint+cmd with egress disabled and TLS
// termination enabled produces the expected feature label and final exec
// entrypoint.
func TestTransform_S6_FullGolden(t *testing.T) {
	in := []dockerfile.Directive{
		dockerfile.FromDirective{Arguments: "node:16-alpine3.14"},
		dockerfile.RunDirective{Arguments: "npm install"},
		dockerfile.EntrypointDirective{Mode: mode(dockerfile.ModeExec), Tokens: []string{"node", "server.js"}},
		dockerfile.CmdDirective{Mode: mode(dockerfile.ModeExec), Tokens: []string{"--port", "3000"}},
	}
	cfg := testConfig()
	cfg.Egress = enclaveconfig.EgressSettings{Enabled: false}
	cfg.TLSTermination = true

	out := mustTransform(t, in, cfg)

	var dataPlaneAdd *dockerfile.AddDirective
	for _, d := range out {
		if add, ok := d.(dockerfile.AddDirective); ok && strings.Contains(add.SourceURL, "/runtime/") {
			a := add
			dataPlaneAdd = &a
		}
	}
	if dataPlaneAdd == nil {
		t.Fatal("expected a data-plane ADD directive")
	}
	if !strings.Contains(dataPlaneAdd.SourceURL, "egress-disabled/tls-termination-enabled") {
		t.Errorf("expected feature label in data-plane URL, got %s", dataPlaneAdd.SourceURL)
	}

	ep := lastEntrypoint(out)
	if ep == nil {
		t.Fatal("expected a final ENTRYPOINT directive")
	}
	if ep.Mode == nil || *ep.Mode != dockerfile.ModeExec {
		t.Fatalf("expected exec-mode final entrypoint, got %v", ep.Mode)
	}
	want := []string{"/bootstrap", "1>&2"}
	if len(ep.Tokens) != len(want) {
		t.Fatalf("final entrypoint tokens = %#v, want %#v", ep.Tokens, want)
	}
	for i := range want {
		if ep.Tokens[i] != want[i] {
			t.Errorf("final entrypoint token %d = %q, want %q", i, ep.Tokens[i], want[i])
		}
	}

	var userEntrypointRun *dockerfile.RunDirective
	for _, d := range out {
		if run, ok := d.(dockerfile.RunDirective); ok && strings.Contains(run.Arguments, "/etc/service/user-entrypoint/run") {
			r := run
			userEntrypointRun = &r
		}
	}
	if userEntrypointRun == nil {
		t.Fatal("expected the user-entrypoint script write")
	}
	if !strings.Contains(userEntrypointRun.Arguments, "node server.js --port 3000") {
		t.Errorf("expected combined exec tokens in the user-entrypoint script, got %s", userEntrypointRun.Arguments)
	}
}

// SPEC_FULL.md §4.2: the injected ENV block is one ENV directive per
// variable (delimiter Eq), not one directive carrying every pair.
func TestTransform_EnvBlockIsOneDirectivePerVar(t *testing.T) {
	in := []dockerfile.Directive{
		dockerfile.FromDirective{Arguments: "alpine"},
		dockerfile.EntrypointDirective{Mode: mode(dockerfile.ModeShell), Tokens: []string{"echo", "hi"}},
	}
	out := mustTransform(t, in, testConfig())

	var envDirectives []dockerfile.EnvDirective
	for _, d := range out {
		if env, ok := d.(dockerfile.EnvDirective); ok {
			envDirectives = append(envDirectives, env)
		}
	}
	if len(envDirectives) != 7 {
		t.Fatalf("expected 7 separate ENV directives, got %d", len(envDirectives))
	}
	for _, env := range envDirectives {
		if len(env.Vars) != 1 {
			t.Errorf("expected exactly 1 var per ENV directive, got %d: %+v", len(env.Vars), env)
		}
		if env.Vars[0].Delimiter != dockerfile.DelimiterEq {
			t.Errorf("expected DelimiterEq, got %v", env.Vars[0].Delimiter)
		}
		if strings.Count(env.Render(), "\n") != 0 {
			t.Errorf("ENV directive should render as a single line, got %q", env.Render())
		}
	}
}

// writeExecutableScript's body arguments (user-entrypoint, data-plane run
// script, bootstrap) are multi-line; the resulting RUN directive must still
// render as a single Dockerfile line, with the script's own newlines
// carried as literal "\n" escapes for printf to expand at build time.
func TestWriteExecutableScript_NoRawNewlines(t *testing.T) {
	body := "#!/bin/sh\nsleep 5\necho 'hi'\n"
	d := writeExecutableScript("/bootstrap", body)

	rendered := d.Render()
	if strings.Contains(rendered, "\n") {
		t.Errorf("rendered directive contains a raw newline: %q", rendered)
	}
	if !strings.Contains(rendered, `\n`) {
		t.Errorf("expected the script's newlines to survive as literal \\n escapes, got %q", rendered)
	}
	if !strings.HasPrefix(rendered, "RUN printf '") {
		t.Errorf("expected a printf-based RUN directive, got %q", rendered)
	}
}

func TestTransform_InjectedScriptsRenderOnOneLine(t *testing.T) {
	in := []dockerfile.Directive{
		dockerfile.FromDirective{Arguments: "alpine"},
		dockerfile.EntrypointDirective{Mode: mode(dockerfile.ModeShell), Tokens: []string{"echo", "hi"}},
	}
	out := mustTransform(t, in, testConfig())

	for _, d := range out {
		if run, ok := d.(dockerfile.RunDirective); ok {
			if strings.Contains(run.Render(), "\n") {
				t.Errorf("RUN directive rendered with an embedded newline: %q", run.Render())
			}
		}
	}
}

func TestCombine_ExecExecConcatenatesTokens(t *testing.T) {
	m := dockerfile.ModeExec
	ep := &dockerfile.EntrypointDirective{Mode: &m, Tokens: []string{"node", "server.js"}}
	cmd := &dockerfile.CmdDirective{Mode: &m, Tokens: []string{"--verbose"}}

	got, err := combine(ep, cmd)
	if err != nil {
		t.Fatalf("combine: %v", err)
	}
	if got != "node server.js --verbose" {
		t.Errorf("combine = %q", got)
	}
}

func TestCombine_ShellOnly(t *testing.T) {
	sm := dockerfile.ModeShell
	ep := &dockerfile.EntrypointDirective{Mode: &sm, Tokens: []string{"echo", "hi"}}

	got, err := combine(ep, nil)
	if err != nil {
		t.Fatalf("combine: %v", err)
	}
	if got != "echo hi" {
		t.Errorf("combine = %q", got)
	}
}

func TestFeatureLabel(t *testing.T) {
	tests := []struct {
		egress enclaveconfig.EgressSettings
		tls    bool
		want   string
	}{
		{enclaveconfig.EgressSettings{Enabled: false}, false, "egress-disabled/tls-termination-disabled"},
		{enclaveconfig.EgressSettings{Enabled: true}, true, "egress-enabled/tls-termination-enabled"},
		{enclaveconfig.EgressSettings{Enabled: true, ForwardProxyProtocol: true}, true, "egress-enabled/tls-termination-enabled/forward-proxy-protocol"},
	}
	for _, tt := range tests {
		if got := featureLabel(tt.egress, tt.tls); got != tt.want {
			t.Errorf("featureLabel(%+v, %v) = %q, want %q", tt.egress, tt.tls, got, tt.want)
		}
	}
}

func mode(m dockerfile.Mode) *dockerfile.Mode { return &m }
func port(p uint16) *uint16                   { return &p }
