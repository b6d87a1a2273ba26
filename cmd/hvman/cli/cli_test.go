package cli_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frobware/go-hvman/cmd/hvman/cli"
	"github.com/frobware/go-hvman/device"
	"github.com/frobware/go-hvman/logging"
	"github.com/frobware/go-hvman/manager"
)

// hypervisor is a TCP stand-in that accepts every command and keeps
// track of device names so that "list" answers agree with what was
// created.
type hypervisor struct {
	listener net.Listener

	mu       sync.Mutex
	names    map[string][]string
	received []string
}

func newHypervisor(t *testing.T) *hypervisor {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	h := &hypervisor{listener: l, names: make(map[string][]string)}
	t.Cleanup(func() { _ = l.Close() })
	go h.serve()
	return h
}

func (h *hypervisor) addr() string { return h.listener.Addr().String() }

func (h *hypervisor) commands() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.received)
}

func (h *hypervisor) serve() {
	for {
		conn, err := h.listener.Accept()
		if err != nil {
			return
		}
		go h.handle(conn)
	}
}

func (h *hypervisor) handle(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		if _, err := conn.Write([]byte(h.reply(line))); err != nil {
			return
		}
	}
}

func (h *hypervisor) reply(line string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.received = append(h.received, line)

	module, rest, _ := strings.Cut(line, " ")
	verb, args, _ := strings.Cut(rest, " ")
	quoted := strings.Split(args, `"`)
	switch verb {
	case "create":
		if len(quoted) > 1 {
			h.names[module] = append(h.names[module], quoted[1])
		}
	case "delete":
		if len(quoted) > 1 {
			h.names[module] = slices.DeleteFunc(h.names[module], func(n string) bool { return n == quoted[1] })
		}
	case "rename":
		if len(quoted) > 3 {
			if i := slices.Index(h.names[module], quoted[1]); i >= 0 {
				h.names[module][i] = quoted[3]
			}
		}
	case "list":
		var b strings.Builder
		for _, n := range h.names[module] {
			b.WriteString("101 " + n + "\r\n")
		}
		b.WriteString("100-OK\r\n")
		return b.String()
	}
	return "100-OK\r\n"
}

type harness struct {
	t     *testing.T
	hyper *hypervisor
	base  string
	conf  string
	logs  bytes.Buffer
}

func newHarness(t *testing.T) *harness {
	t.Setenv(logging.EnvVar, "")
	dir := t.TempDir()
	return &harness{
		t:     t,
		hyper: newHypervisor(t),
		base:  filepath.Join(dir, "run"),
		conf:  filepath.Join(dir, "absent.toml"),
	}
}

// run parses and executes one hvman invocation.
func (h *harness) run(args ...string) (string, error) {
	h.t.Helper()
	var out bytes.Buffer
	c := cli.CLI{Out: &out, Err: &h.logs}
	parser, err := kong.New(&c, cli.KongOptions()...)
	require.NoError(h.t, err)

	global := []string{
		"--config", h.conf,
		"--base", h.base,
		"--hypervisor", h.hyper.addr(),
		"--udp-range", "41000-41020",
		"--console-range", "45000-45010",
	}
	kctx, err := parser.Parse(append(global, args...))
	if err != nil {
		return "", err
	}
	kctx.BindTo(context.Background(), (*context.Context)(nil))
	err = kctx.Run(&c)
	return out.String(), err
}

// writeConfig puts a config file where --config points.
func (h *harness) writeConfig(body string) {
	h.t.Helper()
	require.NoError(h.t, os.WriteFile(h.conf, []byte(body), 0o644))
}

func (h *harness) mustRun(args ...string) string {
	h.t.Helper()
	out, err := h.run(args...)
	require.NoError(h.t, err, "hvman %s", strings.Join(args, " "))
	return out
}

func TestCLI_SwitchWorkflow(t *testing.T) {
	h := newHarness(t)

	var rec device.Record
	require.NoError(t, json.Unmarshal([]byte(h.mustRun("switch", "create", "SW1", "-o", "json")), &rec))
	assert.Equal(t, "SW1", rec.Name)
	assert.EqualValues(t, 1, rec.ID)

	h.mustRun("switch", "nio", "add", "1", "0", "auto:127.0.0.1:30000")
	h.mustRun("switch", "nio", "add", "1", "1", "41010:127.0.0.1:30001")
	h.mustRun("switch", "vc", "map", "1", "0:16", "1:17")

	out := h.mustRun("switch", "get", "1", "-o", "jsonpath={.circuits[0].out.dlci}")
	assert.Equal(t, "17\n", out)
	out = h.mustRun("switch", "get", "1", "-o", "jsonpath={.udp_ports}")
	assert.Contains(t, out, "41010")

	out = h.mustRun("switch", "list")
	assert.Contains(t, out, "SW1")

	out = h.mustRun("switch", "list", "--remote", "-o", "json")
	assert.JSONEq(t, `["SW1"]`, out)

	h.mustRun("switch", "rename", "1", "core")
	out = h.mustRun("switch", "get", "1", "-o", "jsonpath={.device.name}")
	assert.Equal(t, "core\n", out)

	h.mustRun("switch", "vc", "unmap", "1", "0:16", "1:17")
	h.mustRun("switch", "nio", "remove", "1", "0")
	out = h.mustRun("switch", "get", "1", "-o", "json")
	assert.NotContains(t, out, `"circuits"`)

	h.mustRun("switch", "delete", "1")
	assert.JSONEq(t, `[]`, h.mustRun("switch", "list", "-o", "json"))
	assert.Contains(t, h.hyper.commands(), `frsw delete "core"`)
}

func TestCLI_VMAndExport(t *testing.T) {
	h := newHarness(t)

	out := h.mustRun("vm", "create", "VM1")
	assert.Equal(t, "Created VirtualBox VM 1 (VM1) with console 45000\n", out)
	h.mustRun("vm", "create", "VM2", "--console", "46000")
	h.mustRun("vm", "nio", "add", "2", "0", "auto:127.0.0.1:30000")
	h.mustRun("switch", "create", "SW1")

	var topo manager.Topology
	require.NoError(t, json.Unmarshal([]byte(h.mustRun("export", "-o", "json")), &topo))
	require.Len(t, topo.VMs, 2)
	require.Len(t, topo.Switches, 1)
	assert.Equal(t, 46000, topo.VMs[1].Record.Console)
	require.Len(t, topo.VMs[1].NIOs, 1)
	assert.Equal(t, 41000, topo.VMs[1].NIOs[0].Spec.LPort)
	assert.Equal(t, 41000, topo.Settings.UDP.StartPort)

	out = h.mustRun("export")
	assert.Contains(t, out, "switches:")
	assert.Contains(t, out, "name: VM2")

	assert.True(t, slices.ContainsFunc(h.hyper.commands(), func(c string) bool {
		return strings.HasPrefix(c, `vbox add_nio_binding "VM2" 0 nio_udp_`)
	}))
}

func TestCLI_CheckAndReset(t *testing.T) {
	h := newHarness(t)
	h.mustRun("switch", "create", "SW1")
	h.mustRun("vm", "create", "VM1")

	assert.Equal(t, "All checks passed.\n", h.mustRun("check"))

	out := h.mustRun("reset", "--dry-run")
	assert.Equal(t, "Would delete Frame Relay switch SW1\nWould delete VirtualBox VM VM1\n", out)
	assert.Contains(t, h.mustRun("switch", "list"), "SW1")

	h.mustRun("reset", "switch")
	assert.Contains(t, h.mustRun("switch", "list"), "No managed switches found")
	assert.Contains(t, h.mustRun("vm", "list"), "VM1")

	h.mustRun("reset")
	assert.Equal(t, "Nothing to reset\n", h.mustRun("reset"))
}

func TestCLI_Settings(t *testing.T) {
	h := newHarness(t)

	var s manager.Settings
	require.NoError(t, json.Unmarshal([]byte(h.mustRun("settings", "-o", "json")), &s))
	assert.Equal(t, 41000, s.UDP.StartPort)
	assert.Equal(t, 41020, s.UDP.EndPort)
	assert.Equal(t, 45000, s.Console.StartPort)
}

func TestCLI_Errors(t *testing.T) {
	h := newHarness(t)

	_, err := h.run("switch", "get", "7")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "doesn't exist")

	_, err = h.run("switch", "vc", "map", "1", "0-16", "1:17")
	require.Error(t, err, "malformed endpoint")

	_, err = h.run("udp", "allocate", "router", "1")
	require.Error(t, err, "unknown module")

	_, err = h.run("switch", "delete", "1")
	require.Error(t, err)
}

func TestCLI_UDPAllocate(t *testing.T) {
	h := newHarness(t)
	h.mustRun("switch", "create", "SW1")

	assert.Equal(t, "41000\n", h.mustRun("udp", "allocate", "switch", "1"))
	assert.Equal(t, "41001\n", h.mustRun("udp", "allocate", "switch", "0x1"))
}

// TestCLI_LogLevelPrecedence verifies that:
//
//	Given the built-in defaults, which log at warn,
//	When a config file sets [logging] level = "info",
//	Then info records reach stderr,
//	And HVMAN_LOG overrides the config file,
//	And --log overrides HVMAN_LOG.
func TestCLI_LogLevelPrecedence(t *testing.T) {
	h := newHarness(t)
	const created = "Frame Relay switch created"

	h.mustRun("switch", "create", "SW1")
	assert.NotContains(t, h.logs.String(), created)

	h.writeConfig("[logging]\nlevel = \"info\"\n")
	h.logs.Reset()
	h.mustRun("switch", "create", "SW2")
	assert.Contains(t, h.logs.String(), created)

	t.Setenv(logging.EnvVar, "error")
	h.logs.Reset()
	h.mustRun("switch", "create", "SW3")
	assert.NotContains(t, h.logs.String(), created)

	h.logs.Reset()
	h.mustRun("--log", "info", "switch", "create", "SW4")
	assert.Contains(t, h.logs.String(), created)
}

func TestCLI_ConfigComponentLevel(t *testing.T) {
	h := newHarness(t)
	h.writeConfig("[logging]\nlevel = \"error\"\n\n[logging.components]\nfrsw = \"info\"\n")

	h.mustRun("switch", "create", "SW1")
	assert.Contains(t, h.logs.String(), "Frame Relay switch created")
}
