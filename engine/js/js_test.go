package js

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bylins/mudscript/api"
	"github.com/bylins/mudscript/value"
)

type fakeSender struct{ sent []string }

func (f *fakeSender) Send(command string) { f.sent = append(f.sent, command) }

func prepare(t *testing.T) (*Engine, *api.Host, *fakeSender) {
	e := New()
	require.True(t, e.IsAvailable())

	sender := &fakeSender{}
	host := api.New()
	host.Sender = sender
	require.NoError(t, e.Initialize(host))
	require.NoError(t, e.Initialize(host)) // idempotent
	t.Cleanup(func() { e.Shutdown() })
	return e, host, sender
}

func TestLoadAndCall(t *testing.T) {
	e, _, sender := prepare(t)

	h, err := e.LoadScript("greet", "greet.js", []byte(`
		var counter = 0
		function on_line(line) {
			counter++
			send("count " + counter + " " + line)
			return counter
		}
	`))
	require.NoError(t, err)

	res, err := e.CallFunction(h, "on_line", value.NewString("привет"))
	require.NoError(t, err)
	assert.Equal(t, value.NewInt(1), res)
	assert.Equal(t, []string{"count 1 привет"}, sender.sent)
}

func TestMissingFunctionIsSilent(t *testing.T) {
	e, _, _ := prepare(t)
	h, err := e.LoadScript("empty", "empty.js", []byte(`var nothing = 1`))
	require.NoError(t, err)

	res, err := e.CallFunction(h, "on_msdp", value.NewMap(nil))
	assert.NoError(t, err)
	assert.True(t, res.IsNull())
}

func TestLoadErrorCarriesLocation(t *testing.T) {
	e, _, _ := prepare(t)
	_, err := e.LoadScript("broken", "broken.js", []byte("function on_load( {"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.js")
}

func TestScopeIsolation(t *testing.T) {
	e, _, _ := prepare(t)

	first, err := e.LoadScript("first", "first.js", []byte(`var shared = "first"; function read() { return shared }`))
	require.NoError(t, err)
	second, err := e.LoadScript("second", "second.js", []byte(`function read() { return typeof shared }`))
	require.NoError(t, err)

	res, err := e.CallFunction(first, "read")
	require.NoError(t, err)
	assert.Equal(t, value.NewString("first"), res)

	res, err = e.CallFunction(second, "read")
	require.NoError(t, err)
	assert.Equal(t, value.NewString("undefined"), res)
}

func TestTriggerRegistrationFromScript(t *testing.T) {
	e, host, sender := prepare(t)

	h, err := e.LoadScript("kills", "kills.js", []byte(`
		var id = add_trigger("^(.+) мертв\\.$", function (line, groups) {
			send("collect " + groups[1])
		})
	`))
	require.NoError(t, err)

	out := host.Triggers.MatchLine("Гоблин мертв.")
	assert.Equal(t, 1, out.Matched)
	assert.Equal(t, []string{"collect Гоблин"}, sender.sent)

	res, err := e.CallFunction(h, "missing_hook")
	require.NoError(t, err)
	assert.True(t, res.IsNull())
}

func TestVariablesAndMsdpFromScript(t *testing.T) {
	e, host, _ := prepare(t)
	host.State.UpdateMSDP("HEALTH", value.NewInt(95))

	h, err := e.LoadScript("hp", "hp.js", []byte(`
		function check() {
			set_var("hp", String(get_msdp_value("HEALTH")))
			return get_var("hp")
		}
	`))
	require.NoError(t, err)

	res, err := e.CallFunction(h, "check")
	require.NoError(t, err)
	assert.Equal(t, value.NewString("95"), res)
}

func TestTypescriptLowering(t *testing.T) {
	e, _, _ := prepare(t)
	h, err := e.LoadScript("typed", "typed.ts", []byte(`
		function double(n: number): number { return n * 2 }
	`))
	require.NoError(t, err)

	res, err := e.CallFunction(h, "double", value.NewInt(21))
	require.NoError(t, err)
	assert.Equal(t, value.NewInt(42), res)
}

func TestUnloadReleasesScope(t *testing.T) {
	e, _, _ := prepare(t)
	h, err := e.LoadScript("gone", "gone.js", []byte(`function f() { return 1 }`))
	require.NoError(t, err)
	require.NoError(t, e.UnloadScript(h))
	require.NoError(t, e.UnloadScript(h))
}
