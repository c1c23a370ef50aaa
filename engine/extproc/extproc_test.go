package extproc

import (
	"bufio"
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bylins/mudscript/api"
	"github.com/bylins/mudscript/ipc"
	"github.com/bylins/mudscript/value"
)

type fakeSender struct{ sent []string }

func (f *fakeSender) Send(command string) { f.sent = append(f.sent, command) }

type fakeOutput struct{ lines []string }

func (f *fakeOutput) Print(text string) { f.lines = append(f.lines, text) }

func prepare(t *testing.T) (*Engine, *api.Host, *fakeSender, *fakeOutput) {
	t.Helper()
	sender := &fakeSender{}
	output := &fakeOutput{}
	host := api.New()
	host.Sender = sender
	host.Output = output
	eng := New(Config{Name: "python", Extensions: []string{".py"}})
	eng.api = host
	return eng, host, sender, output
}

func TestServeSendEchoLog(t *testing.T) {
	eng, _, sender, output := prepare(t)

	assert.Nil(t, eng.Serve("api_send", map[string]interface{}{"command": "взять все"}))
	assert.Nil(t, eng.Serve("api_echo", map[string]interface{}{"text": "hi", "color": ""}))
	assert.Nil(t, eng.Serve("api_log", map[string]interface{}{"message": "loaded"}))

	assert.Equal(t, []string{"взять все"}, sender.sent)
	assert.Equal(t, []string{"hi"}, output.lines)
}

func TestServeVariables(t *testing.T) {
	eng, _, _, _ := prepare(t)

	eng.Serve("api_set_var", map[string]interface{}{"name": "target", "value": "гоблин"})

	res := eng.Serve("api_get_var", map[string]interface{}{"name": "target"})
	assert.Equal(t, "гоблин", res["value"])
	assert.Equal(t, true, res["found"])

	res = eng.Serve("api_get_var", map[string]interface{}{"name": "missing"})
	assert.Equal(t, false, res["found"])

	res = eng.Serve("api_list_vars", nil)
	assert.Equal(t, []interface{}{"target"}, res["names"])

	eng.Serve("api_delete_var", map[string]interface{}{"name": "target"})
	res = eng.Serve("api_list_vars", nil)
	assert.Empty(t, res["names"])
}

func TestServeGameState(t *testing.T) {
	eng, host, _, _ := prepare(t)
	host.State.UpdateMSDP("HEALTH", value.NewInt(95))

	res := eng.Serve("api_get_msdp_value", map[string]interface{}{"key": "HEALTH"})
	assert.Equal(t, int64(95), res["value"])

	res = eng.Serve("api_get_msdp_value", map[string]interface{}{"key": "MANA"})
	assert.Nil(t, res["value"])

	res = eng.Serve("api_get_all_msdp_data", nil)
	assert.Equal(t, map[string]interface{}{"HEALTH": int64(95)}, res["value"])
}

// wrapper side of an in-memory transport for callback round trips
type wrapperPeer struct {
	in  *bufio.Scanner
	out io.Writer
}

func connect(t *testing.T, eng *Engine) *wrapperPeer {
	t.Helper()
	hostRead, peerWrite := io.Pipe()
	peerRead, hostWrite := io.Pipe()
	eng.proc = ipc.Pipe(hostWrite, hostRead, eng.Serve)
	t.Cleanup(func() {
		peerWrite.Close()
		hostWrite.Close()
	})
	return &wrapperPeer{in: bufio.NewScanner(peerRead), out: peerWrite}
}

// answer serve one callback_fire request with a fixed result
func (p *wrapperPeer) answer(t *testing.T, result interface{}) {
	t.Helper()
	require.True(t, p.in.Scan())
	var msg ipc.Message
	require.NoError(t, json.Unmarshal(p.in.Bytes(), &msg))
	require.Equal(t, "callback_fire", msg.Type)
	id := msg.ID
	raw, err := json.Marshal(ipc.Message{
		ResponseTo: &id,
		Data:       map[string]interface{}{"result": result},
	})
	require.NoError(t, err)
	_, err = p.out.Write(append(raw, '\n'))
	require.NoError(t, err)
}

func TestTriggerCallbackRoundTrip(t *testing.T) {
	eng, host, _, _ := prepare(t)
	peer := connect(t, eng)

	res := eng.Serve("api_add_trigger", map[string]interface{}{
		"pattern":  "^(.+) мертв\\.$",
		"priority": json.Number("10"),
		"callback": "cb:1",
	})
	require.NotEmpty(t, res["id"])

	go peer.answer(t, "gag")

	out := host.Triggers.MatchLine("Гоблин мертв.")
	assert.Equal(t, 1, out.Matched)
	assert.True(t, out.Gagged)
}

func TestAliasThroughServe(t *testing.T) {
	eng, host, sender, _ := prepare(t)

	res := eng.Serve("api_add_alias", map[string]interface{}{
		"pattern":     "^вв$",
		"replacement": "взять все",
	})
	require.NotEmpty(t, res["id"])

	assert.True(t, host.HandleCommand("вв"))
	assert.Equal(t, []string{"взять все"}, sender.sent)
}

func TestCallWithoutAnswerIsSilent(t *testing.T) {
	eng, _, _, _ := prepare(t)
	peer := connect(t, eng)

	go func() {
		for peer.in.Scan() { // swallow every request, never answer
		}
	}()

	res, err := eng.CallFunction(&handle{id: "mute"}, "on_line", value.NewString("x"))
	require.NoError(t, err)
	assert.Equal(t, value.Null(), res)
}

func TestUnansweredTriggerCallbackContinues(t *testing.T) {
	eng, host, _, _ := prepare(t)
	peer := connect(t, eng)

	res := eng.Serve("api_add_trigger", map[string]interface{}{
		"pattern":  "^Вы устали\\.$",
		"callback": "cb:2",
	})
	require.NotEmpty(t, res["id"])

	go func() {
		for peer.in.Scan() {
		}
	}()

	out := host.Triggers.MatchLine("Вы устали.")
	assert.Equal(t, 1, out.Matched)
	assert.False(t, out.Gagged)
}

func TestServeBadPatternReportsError(t *testing.T) {
	eng, _, _, _ := prepare(t)

	res := eng.Serve("api_add_trigger", map[string]interface{}{
		"pattern":  "([unclosed",
		"callback": "cb:9",
	})
	assert.NotEmpty(t, res["error"])
	assert.Empty(t, res["id"])
}

func TestServeUnknownRequest(t *testing.T) {
	eng, _, _, _ := prepare(t)
	res := eng.Serve("api_frobnicate", nil)
	assert.Contains(t, res["error"], "api_frobnicate")
}

func TestIntegerDecoding(t *testing.T) {
	assert.Equal(t, int64(10), integer(map[string]interface{}{"n": json.Number("10")}, "n"))
	assert.Equal(t, int64(3), integer(map[string]interface{}{"n": 3.0}, "n"))
	assert.Equal(t, int64(0), integer(map[string]interface{}{}, "n"))
}

func TestMissingInterpreterIsUnavailable(t *testing.T) {
	missing := New(Config{Name: "perl", Command: "no-such-interpreter-on-path"})
	assert.False(t, missing.IsAvailable())
}
