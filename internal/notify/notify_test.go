package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeNotifier struct {
	name    string
	enabled bool
	sent    []Event
	err     error
}

func (f *fakeNotifier) Name() string    { return f.name }
func (f *fakeNotifier) IsEnabled() bool { return f.enabled }
func (f *fakeNotifier) Send(ev Event) error {
	f.sent = append(f.sent, ev)
	return f.err
}

func TestManager_SendsOnlyToEnabledBackends(t *testing.T) {
	m := NewManager()
	a := &fakeNotifier{name: "a", enabled: true}
	b := &fakeNotifier{name: "b", enabled: false}
	m.Add(a)
	m.Add(b)

	err := m.PositionOpened("DOGE-USDT-SWAP", 0.12, time.Unix(1700000000, 0))
	assert.NoError(t, err)
	assert.Len(t, a.sent, 1)
	assert.Len(t, b.sent, 0)
	assert.Equal(t, EventPositionOpened, a.sent[0].Type)
}

func TestManager_DisabledGloballySendsNothing(t *testing.T) {
	m := NewManager()
	a := &fakeNotifier{name: "a", enabled: true}
	m.Add(a)
	m.SetEnabled(false)

	require := assert.New(t)
	require.NoError(m.CircuitTripped("DOGE-USDT-SWAP", "stub", time.Now()))
	require.Len(a.sent, 0)
}

func TestTelegramNotifier_DisabledWithoutCredentials(t *testing.T) {
	n := NewTelegramNotifier(TelegramConfig{Enabled: true})
	assert.False(t, n.IsEnabled())
}

func TestDiscordNotifier_DisabledWithoutWebhook(t *testing.T) {
	n := NewDiscordNotifier(DiscordConfig{Enabled: true})
	assert.False(t, n.IsEnabled())
}
