package ui

import (
	"context"
	"fmt"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/chatsync/pkg/chatsync"
	"github.com/go-go-golems/chatsync/pkg/outbound"
)

type stubSubmitter struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (s *stubSubmitter) Submit(_ context.Context, d *outbound.Draft) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, d.Text())
	d.Clear()
	return s.err
}

func entries(n int) []chatsync.Entry {
	ret := make([]chatsync.Entry, n)
	for i := range ret {
		ret[i] = chatsync.Entry{
			DisplayText:    fmt.Sprintf("Message: %d", i+1),
			Origin:         "test",
			Provenance:     "test",
			InsertionOrder: uint64(i + 1),
		}
	}
	return ret
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	ret, ok := next.(Model)
	require.True(t, ok)
	return ret, cmd
}

func sizedModel(t *testing.T, sub Submitter) Model {
	t.Helper()
	m := NewModel(nil, sub, Options{Title: "chatsync", FollowThreshold: 3})
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 80, Height: 10})
	return m
}

func TestModel_IgnoresStaleSnapshots(t *testing.T) {
	m := sizedModel(t, &stubSubmitter{})
	m, _ = update(t, m, SnapshotMsg{chatsync.Snapshot{Revision: 5, State: chatsync.Connected, Entries: entries(2)}})
	m, _ = update(t, m, SnapshotMsg{chatsync.Snapshot{Revision: 4, State: chatsync.Connected, Entries: entries(1)}})
	require.Len(t, m.Entries(), 2)
	require.Contains(t, m.View(), "Message: 2")
	require.Contains(t, m.View(), "connected")
}

func TestModel_FollowsOnlyWhenNearBottom(t *testing.T) {
	m := sizedModel(t, &stubSubmitter{})
	m, _ = update(t, m, SnapshotMsg{chatsync.Snapshot{Revision: 1, State: chatsync.Connected, Entries: entries(30)}})
	bottom := m.viewport.YOffset
	require.Equal(t, 30-m.viewport.Height, bottom)

	m.viewport.GotoTop()
	m, _ = update(t, m, SnapshotMsg{chatsync.Snapshot{Revision: 2, State: chatsync.Connected, Entries: entries(31)}})
	require.Equal(t, 0, m.viewport.YOffset)

	m.viewport.GotoBottom()
	m, _ = update(t, m, SnapshotMsg{chatsync.Snapshot{Revision: 3, State: chatsync.Connected, Entries: entries(32)}})
	require.Equal(t, 32-m.viewport.Height, m.viewport.YOffset)
}

func TestModel_SubmitClearsInputOnEveryAttempt(t *testing.T) {
	sub := &stubSubmitter{err: &outbound.DispatchError{Target: "x", Status: 500, Err: errors.New("HTTP 500")}}
	m := sizedModel(t, sub)
	m.input.SetValue("hi")

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	require.Equal(t, "", m.input.Value())

	res := cmd()
	m, _ = update(t, m, res)
	require.Equal(t, []string{"hi"}, sub.sent)
	require.Contains(t, m.View(), "send failed")
	require.Empty(t, m.Entries())
}

func TestModel_QueuedSubmitsKeepTheirOwnText(t *testing.T) {
	sub := &stubSubmitter{}
	m := sizedModel(t, sub)

	m.input.SetValue("first")
	m, first := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	m.input.SetValue("second")
	m, second := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, first)
	require.NotNil(t, second)

	m, _ = update(t, m, first())
	m, _ = update(t, m, second())
	require.Equal(t, []string{"first", "second"}, sub.sent)
	require.NotContains(t, m.View(), "send failed")
}

func TestModel_BlankInputIsNotSubmitted(t *testing.T) {
	sub := &stubSubmitter{}
	m := sizedModel(t, sub)
	m.input.SetValue("   ")

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.Nil(t, cmd)
	require.Empty(t, sub.sent)
	require.Contains(t, m.View(), "nothing to send")
}

func TestModel_ShowsDisconnectCause(t *testing.T) {
	m := sizedModel(t, &stubSubmitter{})
	m, _ = update(t, m, SnapshotMsg{chatsync.Snapshot{
		Revision: 1,
		State:    chatsync.Disconnected,
		Entries:  entries(1),
		Err:      chatsync.ErrConnectionLost,
	}})
	view := m.View()
	require.Contains(t, view, "disconnected")
	require.Contains(t, view, chatsync.ErrConnectionLost.Error())
	require.Contains(t, view, "Message: 1")
}

func TestFeed_KeepsNewestSnapshot(t *testing.T) {
	f := NewFeed()
	l := f.Listener()
	l(chatsync.Snapshot{Revision: 1})
	l(chatsync.Snapshot{Revision: 3})
	l(chatsync.Snapshot{Revision: 2})

	msg := f.wait()()
	require.Equal(t, uint64(3), msg.(SnapshotMsg).Revision)
}

func TestFeed_DeliversFromCore(t *testing.T) {
	core := chatsync.NewCore()
	f := NewFeed()
	core.AddListener(f.Listener())
	require.NoError(t, core.OnConnecting())

	msg := f.wait()().(SnapshotMsg)
	require.Equal(t, chatsync.Connecting, msg.State)
}
