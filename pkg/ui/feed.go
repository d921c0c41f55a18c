package ui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/go-go-golems/chatsync/pkg/chatsync"
)

// SnapshotMsg carries a core snapshot into the bubbletea loop.
type SnapshotMsg struct {
	chatsync.Snapshot
}

// Feed hands core snapshots to the UI without ever blocking the core. Only
// the newest pending snapshot is kept; every snapshot is a full copy of the
// log, so skipping intermediate ones loses nothing.
type Feed struct {
	ch chan chatsync.Snapshot
}

func NewFeed() *Feed {
	return &Feed{ch: make(chan chatsync.Snapshot, 1)}
}

func (f *Feed) Listener() chatsync.Listener {
	return func(s chatsync.Snapshot) {
		for {
			select {
			case f.ch <- s:
				return
			default:
			}
			select {
			case old := <-f.ch:
				if old.Revision > s.Revision {
					s = old
				}
			default:
			}
		}
	}
}

// wait delivers one snapshot. The model re-issues it after every delivery.
func (f *Feed) wait() tea.Cmd {
	return func() tea.Msg {
		return SnapshotMsg{<-f.ch}
	}
}
