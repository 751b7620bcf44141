package reconciler

import (
	"context"
	"sync"
	"time"

	"campustv/internal/notify"
)

// fakeNotifier records fan-out calls for assertions.
type fakeNotifier struct {
	mu            sync.Mutex
	notifications []fakeNotification
	broadcasts    []fakeBroadcast
	emails        []string
}

type fakeNotification struct {
	AccountID string
	Title     string
	Message   string
}

type fakeBroadcast struct {
	Group string
	Event string
	Data  map[string]interface{}
}

func (f *fakeNotifier) Notify(_ context.Context, accountID, title, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifications = append(f.notifications, fakeNotification{accountID, title, message})
}

func (f *fakeNotifier) Broadcast(group, event string, data map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, fakeBroadcast{group, event, data})
}

func (f *fakeNotifier) SendStreamKeyEmail(_ context.Context, to, _ string, _ notify.IngestInfo, _, _ time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emails = append(f.emails, to)
}

func (f *fakeNotifier) broadcastEvents() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	events := make([]string, 0, len(f.broadcasts))
	for _, b := range f.broadcasts {
		events = append(events, b.Event)
	}
	return events
}

var _ notify.Notifier = (*fakeNotifier)(nil)

func fixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
