// Package recorder captures notifications and device commands in tests.
package recorder

import (
	"context"
	"rover/pkg/devicecmd"
	"rover/pkg/notify"
	"sync"
)

type Notifier struct {
	mu   sync.Mutex
	sent []notify.Notification
	// Fail, when set, decides whether a notification is rejected.
	Fail func(notify.Notification) error
}

func (n *Notifier) Notify(_ context.Context, notification notify.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.Fail != nil {
		if err := n.Fail(notification); err != nil {
			return err
		}
	}
	n.sent = append(n.sent, notification)
	return nil
}

func (n *Notifier) Sent() []notify.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.Notification(nil), n.sent...)
}

func (n *Notifier) OfKind(kind notify.Kind) []notify.Notification {
	var out []notify.Notification
	for _, sent := range n.Sent() {
		if sent.Kind == kind {
			out = append(out, sent)
		}
	}
	return out
}

type Sender struct {
	mu   sync.Mutex
	sent []devicecmd.Command
	Fail func(devicecmd.Command) error
}

func (s *Sender) Send(_ context.Context, cmd devicecmd.Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		if err := s.Fail(cmd); err != nil {
			return err
		}
	}
	s.sent = append(s.sent, cmd)
	return nil
}

func (s *Sender) Sent() []devicecmd.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]devicecmd.Command(nil), s.sent...)
}
