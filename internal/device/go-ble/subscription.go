package goble

import (
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/potlink/internal/device"
)

// stream is the host subscription of one characteristic shared by its monitors
type stream struct {
	link   *link
	char   *ble.Characteristic
	key    string
	ind    bool
	logger *logrus.Logger

	mu    sync.Mutex
	token uint64
	subs  map[uint64]device.ValueHandler
}

func newStream(l *link, c *ble.Characteristic, key string, logger *logrus.Logger) *stream {
	return &stream{
		link:   l,
		char:   c,
		key:    key,
		ind:    c.Property&ble.CharNotify == 0,
		logger: logger,
		subs:   make(map[uint64]device.ValueHandler),
	}
}

func (s *stream) subscribe() error {
	err := s.link.client.Subscribe(s.char, s.ind, func(data []byte) {
		s.deliver(device.EncodeValue(data), nil)
	})
	if err != nil {
		return device.NormalizeError(err)
	}
	s.logger.WithFields(logrus.Fields{
		"device_id": s.link.id,
		"char_uuid": s.key,
		"indicate":  s.ind,
	}).Debug("Subscribed to characteristic")
	return nil
}

func (s *stream) add(cb device.ValueHandler) *subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token++
	s.subs[s.token] = cb
	return &subscription{stream: s, token: s.token}
}

func (s *stream) handlers() []device.ValueHandler {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]device.ValueHandler, 0, len(s.subs))
	for _, cb := range s.subs {
		out = append(out, cb)
	}
	return out
}

func (s *stream) deliver(v device.Value, err error) {
	for _, cb := range s.handlers() {
		cb(v, err)
	}
}

// fail delivers the link failure to every monitor and forgets them
func (s *stream) fail(err error) {
	handlers := s.handlers()
	s.mu.Lock()
	s.subs = make(map[uint64]device.ValueHandler)
	s.mu.Unlock()
	for _, cb := range handlers {
		cb("", err)
	}
}

// remove drops one monitor; the last one unsubscribes on the host
func (s *stream) remove(token uint64) {
	s.mu.Lock()
	if _, ok := s.subs[token]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.subs, token)
	last := len(s.subs) == 0
	s.mu.Unlock()
	if !last {
		return
	}

	l := s.link
	l.mu.Lock()
	if l.streams[s.key] == s {
		delete(l.streams, s.key)
	}
	l.mu.Unlock()
	if l.closed.Load() {
		return
	}
	if err := l.client.Unsubscribe(s.char, s.ind); err != nil {
		s.logger.WithError(err).WithField("char_uuid", s.key).Warn("Failed to unsubscribe from characteristic")
	}
}

// subscription is the device.Subscription handed to one monitor
type subscription struct {
	stream *stream
	once   sync.Once
	token  uint64
}

func (s *subscription) Remove() {
	s.once.Do(func() { s.stream.remove(s.token) })
}
