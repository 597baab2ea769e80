package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/dcrodman/realm/internal/core/bytes"
)

// GameMessage is a game message frame. Reader is positioned at the first bit
// after the message ID and belongs to the subscriber it was passed to.
type GameMessage struct {
	ObjectID   int64
	MessageID  uint16
	Reader     *bytes.BitReader
	Connection Connection
}

// GameMessageHandler consumes game messages published on a GameMessageStream.
type GameMessageHandler func(ctx context.Context, msg *GameMessage) error

type subscriber struct {
	id      uint64
	handler GameMessageHandler
}

// GameMessageStream fans game messages out to every subscriber.
type GameMessageStream struct {
	Logger logrus.FieldLogger

	mu          sync.RWMutex
	nextID      uint64
	subscribers []subscriber
}

func NewGameMessageStream(logger logrus.FieldLogger) *GameMessageStream {
	return &GameMessageStream{Logger: logger}
}

// Subscribe adds handler to the stream. The returned function removes it again.
func (s *GameMessageStream) Subscribe(handler GameMessageHandler) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	s.subscribers = append(s.subscribers, subscriber{id: id, handler: handler})

	var once sync.Once
	return func() {
		once.Do(func() { s.remove(id) })
	}
}

func (s *GameMessageStream) remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Copy so that snapshots taken by Publish are never modified.
	subscribers := make([]subscriber, 0, len(s.subscribers))
	for _, sub := range s.subscribers {
		if sub.id != id {
			subscribers = append(subscribers, sub)
		}
	}
	s.subscribers = subscribers
}

// Subscribers returns the number of current subscribers.
func (s *GameMessageStream) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers)
}

// Publish runs every subscriber concurrently and waits for all of them. Each
// subscriber reads payload through its own BitReader. Errors and panics are
// logged and don't affect the other subscribers.
func (s *GameMessageStream) Publish(ctx context.Context, objectID int64, messageID uint16, payload []byte, conn Connection) {
	s.mu.RLock()
	snapshot := s.subscribers
	s.mu.RUnlock()

	var wg sync.WaitGroup
	for _, sub := range snapshot {
		wg.Add(1)
		go func(handler GameMessageHandler) {
			defer wg.Done()
			msg := &GameMessage{
				ObjectID:   objectID,
				MessageID:  messageID,
				Reader:     bytes.NewBitReader(payload),
				Connection: conn,
			}
			if err := s.deliver(ctx, handler, msg); err != nil {
				s.Logger.WithFields(logrus.Fields{
					"object_id":  objectID,
					"message_id": messageID,
				}).Errorf("error in game message subscriber: %v", err)
			}
		}(sub.handler)
	}
	wg.Wait()
}

func (s *GameMessageStream) deliver(ctx context.Context, handler GameMessageHandler, msg *GameMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v, trace: %s", r, debug.Stack())
		}
	}()
	return handler(ctx, msg)
}
