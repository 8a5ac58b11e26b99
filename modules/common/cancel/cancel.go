package cancel

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Channel - 세션 취소 pub/sub 채널
const Channel = "studio:cancel"

// Message - 취소 메시지
type Message struct {
	SessionID string    `json:"sessionId"`
	Origin    string    `json:"origin"`
	SentAt    time.Time `json:"sentAt"`
}

// Bus - Redis pub/sub 으로 인스턴스 간 세션 취소 전파
type Bus struct {
	rdb        *redis.Client
	instanceID string
	log        zerolog.Logger
}

// NewBus - 인스턴스마다 고유 origin 을 가짐 (자기 메시지는 무시)
func NewBus(rdb *redis.Client, log zerolog.Logger) *Bus {
	return &Bus{rdb: rdb, instanceID: uuid.NewString(), log: log}
}

// PublishCancel - 채널에 취소 메시지 발행
func (b *Bus) PublishCancel(ctx context.Context, sessionID string) error {
	payload, err := encode(Message{SessionID: sessionID, Origin: b.instanceID, SentAt: time.Now()})
	if err != nil {
		return err
	}

	receivers, err := b.rdb.Publish(ctx, Channel, payload).Result()
	if err != nil {
		return fmt.Errorf("failed to publish cancel: %w", err)
	}

	b.log.Info().Str("session", sessionID).Int64("receivers", receivers).Msg("📢 Cancel published")
	return nil
}

// Listen - 다른 인스턴스의 취소 메시지 수신 (ctx 종료 시 반환)
func (b *Bus) Listen(ctx context.Context, onCancel func(sessionID string)) error {
	sub := b.rdb.Subscribe(ctx, Channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe %s: %w", Channel, err)
	}
	b.log.Info().Str("channel", Channel).Str("instance", b.instanceID).Msg("👂 Listening for cancel messages")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.dispatch(msg.Payload, onCancel)
		}
	}
}

func (b *Bus) dispatch(payload string, onCancel func(sessionID string)) {
	m, err := decode(payload)
	if err != nil {
		b.log.Warn().Err(err).Msg("⚠️ Ignoring malformed cancel message")
		return
	}
	if m.Origin == b.instanceID {
		return
	}
	b.log.Info().Str("session", m.SessionID).Str("origin", m.Origin).Msg("🛑 Remote cancel received")
	onCancel(m.SessionID)
}

func encode(m Message) (string, error) {
	if m.SessionID == "" {
		return "", fmt.Errorf("session id is required")
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to encode cancel message: %w", err)
	}
	return string(b), nil
}

func decode(payload string) (Message, error) {
	var m Message
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return Message{}, fmt.Errorf("failed to decode cancel message: %w", err)
	}
	if m.SessionID == "" {
		return Message{}, fmt.Errorf("cancel message has no session id")
	}
	return m, nil
}
