package fitting

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Session - 쇼퍼 세션 하나 (Compositor 1개)
type Session struct {
	ID         string
	Compositor *Compositor

	mu           sync.Mutex
	createdAt    time.Time
	lastActivity time.Time
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *Session) times() (created, last time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createdAt, s.lastActivity
}

// Metrics - 세션 통계
type Metrics struct {
	TotalSessions  int       `json:"totalSessions"`
	ActiveSessions int       `json:"activeSessions"`
	StartTime      time.Time `json:"startTime"`
}

// Registry - 세션 ID → Session 관리
type Registry struct {
	newCompositor func() *Compositor
	log           zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	metrics  Metrics
}

// NewRegistry - factory 는 세션마다 새 Compositor 를 만들어야 함
func NewRegistry(factory func() *Compositor, log zerolog.Logger) *Registry {
	return &Registry{
		newCompositor: factory,
		log:           log,
		sessions:      make(map[string]*Session),
		metrics:       Metrics{StartTime: time.Now()},
	}
}

// GetOrCreate - 세션 가져오기 또는 생성
func (r *Registry) GetOrCreate(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, exists := r.sessions[id]
	if !exists {
		now := time.Now()
		session = &Session{
			ID:           id,
			Compositor:   r.newCompositor(),
			createdAt:    now,
			lastActivity: now,
		}
		r.sessions[id] = session
		r.metrics.TotalSessions++
		r.metrics.ActiveSessions++

		r.log.Info().
			Str("session", id).
			Int("total", r.metrics.TotalSessions).
			Int("active", r.metrics.ActiveSessions).
			Msg("✅ Created new studio session")
	}

	session.touch()
	return session
}

// Get - 세션 조회 (없으면 false)
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[id]
	return session, ok
}

// Cancel - 이 인스턴스의 세션 요청 취소 (진행 중이 아니면 false)
func (r *Registry) Cancel(id string) bool {
	session, ok := r.Get(id)
	if !ok {
		return false
	}
	return session.Compositor.Cancel()
}

// Metrics - 통계 복사본
func (r *Registry) Metrics() Metrics {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.metrics
}

// CleanupExpired - 만료(maxAge) 또는 비활성(idle) 세션 정리
// 처리 중이거나 스트림 구독자가 있는 세션은 비활성 정리 대상에서 제외
func (r *Registry) CleanupExpired(maxAge, idle time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cleaned := 0
	for id, session := range r.sessions {
		created, last := session.times()
		snap := session.Compositor.Snapshot()
		active := snap.InProgress || session.Compositor.Subscribers() > 0

		isExpired := now.Sub(created) > maxAge && !snap.InProgress
		isInactive := now.Sub(last) > idle && !active
		if !isExpired && !isInactive {
			continue
		}

		session.Compositor.Cancel()
		delete(r.sessions, id)
		r.metrics.ActiveSessions--
		cleaned++

		reason := "expired"
		if !isExpired {
			reason = "inactive"
		}
		r.log.Info().
			Str("session", id).
			Str("reason", reason).
			Dur("age", now.Sub(created)).
			Msg("🧹 Cleaned up studio session")
	}

	if cleaned > 0 {
		r.log.Info().Int("cleaned", cleaned).Int("active", r.metrics.ActiveSessions).Msg("🗑️ Session cleanup finished")
	}
	return cleaned
}

// StartCleanupRoutine - 주기적으로 세션 정리 (ctx 종료 시 중단)
func (r *Registry) StartCleanupRoutine(ctx context.Context, every, maxAge, idle time.Duration) {
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.CleanupExpired(maxAge, idle)
			}
		}
	}()

	r.log.Info().Dur("every", every).Dur("max_age", maxAge).Dur("idle", idle).Msg("🔄 Started session cleanup routine")
}
