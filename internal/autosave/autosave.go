package autosave

import (
	"context"
	"sync"
	"time"

	"github.com/manpreetbhatti/coderoom/internal/db"
	"github.com/manpreetbhatti/coderoom/internal/room"
	"github.com/manpreetbhatti/coderoom/pkg/logger"
)

type Config struct {
	Interval time.Duration
	Keep     int
}

func DefaultConfig() Config {
	return Config{
		Interval: 2 * time.Minute,
		Keep:     20,
	}
}

// Service periodically archives the document of every live room.
type Service struct {
	registry *room.Registry
	store    db.Store
	config   Config
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(registry *room.Registry, store db.Store, config Config) *Service {
	return &Service{
		registry: registry,
		store:    store,
		config:   config,
		stop:     make(chan struct{}),
	}
}

func (s *Service) Start() {
	if s.config.Interval <= 0 {
		logger.Info("💾 Autosave disabled")
		return
	}

	s.wg.Add(1)
	go s.run()
	logger.Info("💾 Autosave service started (interval: %v, keep: %d)", s.config.Interval, s.config.Keep)
}

func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		s.wg.Wait()
		logger.Info("💾 Autosave service stopped")
	})
}

func (s *Service) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			// One last pass so edits since the previous tick are kept
			s.saveAllRooms()
			return
		case <-ticker.C:
			s.saveAllRooms()
		}
	}
}

func (s *Service) saveAllRooms() {
	saved := 0
	for _, rm := range s.registry.Rooms() {
		ok, err := s.saveRoom(rm)
		if err != nil {
			logger.Error("Autosave: failed for room %s: %v", rm.ID, err)
			continue
		}
		if ok {
			saved++
		}
	}

	if saved > 0 {
		logger.Info("💾 Autosaved %d rooms", saved)
	}
}

func (s *Service) saveRoom(rm *room.Room) (bool, error) {
	content := rm.Document()
	if content == "" {
		return false, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	version, created, err := db.SaveAutoVersion(ctx, s.store, db.NewVersion{
		RoomID:  rm.ID,
		Content: content,
	}, s.config.Keep)
	if err != nil {
		return false, err
	}
	if created {
		logger.Debug("Autosave: room %s saved as version %d", rm.ID, version.ID)
	}
	return created, nil
}

// SaveNow archives one live room immediately. It reports whether a new
// version was written; empty and unchanged documents are skipped.
func (s *Service) SaveNow(roomID string) (bool, error) {
	rm, ok := s.registry.GetRoom(roomID)
	if !ok {
		return false, room.ErrRoomNotFound
	}
	return s.saveRoom(rm)
}
