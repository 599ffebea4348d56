package ingress

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/snackpdf/platform/internal/monitoring"
)

// sweepBatchSize bounds how many expired files one sweep pass handles.
const sweepBatchSize = 200

// Sweeper periodically removes expired files from the blob store and
// their metadata records.
type Sweeper struct {
	files    *FileStore
	blobs    BlobStore
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
	running  bool
	mu       sync.Mutex
}

// NewSweeper creates a file expiry sweeper.
func NewSweeper(files *FileStore, blobs BlobStore, interval time.Duration) *Sweeper {
	return &Sweeper{
		files:    files,
		blobs:    blobs,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the sweep loop.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(ctx)
	log.Info().Dur("interval", s.interval).Msg("File expiry sweeper started")
}

// Stop halts the sweep loop and waits for it to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
	log.Info().Msg("File expiry sweeper stopped")
}

func (s *Sweeper) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	expired, err := s.files.Expired(ctx, time.Now(), sweepBatchSize)
	if err != nil {
		log.Error().Err(err).Msg("File expiry sweep failed")
		return
	}

	deleted := 0
	for _, file := range expired {
		// Blob first; a metadata row without a blob is harmless, the
		// reverse leaks storage.
		if err := s.blobs.Delete(ctx, file.StoredName); err != nil {
			log.Warn().Err(err).Str("object", file.StoredName).Msg("Failed to delete expired blob")
			continue
		}
		if err := s.files.Delete(ctx, file.ID); err != nil {
			log.Warn().Err(err).Str("file_id", file.ID.String()).Msg("Failed to delete expired file record")
			continue
		}
		deleted++
	}

	if deleted > 0 {
		monitoring.RecordSweepDeleted(deleted)
		log.Info().Int("deleted", deleted).Msg("File expiry sweep completed")
	}
}
