package archive

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/astromitra/consultroom/go/internal/metrics"
	"github.com/astromitra/consultroom/go/internal/models"
)

const writeTimeout = 5 * time.Second

// Worker drains a buffered queue of appended messages into the store.
// Enqueue never blocks the relay; a full queue drops the message and the
// loss is observable through metrics and logs.
type Worker struct {
	store Store
	ch    chan models.Message
}

// NewWorker creates an archive worker over the given store.
func NewWorker(store Store, queueSize int) *Worker {
	return &Worker{
		store: store,
		ch:    make(chan models.Message, queueSize),
	}
}

// Enqueue hands a message off for persistence without blocking.
func (w *Worker) Enqueue(msg models.Message) {
	select {
	case w.ch <- msg:
		metrics.ArchiveQueueDepth.Set(float64(len(w.ch)))
	default:
		metrics.ArchiveDropped.Inc()
		log.Warn().
			Str("room_id", msg.RoomID).
			Str("message_id", msg.ID).
			Msg("archive queue full, dropping message")
	}
}

// Run consumes the queue until ctx is cancelled, then drains what is left.
func (w *Worker) Run(ctx context.Context) error {
	log.Info().Str("driver", w.store.Driver()).Msg("archive worker started")

	for {
		select {
		case <-ctx.Done():
			w.drain()
			log.Info().Msg("archive worker shutting down")
			return nil
		case msg := <-w.ch:
			w.save(msg)
			metrics.ArchiveQueueDepth.Set(float64(len(w.ch)))
		}
	}
}

func (w *Worker) save(msg models.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := w.store.SaveMessage(ctx, msg); err != nil {
		metrics.ArchiveWrites.WithLabelValues(w.store.Driver(), "error").Inc()
		log.Error().
			Err(err).
			Str("room_id", msg.RoomID).
			Str("message_id", msg.ID).
			Msg("failed to archive message")
		return
	}
	metrics.ArchiveWrites.WithLabelValues(w.store.Driver(), "ok").Inc()
}

// drain flushes pending writes on shutdown without waiting for new work.
func (w *Worker) drain() {
	for {
		select {
		case msg := <-w.ch:
			w.save(msg)
		default:
			return
		}
	}
}
