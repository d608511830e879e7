package ingestion_engine

import "context"

// Ingestor is the pipeline as seen by the HTTP services and the resync job.
type Ingestor interface {
	Start(ctx context.Context)
	Enqueue(ctx context.Context, req EnqueueRequest) error
	EnqueueEmbed(ctx context.Context, t Task) error
	Recover(ctx context.Context) (int, error)
	Close()
}

var _ Ingestor = (*Pipeline)(nil)
