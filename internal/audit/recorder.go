package audit

import (
	"context"
	"time"
)

// Command sources.
const (
	SourceAPI  = "api"
	SourceMQTT = "mqtt"
)

// recordTimeout bounds one insert.
const recordTimeout = 2 * time.Second

// Logger is the logging surface the recorder needs.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Recorder turns command outcomes into audit entries.
type Recorder struct {
	repo   Repository
	logger Logger
}

// NewRecorder returns a recorder writing to repo. A nil logger discards
// insert failures silently.
func NewRecorder(repo Repository, logger Logger) *Recorder {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Recorder{repo: repo, logger: logger}
}

// Command records one parameter command. cmdErr is the command outcome;
// a non-nil value is stored as the entry's error detail.
func (r *Recorder) Command(ctx context.Context, source, entityType, entityID string, params map[string]any, cmdErr error) {
	details := map[string]any{"params": params, "ok": cmdErr == nil}
	if cmdErr != nil {
		details["error"] = cmdErr.Error()
	}

	// Entries are written even when the request context is already done.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	err := r.repo.Create(ctx, &Log{
		Action:     ActionCommand,
		EntityType: entityType,
		EntityID:   entityID,
		Source:     source,
		Details:    details,
	})
	if err != nil {
		r.logger.Warn("audit record failed",
			"entity_type", entityType,
			"entity_id", entityID,
			"source", source,
			"error", err,
		)
	}
}

// List returns recorded entries.
func (r *Recorder) List(ctx context.Context, filter Filter) (*ListResult, error) {
	return r.repo.List(ctx, filter)
}

// Prune deletes entries older than retention, measured from now.
func (r *Recorder) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	return r.repo.Prune(ctx, time.Now().Add(-retention))
}
