package aggregation

import (
	"context"
	"errors"
	"time"

	"unified-portfolio-go/internal/models"
	"unified-portfolio-go/internal/provider"
	"unified-portfolio-go/internal/store"

	"go.uber.org/zap"
)

// loadSection serves one resource from the mirror while it is fresh, otherwise
// refreshes it from the adapter and writes it through. A failed write-through
// is logged and the fetched data is still returned.
func loadSection[T any](
	ctx context.Context,
	s *Service,
	p models.Provider,
	accountId string,
	resource models.Resource,
	empty T,
	readMirror func(context.Context) (T, error),
	fetch func(context.Context) (T, error),
	persist func(context.Context, T, time.Time) (T, error),
) (models.Section[T], error) {
	op := "fetch_" + string(resource)
	now := s.now().UTC()

	syncedAt, ok, err := s.store.GetSyncedAt(ctx, accountId, resource)
	if err != nil {
		zap.L().Warn("Failed to read mirror sync state",
			zap.String("account_id", accountId),
			zap.String("resource", string(resource)),
			zap.Error(err))
	} else if ok && now.Sub(syncedAt) < s.mirrorTTL {
		data, err := readMirror(ctx)
		if err == nil {
			zap.L().Debug("Mirror hit",
				zap.String("account_id", accountId),
				zap.String("resource", string(resource)),
				zap.Time("synced_at", syncedAt))
			return models.Section[T]{Data: data, Source: models.SourceMirror, SyncedAt: &syncedAt}, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			zap.L().Warn("Failed to read mirror, refreshing from provider",
				zap.String("account_id", accountId),
				zap.String("resource", string(resource)),
				zap.Error(err))
		}
	}

	zap.L().Debug("Mirror stale, fetching from provider",
		zap.String("account_id", accountId),
		zap.String("resource", string(resource)))

	var data T
	err = provider.Retry(ctx, op, s.retries, func(ctx context.Context) error {
		var fetchErr error
		data, fetchErr = fetch(ctx)
		return fetchErr
	})
	if err != nil {
		err = provider.Normalize(p, op, err)
		logSectionFailure(ctx, p, accountId, op, err)
		return models.Section[T]{Data: empty, Error: sectionError(err)}, err
	}

	fetchedAt := s.now().UTC()
	persisted, err := persist(ctx, data, fetchedAt)
	if err != nil {
		zap.L().Warn("Failed to write provider data through to mirror",
			zap.String("account_id", accountId),
			zap.String("resource", string(resource)),
			zap.Error(err))
	} else {
		data = persisted
	}
	return models.Section[T]{Data: data, Source: models.SourceProvider, SyncedAt: &fetchedAt}, nil
}

func sectionError(err error) *models.SectionError {
	return &models.SectionError{Code: string(provider.KindOf(err)), Message: err.Error()}
}

func logSectionFailure(ctx context.Context, p models.Provider, accountId, op string, err error) {
	fields := []zap.Field{
		zap.String("provider", string(p)),
		zap.String("account_id", accountId),
		zap.String("op", op),
		zap.String("kind", string(provider.KindOf(err))),
		zap.Error(err),
	}
	if rc := models.GetRequestContext(ctx); rc != nil {
		fields = append(fields, zap.String("request_id", rc.RequestId))
	}
	if provider.KindOf(err) == provider.KindUnknown {
		zap.L().Error("Provider section failed", fields...)
		return
	}
	zap.L().Warn("Provider section failed", fields...)
}
