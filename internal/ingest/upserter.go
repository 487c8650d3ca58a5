// Package ingest writes normalized items into the catalog store and runs the
// crawl-to-store pipeline around it.
package ingest

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/ludostock-crawler/internal/catalog"
)

// EntityResolver resolves every related entity of an item.
type EntityResolver interface {
	ResolveAll(ctx context.Context, item catalog.NormalizedItem) (map[catalog.EntityKind][]int64, error)
}

// Upserter creates an item with its links unless an item with the same name
// already exists.
type Upserter struct {
	store    catalog.ItemStore
	resolver EntityResolver
	logger   *zap.Logger
}

// NewUpserter builds an Upserter.
func NewUpserter(store catalog.ItemStore, resolver EntityResolver, logger *zap.Logger) (*Upserter, error) {
	if store == nil || resolver == nil {
		return nil, errors.New("item store and resolver are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Upserter{store: store, resolver: resolver, logger: logger}, nil
}

// Ingest stores item. It returns Skipped when the name is already present,
// including when a concurrent writer created it first, and Failed when the
// store could not complete the unit of work; nothing is linked in that case.
func (u *Upserter) Ingest(ctx context.Context, item catalog.NormalizedItem) catalog.Outcome {
	if item.Name == "" {
		return catalog.Failed(item.Name, catalog.ErrMissingName)
	}
	id, found, err := u.store.FindItemByName(ctx, item.Name)
	if err != nil {
		return u.failed(item, fmt.Errorf("find item: %w", err))
	}
	if found {
		return catalog.Skipped(item.Name, id)
	}
	links, err := u.resolver.ResolveAll(ctx, item)
	if err != nil {
		return u.failed(item, fmt.Errorf("resolve entities: %w", err))
	}
	id, created, err := u.store.CreateItem(ctx, item, links)
	if err != nil {
		return u.failed(item, fmt.Errorf("create item: %w", err))
	}
	if !created {
		u.logger.Debug("item created concurrently", zap.String("name", item.Name), zap.Int64("item_id", id))
		return catalog.Skipped(item.Name, id)
	}
	u.logger.Debug("item created", zap.String("name", item.Name), zap.Int64("item_id", id))
	return catalog.Created(item.Name, id)
}

func (u *Upserter) failed(item catalog.NormalizedItem, err error) catalog.Outcome {
	u.logger.Warn("item ingest failed", zap.String("name", item.Name), zap.String("url", item.URL), zap.Error(err))
	return catalog.Failed(item.Name, err)
}
