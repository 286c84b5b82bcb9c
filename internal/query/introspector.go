package query

import (
	"context"
	"fmt"

	"github.com/org/querygate/pkg/models"
)

// Introspector enumerates tables and columns of a target database using the
// engine's native catalog dialect.
type Introspector struct {
	pools LeaseSource
}

// NewIntrospector creates an Introspector borrowing connections from the
// given source.
func NewIntrospector(pools LeaseSource) *Introspector {
	return &Introspector{pools: pools}
}

// GetSchema returns the target database's tables in name order. Column
// comments are always empty; no engine catalog is queried for them.
func (i *Introspector) GetSchema(ctx context.Context, connectionID int64) ([]models.TableSchema, error) {
	lease, err := i.pools.Acquire(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	schemas, err := lease.Engine().Introspect(ctx, lease.Conn(), lease.Database())
	if err != nil {
		return nil, fmt.Errorf("introspecting connection %d: %w", connectionID, err)
	}
	if schemas == nil {
		schemas = []models.TableSchema{}
	}
	return schemas, nil
}
