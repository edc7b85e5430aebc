package db

import (
	"context"

	"github.com/pkg/errors"
)

func (s *SQLite) Ping(ctx context.Context) error {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	var result int
	return errors.Wrap(s.db.QueryRowContext(ctx, "SELECT 1").Scan(&result), "sqlite ping")
}
