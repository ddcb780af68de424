package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/trailhead/trailimport/internal/domain"
)

// Postgres SQLSTATE codes the pipeline treats specially.
const (
	sqlStateInsufficientPrivilege = "42501"
	sqlStateAdminShutdown         = "57P01"
	sqlStateCannotConnectNow      = "57P03"
)

// classifyError maps driver errors onto the domain taxonomy. Permission and
// connectivity failures get their own sentinels; everything else is a
// transient write failure the caller may retry.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %w", domain.ErrNotFound, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == sqlStateInsufficientPrivilege:
			return fmt.Errorf("%w: %w", domain.ErrPermission, err)
		case strings.HasPrefix(pgErr.Code, "08"), pgErr.Code == sqlStateAdminShutdown, pgErr.Code == sqlStateCannotConnectNow:
			return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
		}
		return fmt.Errorf("%w: %w", domain.ErrTransientWrite, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, driver.ErrBadConn) {
		return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "permission denied") || strings.Contains(msg, "row-level security") {
		return fmt.Errorf("%w: %w", domain.ErrPermission, err)
	}
	return fmt.Errorf("%w: %w", domain.ErrTransientWrite, err)
}
