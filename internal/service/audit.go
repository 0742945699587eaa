package service

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/unitrack/attendance-api/internal/models"
)

type auditWriter interface {
	Create(ctx context.Context, log *models.AuditLog) error
}

// writeAudit appends an audit entry best-effort. Audit failures are logged and
// never fail the surrounding operation; issuance and scan outcomes must be
// recorded independently of what happens downstream.
func writeAudit(ctx context.Context, repo auditWriter, logger *zap.Logger, entry *models.AuditLog, payload interface{}) {
	if repo == nil {
		return
	}
	if payload != nil {
		body, err := json.Marshal(payload)
		if err == nil {
			entry.NewValues = body
		}
	}
	if err := repo.Create(ctx, entry); err != nil && logger != nil {
		logger.Warn("audit write failed",
			zap.String("action", entry.Action),
			zap.String("resource", entry.Resource),
			zap.Error(err))
	}
}
