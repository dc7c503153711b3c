package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aethra/domus/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Audit actions
const (
	AuditCreate    = "create"
	AuditUpdate    = "update"
	AuditDelete    = "delete"
	AuditApprove   = "approve"
	AuditReject    = "reject"
	AuditTerminate = "terminate"
	AuditRenew     = "renew"
	AuditPay       = "pay"
	AuditAdjust    = "adjust"
	AuditImport    = "import"
)

// AuditEngine records who changed what
type AuditEngine struct {
	base
}

// AuditFilter narrows List
type AuditFilter struct {
	Entity   string
	RecordID string
	ActorID  string
}

// Record writes an audit entry through tx. Failures are logged and never
// abort the surrounding operation.
func (e *AuditEngine) Record(tx *gorm.DB, actor Actor, entity, recordID, action string, oldValues, newValues interface{}) {
	entry := models.AuditLog{
		ActorID:   actor.ID,
		ActorType: actor.Type,
		Entity:    entity,
		RecordID:  recordID,
		Action:    action,
		OldValues: toJSONB(oldValues),
		NewValues: toJSONB(newValues),
		IPAddress: actor.IP,
		CreatedAt: e.now(),
	}
	// a savepoint keeps a failed insert from poisoning tx
	err := tx.Transaction(func(sp *gorm.DB) error {
		return sp.Create(&entry).Error
	})
	if err != nil {
		e.logger.Warn("failed to write audit entry",
			zap.String("entity", entity),
			zap.String("record_id", recordID),
			zap.String("action", action),
			zap.Error(err))
	}
}

// List returns audit entries, newest first
func (e *AuditEngine) List(ctx context.Context, f AuditFilter, params QueryParams) (*QueryResult[models.AuditLog], error) {
	q := e.conn(ctx).Model(&models.AuditLog{})
	if f.Entity != "" {
		q = q.Where("entity = ?", f.Entity)
	}
	if f.RecordID != "" {
		q = q.Where("record_id = ?", f.RecordID)
	}
	if f.ActorID != "" {
		q = q.Where("actor_id = ?", f.ActorID)
	}
	return paginate[models.AuditLog](q, params, listSpec{
		filterable:   []string{"action", "actor_type"},
		sortable:     []string{"created_at", "entity", "action"},
		defaultOrder: "created_at DESC",
	})
}

// toJSONB flattens a struct or map into a JSON object
func toJSONB(v interface{}) models.JSONB {
	if v == nil {
		return nil
	}
	if m, ok := v.(map[string]interface{}); ok {
		return models.JSONB(m)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return models.JSONB{"error": fmt.Sprintf("unserializable %T", v)}
	}
	out := models.JSONB{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return models.JSONB{"value": string(raw)}
	}
	return out
}
