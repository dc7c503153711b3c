package engine

import (
	"context"
	"errors"
	"net/http"
	"path"
	"strings"

	apperrors "github.com/aethra/domus/internal/errors"
	"github.com/aethra/domus/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// MaxDocumentSize bounds uploaded files
const MaxDocumentSize = 10 << 20

// DocumentEngine keeps document metadata in the database and contents in
// the object store
type DocumentEngine struct {
	base
	audit *AuditEngine
	store ObjectStore
}

// UploadInput is a new document
type UploadInput struct {
	TenantID        string `json:"tenant_id"`
	LeaseID         string `json:"lease_id"`
	BuildingID      string `json:"building_id"`
	Category        string `json:"category"`
	Name            string `json:"name"`
	FileName        string `json:"file_name"`
	ContentType     string `json:"content_type"`
	VisibleToTenant bool   `json:"visible_to_tenant"`
	Data            []byte `json:"-"`
}

var documentList = listSpec{
	searchable:   []string{"name", "file_name"},
	filterable:   []string{"tenant_id", "lease_id", "building_id", "category"},
	sortable:     []string{"id", "name", "created_at", "size"},
	defaultOrder: "created_at DESC",
}

func validCategory(c string) bool {
	for _, v := range models.DocumentCategories {
		if v == c {
			return true
		}
	}
	return false
}

// storageKey derives a collision-free object key that keeps the file name
func storageKey(fileName string) string {
	name := path.Base(strings.ReplaceAll(fileName, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, name)
	if name == "" || name == "." || name == "/" {
		name = "file"
	}
	return "documents/" + uuid.NewString() + "/" + name
}

// Upload stores the contents and records the metadata. Tenants upload to
// their own record and always see what they uploaded.
func (e *DocumentEngine) Upload(ctx context.Context, actor Actor, in UploadInput) (*models.Document, error) {
	if e.store == nil {
		return nil, apperrors.NewInternalError(errors.New("document storage is not configured"))
	}
	if len(in.Data) == 0 {
		return nil, validation("file", "file is empty")
	}
	if len(in.Data) > MaxDocumentSize {
		return nil, validation("file", "file exceeds 10 MB")
	}
	if in.Category == "" {
		in.Category = "other"
	}
	if !validCategory(in.Category) {
		return nil, validation("category", "invalid category")
	}
	if in.FileName == "" {
		in.FileName = in.Name
	}
	if strings.TrimSpace(in.Name) == "" {
		in.Name = in.FileName
	}
	if strings.TrimSpace(in.Name) == "" {
		return nil, validation("name", "name is required")
	}
	if in.ContentType == "" {
		in.ContentType = http.DetectContentType(in.Data)
	}
	if actor.Type == ActorTenant {
		in.TenantID = actor.ID
		in.VisibleToTenant = true
		in.BuildingID = ""
	}

	doc := &models.Document{
		TenantID:        strPtr(in.TenantID),
		LeaseID:         strPtr(in.LeaseID),
		BuildingID:      strPtr(in.BuildingID),
		Category:        in.Category,
		Name:            strings.TrimSpace(in.Name),
		FileName:        in.FileName,
		ContentType:     in.ContentType,
		Size:            int64(len(in.Data)),
		StorageKey:      storageKey(in.FileName),
		UploadedBy:      actor.ID,
		UploadedByType:  actor.Type,
		VisibleToTenant: in.VisibleToTenant,
	}

	db := e.conn(ctx)
	if doc.TenantID != nil {
		if err := requireTenant(db, *doc.TenantID); err != nil {
			return nil, translate(err, "tenant", *doc.TenantID)
		}
	}
	if doc.LeaseID != nil {
		var lease models.Lease
		if err := db.First(&lease, "id = ?", *doc.LeaseID).Error; err != nil {
			return nil, translate(err, "lease", *doc.LeaseID)
		}
		if doc.TenantID != nil && lease.TenantID != *doc.TenantID {
			return nil, validation("lease_id", "lease does not belong to the tenant")
		}
	}

	if err := e.store.Put(ctx, doc.StorageKey, doc.ContentType, in.Data); err != nil {
		e.logger.Error("failed to store document", zap.String("key", doc.StorageKey), zap.Error(err))
		return nil, apperrors.NewInternalError(err)
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := seqDocument.create(tx, e.now(), &doc.ID, doc); err != nil {
			return err
		}
		e.audit.Record(tx, actor, "documents", doc.ID, AuditCreate, nil, doc)
		return nil
	})
	if err != nil {
		if derr := e.store.Delete(ctx, doc.StorageKey); derr != nil {
			e.logger.Warn("failed to remove orphaned object", zap.String("key", doc.StorageKey), zap.Error(derr))
		}
		return nil, translate(err, "document", "")
	}

	e.logger.Info("document uploaded", zap.String("document_id", doc.ID), zap.Int64("size", doc.Size))
	return doc, nil
}

// Get returns the metadata of a document the actor may see
func (e *DocumentEngine) Get(ctx context.Context, actor Actor, id string) (*models.Document, error) {
	q := e.conn(ctx).Where("id = ?", id)
	if actor.Type == ActorTenant {
		q = q.Where("tenant_id = ? AND visible_to_tenant = ?", actor.ID, true)
	}
	var doc models.Document
	if err := q.First(&doc).Error; err != nil {
		return nil, translate(err, "document", id)
	}
	return &doc, nil
}

// List returns documents; tenants only see their visible ones
func (e *DocumentEngine) List(ctx context.Context, actor Actor, params QueryParams) (*QueryResult[models.Document], error) {
	q := e.conn(ctx).Model(&models.Document{})
	if actor.Type == ActorTenant {
		q = q.Where("tenant_id = ? AND visible_to_tenant = ?", actor.ID, true)
	}
	return paginate[models.Document](q, params, documentList)
}

// Open returns a document with its contents
func (e *DocumentEngine) Open(ctx context.Context, actor Actor, id string) (*models.Document, []byte, error) {
	doc, err := e.Get(ctx, actor, id)
	if err != nil {
		return nil, nil, err
	}
	if e.store == nil {
		return nil, nil, apperrors.NewInternalError(errors.New("document storage is not configured"))
	}
	data, contentType, err := e.store.Get(ctx, doc.StorageKey)
	if err != nil {
		e.logger.Error("failed to read document", zap.String("document_id", id), zap.Error(err))
		return nil, nil, apperrors.NewInternalError(err)
	}
	if doc.ContentType == "" {
		doc.ContentType = contentType
	}
	return doc, data, nil
}

// Delete removes the metadata row and then the stored object. A failure to
// delete the object is logged; the row is already gone.
func (e *DocumentEngine) Delete(ctx context.Context, actor Actor, id string) error {
	var doc models.Document
	err := e.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&doc, "id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&models.Document{}, "id = ?", id).Error; err != nil {
			return err
		}
		e.audit.Record(tx, actor, "documents", id, AuditDelete, doc, nil)
		return nil
	})
	if err != nil {
		return translate(err, "document", id)
	}

	if e.store != nil {
		if err := e.store.Delete(ctx, doc.StorageKey); err != nil {
			e.logger.Warn("failed to delete stored object", zap.String("key", doc.StorageKey), zap.Error(err))
		}
	}
	e.logger.Info("document deleted", zap.String("document_id", id))
	return nil
}
