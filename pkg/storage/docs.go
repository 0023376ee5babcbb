package storage

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm/clause"

	"github.com/carelane/voiceworker/pkg/core"
)

// CreatePendingDoc inserts a pending care documentation row if none exists
// for the (agency_id, message_sid) pair. Replays of the DOC_CREATED stage
// hit the conflict path and reuse the existing row. Returns the doc id and
// whether a new row was created.
func (s *GormStore) CreatePendingDoc(ctx context.Context, doc *core.PendingDoc) (string, bool, error) {
	if doc.ID == "" {
		doc.ID = "pd_" + uuid.NewString()
	}
	if doc.Status == "" {
		doc.Status = "pending"
	}

	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "agency_id"}, {Name: "message_sid"}},
		DoNothing: true,
	}).Create(doc)
	if res.Error != nil {
		return "", false, res.Error
	}
	if res.RowsAffected == 0 {
		var existing core.PendingDoc
		err := s.db.WithContext(ctx).
			Where("agency_id = ? AND message_sid = ?", doc.AgencyID, doc.MessageSid).
			First(&existing).Error
		if err != nil {
			return "", false, err
		}
		s.logger.Info("pending doc already exists, reusing",
			"message_sid", doc.MessageSid, "doc_id", existing.ID)
		return existing.ID, false, nil
	}
	return doc.ID, true, nil
}
