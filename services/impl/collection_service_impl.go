package impl

import (
	"context"
	"fmt"

	"github.com/contextframe/contextframe-go/models"
	"github.com/contextframe/contextframe-go/services"
)

// collectionServiceImpl implements CollectionService on top of the dataset
// engine. Membership is one-hop: member records carry member_of edges to
// the header, and contains edges are treated as derived, never stored.
type collectionServiceImpl struct {
	dataset services.DatasetService
}

// NewCollectionService builds the collection layer for one dataset.
func NewCollectionService(dataset services.DatasetService) services.CollectionService {
	return &collectionServiceImpl{dataset: dataset}
}

func (s *collectionServiceImpl) CreateCollection(ctx context.Context, header *models.Record) (*models.Record, error) {
	h := header.Clone()
	h.RecordType = models.RecordTypeCollectionHeader
	if h.Collection == "" {
		h.Collection = h.Title
	}
	return s.dataset.Add(ctx, h)
}

// getHeader loads a record and checks it is a collection header.
func (s *collectionServiceImpl) getHeader(ctx context.Context, headerUUID string) (*models.Record, error) {
	header, err := s.dataset.Get(ctx, headerUUID, false)
	if err != nil {
		return nil, err
	}
	if header.RecordType != models.RecordTypeCollectionHeader {
		return nil, models.NewNotFound("collection", headerUUID)
	}
	return header, nil
}

// memberFilter selects the records carrying a member_of edge to the header.
func memberFilter(headerUUID string) string {
	return fmt.Sprintf("relationships.type = 'member_of' AND relationships.id = '%s'",
		escapeLiteral(headerUUID))
}

func (s *collectionServiceImpl) members(ctx context.Context, headerUUID string) ([]*models.Record, error) {
	return s.dataset.List(ctx, memberFilter(headerUUID), 0, 0)
}

func (s *collectionServiceImpl) GetCollection(ctx context.Context, headerUUID string) (*models.Record, []*models.Record, error) {
	header, err := s.getHeader(ctx, headerUUID)
	if err != nil {
		return nil, nil, err
	}
	members, err := s.members(ctx, headerUUID)
	if err != nil {
		return nil, nil, err
	}
	return header, members, nil
}

func (s *collectionServiceImpl) UpdateCollection(ctx context.Context, headerUUID string, header *models.Record) (*models.Record, error) {
	if _, err := s.getHeader(ctx, headerUUID); err != nil {
		return nil, err
	}
	h := header.Clone()
	h.RecordType = models.RecordTypeCollectionHeader
	return s.dataset.UpdateRecord(ctx, headerUUID, h)
}

func (s *collectionServiceImpl) DeleteCollection(ctx context.Context, headerUUID string, deleteMembers bool) error {
	if _, err := s.getHeader(ctx, headerUUID); err != nil {
		return err
	}
	members, err := s.members(ctx, headerUUID)
	if err != nil {
		return err
	}
	for _, m := range members {
		if deleteMembers {
			if err := s.dataset.DeleteRecord(ctx, m.UUID); err != nil {
				return err
			}
			continue
		}
		if err := s.detach(ctx, m, headerUUID); err != nil {
			return err
		}
	}
	return s.dataset.DeleteRecord(ctx, headerUUID)
}

// detach drops the member_of edge to headerUUID from a record.
func (s *collectionServiceImpl) detach(ctx context.Context, rec *models.Record, headerUUID string) error {
	kept := make([]models.Relationship, 0, len(rec.Relationships))
	for _, rel := range rec.Relationships {
		if rel.Type == models.RelationshipMemberOf && rel.ID == headerUUID {
			continue
		}
		kept = append(kept, rel)
	}
	updated := rec.Clone()
	updated.Relationships = kept
	updated.Collection = ""
	_, err := s.dataset.UpdateRecord(ctx, rec.UUID, updated)
	return err
}

func (s *collectionServiceImpl) ListCollections(ctx context.Context) ([]*models.Record, error) {
	return s.dataset.List(ctx, "record_type = 'collection_header'", 0, 0)
}

func (s *collectionServiceImpl) AddDocuments(ctx context.Context, headerUUID string, docUUIDs []string) error {
	header, err := s.getHeader(ctx, headerUUID)
	if err != nil {
		return err
	}
	for _, id := range docUUIDs {
		rec, err := s.dataset.Get(ctx, id, false)
		if err != nil {
			return err
		}
		if hasMemberOf(rec, headerUUID) {
			continue
		}
		updated := rec.Clone()
		updated.Relationships = append(updated.Relationships, models.NewMemberOf(headerUUID))
		updated.Collection = header.Collection
		if _, err := s.dataset.UpdateRecord(ctx, id, updated); err != nil {
			return err
		}
	}
	return nil
}

func (s *collectionServiceImpl) RemoveDocuments(ctx context.Context, headerUUID string, docUUIDs []string) error {
	if _, err := s.getHeader(ctx, headerUUID); err != nil {
		return err
	}
	for _, id := range docUUIDs {
		rec, err := s.dataset.Get(ctx, id, false)
		if err != nil {
			return err
		}
		if !hasMemberOf(rec, headerUUID) {
			continue
		}
		if err := s.detach(ctx, rec, headerUUID); err != nil {
			return err
		}
	}
	return nil
}

func hasMemberOf(rec *models.Record, headerUUID string) bool {
	for _, rel := range rec.Relationships {
		if rel.Type == models.RelationshipMemberOf && rel.ID == headerUUID {
			return true
		}
	}
	return false
}

func (s *collectionServiceImpl) CollectionStats(ctx context.Context, headerUUID string) (*models.CollectionStats, error) {
	header, members, err := s.GetCollection(ctx, headerUUID)
	if err != nil {
		return nil, err
	}
	stats := &models.CollectionStats{
		HeaderUUID:  header.UUID,
		Collection:  header.Collection,
		MemberCount: len(members),
	}
	for _, m := range members {
		stats.TotalTextLen += int64(len(m.TextContent))
		if m.Vector != nil {
			stats.WithVectors++
		}
	}
	return stats, nil
}

func (s *collectionServiceImpl) CreateFrameset(ctx context.Context, title, content, query string, sources []services.FramesetSource) (*models.Record, error) {
	if len(sources) == 0 {
		return nil, &models.ValidationError{Field: "sources",
			Reason: "a frameset needs at least one source record"}
	}
	rels := make([]models.Relationship, 0, len(sources))
	for _, src := range sources {
		rels = append(rels, models.Relationship{
			Type:        models.RelationshipMemberOf,
			ID:          src.UUID,
			Description: src.Excerpt,
		})
	}
	return s.dataset.Add(ctx, &models.Record{
		Title:         title,
		RecordType:    models.RecordTypeFrameset,
		TextContent:   content,
		Context:       query,
		Relationships: rels,
	})
}
