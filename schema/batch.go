package schema

import (
	"github.com/contextframe/contextframe-go/models"
)

// Batch is the column-major in-memory layout shared by the storage layer and
// the search engine. Every column slice is either nil (column not projected)
// or exactly NumRows long.
//
// RawData carries blob bytes only while a batch is in flight between the
// engine and the blob store; fragments persist RawDataRef (the blob object
// key, empty for rows without a payload) and never the bytes themselves.
type Batch struct {
	NumRows int `json:"num_rows"`

	UUID             []string                `json:"uuid,omitempty"`
	Title            []string                `json:"title,omitempty"`
	RecordType       []string                `json:"record_type,omitempty"`
	TextContent      []string                `json:"text_content,omitempty"`
	Context          []string                `json:"context,omitempty"`
	Vector           [][]float32             `json:"vector,omitempty"`
	CreatedAt        []string                `json:"created_at,omitempty"`
	UpdatedAt        []string                `json:"updated_at,omitempty"`
	Version          []string                `json:"version,omitempty"`
	Author           []string                `json:"author,omitempty"`
	Contributors     [][]string              `json:"contributors,omitempty"`
	Tags             [][]string              `json:"tags,omitempty"`
	Status           []string                `json:"status,omitempty"`
	Collection       []string                `json:"collection,omitempty"`
	CollectionID     []string                `json:"collection_id,omitempty"`
	CollectionIDType []string                `json:"collection_id_type,omitempty"`
	Position         []*int                  `json:"position,omitempty"`
	SourceFile       []string                `json:"source_file,omitempty"`
	SourceType       []string                `json:"source_type,omitempty"`
	SourceURL        []string                `json:"source_url,omitempty"`
	LocalPath        []string                `json:"local_path,omitempty"`
	URI              []string                `json:"uri,omitempty"`
	CID              []string                `json:"cid,omitempty"`
	Relationships    [][]models.Relationship `json:"relationships,omitempty"`
	CustomMetadata   [][]models.MetadataPair `json:"custom_metadata,omitempty"`
	RawData          [][]byte                `json:"-"`
	RawDataRef       []string                `json:"raw_data_ref,omitempty"`
	RawDataType      []string                `json:"raw_data_type,omitempty"`
}

// ToBatch converts records into a columnar batch with every column present.
func ToBatch(recs []*models.Record) *Batch {
	n := len(recs)
	b := &Batch{
		NumRows:          n,
		UUID:             make([]string, n),
		Title:            make([]string, n),
		RecordType:       make([]string, n),
		TextContent:      make([]string, n),
		Context:          make([]string, n),
		Vector:           make([][]float32, n),
		CreatedAt:        make([]string, n),
		UpdatedAt:        make([]string, n),
		Version:          make([]string, n),
		Author:           make([]string, n),
		Contributors:     make([][]string, n),
		Tags:             make([][]string, n),
		Status:           make([]string, n),
		Collection:       make([]string, n),
		CollectionID:     make([]string, n),
		CollectionIDType: make([]string, n),
		Position:         make([]*int, n),
		SourceFile:       make([]string, n),
		SourceType:       make([]string, n),
		SourceURL:        make([]string, n),
		LocalPath:        make([]string, n),
		URI:              make([]string, n),
		CID:              make([]string, n),
		Relationships:    make([][]models.Relationship, n),
		CustomMetadata:   make([][]models.MetadataPair, n),
		RawData:          make([][]byte, n),
		RawDataRef:       make([]string, n),
		RawDataType:      make([]string, n),
	}
	for i, r := range recs {
		b.UUID[i] = r.UUID
		b.Title[i] = r.Title
		b.RecordType[i] = string(r.RecordType)
		b.TextContent[i] = r.TextContent
		b.Context[i] = r.Context
		b.Vector[i] = r.Vector
		b.CreatedAt[i] = r.CreatedAt
		b.UpdatedAt[i] = r.UpdatedAt
		b.Version[i] = r.Version
		b.Author[i] = r.Author
		b.Contributors[i] = r.Contributors
		b.Tags[i] = r.Tags
		b.Status[i] = string(r.Status)
		b.Collection[i] = r.Collection
		b.CollectionID[i] = r.CollectionID
		b.CollectionIDType[i] = r.CollectionIDType
		b.Position[i] = r.Position
		b.SourceFile[i] = r.SourceFile
		b.SourceType[i] = r.SourceType
		b.SourceURL[i] = r.SourceURL
		b.LocalPath[i] = r.LocalPath
		b.URI[i] = r.URI
		b.CID[i] = r.CID
		b.Relationships[i] = r.Relationships
		b.CustomMetadata[i] = r.CustomMetadata
		b.RawData[i] = r.RawData
		if len(r.RawData) > 0 {
			b.RawDataRef[i] = r.UUID
		}
		b.RawDataType[i] = r.RawDataType
	}
	return b
}

// FromBatch materializes records out of a batch. Columns absent from the
// batch's projection come back as zero values; blob bytes are only present
// when the batch carries them.
func (b *Batch) FromBatch() []*models.Record {
	recs := make([]*models.Record, b.NumRows)
	for i := 0; i < b.NumRows; i++ {
		r := &models.Record{}
		if b.UUID != nil {
			r.UUID = b.UUID[i]
		}
		if b.Title != nil {
			r.Title = b.Title[i]
		}
		if b.RecordType != nil {
			r.RecordType = models.RecordType(b.RecordType[i])
		}
		if b.TextContent != nil {
			r.TextContent = b.TextContent[i]
		}
		if b.Context != nil {
			r.Context = b.Context[i]
		}
		if b.Vector != nil {
			r.Vector = b.Vector[i]
		}
		if b.CreatedAt != nil {
			r.CreatedAt = b.CreatedAt[i]
		}
		if b.UpdatedAt != nil {
			r.UpdatedAt = b.UpdatedAt[i]
		}
		if b.Version != nil {
			r.Version = b.Version[i]
		}
		if b.Author != nil {
			r.Author = b.Author[i]
		}
		if b.Contributors != nil {
			r.Contributors = b.Contributors[i]
		}
		if b.Tags != nil {
			r.Tags = b.Tags[i]
		}
		if b.Status != nil {
			r.Status = models.RecordStatus(b.Status[i])
		}
		if b.Collection != nil {
			r.Collection = b.Collection[i]
		}
		if b.CollectionID != nil {
			r.CollectionID = b.CollectionID[i]
		}
		if b.CollectionIDType != nil {
			r.CollectionIDType = b.CollectionIDType[i]
		}
		if b.Position != nil {
			r.Position = b.Position[i]
		}
		if b.SourceFile != nil {
			r.SourceFile = b.SourceFile[i]
		}
		if b.SourceType != nil {
			r.SourceType = b.SourceType[i]
		}
		if b.SourceURL != nil {
			r.SourceURL = b.SourceURL[i]
		}
		if b.LocalPath != nil {
			r.LocalPath = b.LocalPath[i]
		}
		if b.URI != nil {
			r.URI = b.URI[i]
		}
		if b.CID != nil {
			r.CID = b.CID[i]
		}
		if b.Relationships != nil {
			r.Relationships = b.Relationships[i]
		}
		if b.CustomMetadata != nil {
			r.CustomMetadata = b.CustomMetadata[i]
		}
		if b.RawData != nil {
			r.RawData = b.RawData[i]
		}
		if b.RawDataType != nil {
			r.RawDataType = b.RawDataType[i]
		}
		recs[i] = r
	}
	return recs
}

// Project returns a copy of the batch keeping only the named columns.
// The uuid column is always kept: every row needs its key.
func (b *Batch) Project(cols []string) *Batch {
	keep := map[string]bool{ColUUID: true}
	for _, c := range cols {
		keep[c] = true
	}
	out := *b
	if !keep[ColTitle] {
		out.Title = nil
	}
	if !keep[ColRecordType] {
		out.RecordType = nil
	}
	if !keep[ColTextContent] {
		out.TextContent = nil
	}
	if !keep[ColContext] {
		out.Context = nil
	}
	if !keep[ColVector] {
		out.Vector = nil
	}
	if !keep[ColCreatedAt] {
		out.CreatedAt = nil
	}
	if !keep[ColUpdatedAt] {
		out.UpdatedAt = nil
	}
	if !keep[ColVersion] {
		out.Version = nil
	}
	if !keep[ColAuthor] {
		out.Author = nil
	}
	if !keep[ColContributors] {
		out.Contributors = nil
	}
	if !keep[ColTags] {
		out.Tags = nil
	}
	if !keep[ColStatus] {
		out.Status = nil
	}
	if !keep[ColCollection] {
		out.Collection = nil
	}
	if !keep[ColCollectionID] {
		out.CollectionID = nil
	}
	if !keep[ColCollectionIDType] {
		out.CollectionIDType = nil
	}
	if !keep[ColPosition] {
		out.Position = nil
	}
	if !keep[ColSourceFile] {
		out.SourceFile = nil
	}
	if !keep[ColSourceType] {
		out.SourceType = nil
	}
	if !keep[ColSourceURL] {
		out.SourceURL = nil
	}
	if !keep[ColLocalPath] {
		out.LocalPath = nil
	}
	if !keep[ColURI] {
		out.URI = nil
	}
	if !keep[ColCID] {
		out.CID = nil
	}
	if !keep[ColRelationships] {
		out.Relationships = nil
	}
	if !keep[ColCustomMetadata] {
		out.CustomMetadata = nil
	}
	if !keep[ColRawData] {
		out.RawData = nil
	}
	if !keep[ColRawDataType] {
		out.RawDataType = nil
	}
	return &out
}

// Select returns a new batch containing the given row indices, in order.
func (b *Batch) Select(rows []int) *Batch {
	out := &Batch{NumRows: len(rows)}
	pickS := func(src []string) []string {
		if src == nil {
			return nil
		}
		dst := make([]string, len(rows))
		for i, r := range rows {
			dst[i] = src[r]
		}
		return dst
	}
	out.UUID = pickS(b.UUID)
	out.Title = pickS(b.Title)
	out.RecordType = pickS(b.RecordType)
	out.TextContent = pickS(b.TextContent)
	out.Context = pickS(b.Context)
	out.CreatedAt = pickS(b.CreatedAt)
	out.UpdatedAt = pickS(b.UpdatedAt)
	out.Version = pickS(b.Version)
	out.Author = pickS(b.Author)
	out.Status = pickS(b.Status)
	out.Collection = pickS(b.Collection)
	out.CollectionID = pickS(b.CollectionID)
	out.CollectionIDType = pickS(b.CollectionIDType)
	out.SourceFile = pickS(b.SourceFile)
	out.SourceType = pickS(b.SourceType)
	out.SourceURL = pickS(b.SourceURL)
	out.LocalPath = pickS(b.LocalPath)
	out.URI = pickS(b.URI)
	out.CID = pickS(b.CID)
	out.RawDataRef = pickS(b.RawDataRef)
	out.RawDataType = pickS(b.RawDataType)
	if b.Vector != nil {
		out.Vector = make([][]float32, len(rows))
		for i, r := range rows {
			out.Vector[i] = b.Vector[r]
		}
	}
	if b.Contributors != nil {
		out.Contributors = make([][]string, len(rows))
		for i, r := range rows {
			out.Contributors[i] = b.Contributors[r]
		}
	}
	if b.Tags != nil {
		out.Tags = make([][]string, len(rows))
		for i, r := range rows {
			out.Tags[i] = b.Tags[r]
		}
	}
	if b.Position != nil {
		out.Position = make([]*int, len(rows))
		for i, r := range rows {
			out.Position[i] = b.Position[r]
		}
	}
	if b.Relationships != nil {
		out.Relationships = make([][]models.Relationship, len(rows))
		for i, r := range rows {
			out.Relationships[i] = b.Relationships[r]
		}
	}
	if b.CustomMetadata != nil {
		out.CustomMetadata = make([][]models.MetadataPair, len(rows))
		for i, r := range rows {
			out.CustomMetadata[i] = b.CustomMetadata[r]
		}
	}
	if b.RawData != nil {
		out.RawData = make([][]byte, len(rows))
		for i, r := range rows {
			out.RawData[i] = b.RawData[r]
		}
	}
	return out
}

// Append concatenates other onto b. Only columns present in both batches
// survive; b must either be empty or share other's projection.
func (b *Batch) Append(other *Batch) {
	if b.NumRows == 0 {
		*b = *other
		return
	}
	b.UUID = append(b.UUID, other.UUID...)
	b.Title = appendS(b.Title, other.Title)
	b.RecordType = appendS(b.RecordType, other.RecordType)
	b.TextContent = appendS(b.TextContent, other.TextContent)
	b.Context = appendS(b.Context, other.Context)
	b.CreatedAt = appendS(b.CreatedAt, other.CreatedAt)
	b.UpdatedAt = appendS(b.UpdatedAt, other.UpdatedAt)
	b.Version = appendS(b.Version, other.Version)
	b.Author = appendS(b.Author, other.Author)
	b.Status = appendS(b.Status, other.Status)
	b.Collection = appendS(b.Collection, other.Collection)
	b.CollectionID = appendS(b.CollectionID, other.CollectionID)
	b.CollectionIDType = appendS(b.CollectionIDType, other.CollectionIDType)
	b.SourceFile = appendS(b.SourceFile, other.SourceFile)
	b.SourceType = appendS(b.SourceType, other.SourceType)
	b.SourceURL = appendS(b.SourceURL, other.SourceURL)
	b.LocalPath = appendS(b.LocalPath, other.LocalPath)
	b.URI = appendS(b.URI, other.URI)
	b.CID = appendS(b.CID, other.CID)
	b.RawDataRef = appendS(b.RawDataRef, other.RawDataRef)
	b.RawDataType = appendS(b.RawDataType, other.RawDataType)
	if b.Vector != nil && other.Vector != nil {
		b.Vector = append(b.Vector, other.Vector...)
	} else {
		b.Vector = nil
	}
	if b.Contributors != nil && other.Contributors != nil {
		b.Contributors = append(b.Contributors, other.Contributors...)
	} else {
		b.Contributors = nil
	}
	if b.Tags != nil && other.Tags != nil {
		b.Tags = append(b.Tags, other.Tags...)
	} else {
		b.Tags = nil
	}
	if b.Position != nil && other.Position != nil {
		b.Position = append(b.Position, other.Position...)
	} else {
		b.Position = nil
	}
	if b.Relationships != nil && other.Relationships != nil {
		b.Relationships = append(b.Relationships, other.Relationships...)
	} else {
		b.Relationships = nil
	}
	if b.CustomMetadata != nil && other.CustomMetadata != nil {
		b.CustomMetadata = append(b.CustomMetadata, other.CustomMetadata...)
	} else {
		b.CustomMetadata = nil
	}
	if b.RawData != nil && other.RawData != nil {
		b.RawData = append(b.RawData, other.RawData...)
	} else {
		b.RawData = nil
	}
	b.NumRows += other.NumRows
}

func appendS(a, b []string) []string {
	if a == nil || b == nil {
		return nil
	}
	return append(a, b...)
}

// Value returns the filterable value of column col at row i. Scalars come
// back as string or *int; list fields come back as []string. ok is false
// when the column is not part of the batch's projection.
func (b *Batch) Value(col string, i int) (any, bool) {
	switch col {
	case ColUUID:
		return str(b.UUID, i)
	case ColTitle:
		return str(b.Title, i)
	case ColRecordType:
		return str(b.RecordType, i)
	case ColTextContent:
		return str(b.TextContent, i)
	case ColContext:
		return str(b.Context, i)
	case ColCreatedAt:
		return str(b.CreatedAt, i)
	case ColUpdatedAt:
		return str(b.UpdatedAt, i)
	case ColVersion:
		return str(b.Version, i)
	case ColAuthor:
		return str(b.Author, i)
	case ColStatus:
		return str(b.Status, i)
	case ColCollection:
		return str(b.Collection, i)
	case ColCollectionID:
		return str(b.CollectionID, i)
	case ColCollectionIDType:
		return str(b.CollectionIDType, i)
	case ColSourceFile:
		return str(b.SourceFile, i)
	case ColSourceType:
		return str(b.SourceType, i)
	case ColSourceURL:
		return str(b.SourceURL, i)
	case ColLocalPath:
		return str(b.LocalPath, i)
	case ColURI:
		return str(b.URI, i)
	case ColCID:
		return str(b.CID, i)
	case ColRawDataType:
		return str(b.RawDataType, i)
	case ColPosition:
		if b.Position == nil {
			return nil, false
		}
		return b.Position[i], true
	case ColContributors:
		if b.Contributors == nil {
			return nil, false
		}
		return b.Contributors[i], true
	case ColTags:
		if b.Tags == nil {
			return nil, false
		}
		return b.Tags[i], true
	case "relationships.type", "relationships.id", "relationships.uri",
		"relationships.path", "relationships.cid":
		if b.Relationships == nil {
			return nil, false
		}
		return relField(b.Relationships[i], col), true
	default:
		return nil, false
	}
}

func str(col []string, i int) (any, bool) {
	if col == nil {
		return nil, false
	}
	return col[i], true
}

func relField(rels []models.Relationship, path string) []string {
	out := make([]string, 0, len(rels))
	for _, r := range rels {
		switch path {
		case "relationships.type":
			out = append(out, string(r.Type))
		case "relationships.id":
			out = append(out, r.ID)
		case "relationships.uri":
			out = append(out, r.URI)
		case "relationships.path":
			out = append(out, r.Path)
		case "relationships.cid":
			out = append(out, r.CID)
		}
	}
	return out
}
