package search

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	bleveQuery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/pders01/subwatch/internal/debuglog"
	"github.com/pders01/subwatch/internal/storage"
)

// BleveIndex keeps a full text index of channel names and video titles
// next to the store.
type BleveIndex struct {
	store *storage.Store
	idx   bleve.Index
}

// NewBleveIndex creates or opens a Bleve index at indexPath and indexes current data.
func NewBleveIndex(store *storage.Store, indexPath string) (*BleveIndex, error) {
	if err := os.MkdirAll(filepath.Dir(indexPath), 0o755); err != nil {
		return nil, err
	}

	idx, err := bleve.Open(indexPath)
	if err != nil {
		idx, err = bleve.New(indexPath, buildIndexMapping())
		if err != nil {
			return nil, err
		}
	}

	b := &BleveIndex{store: store, idx: idx}
	if err := b.Reindex(); err != nil {
		idx.Close()
		return nil, err
	}
	return b, nil
}

func buildIndexMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()
	im.DefaultAnalyzer = standard.Name

	dm := bleve.NewDocumentMapping()

	title := bleve.NewTextFieldMapping()
	title.Analyzer = standard.Name
	title.Store = true
	title.IncludeTermVectors = true

	// Exact match fields for deletes and lookups
	exact := func() *mapping.FieldMapping {
		f := bleve.NewTextFieldMapping()
		f.Analyzer = keyword.Name
		f.Store = true
		return f
	}

	dm.AddFieldMappingsAt("title", title)
	dm.AddFieldMappingsAt("type", exact())
	dm.AddFieldMappingsAt("channel_id", exact())
	dm.AddFieldMappingsAt("external_id", exact())

	im.DefaultMapping = dm
	return im
}

func channelDoc(ch *storage.Channel) map[string]any {
	return map[string]any{
		"type":        "channel",
		"channel_id":  idString(ch.ID),
		"external_id": ch.ExternalID,
		"title":       ch.DisplayName(),
	}
}

func videoDoc(v *storage.Video) map[string]any {
	return map[string]any{
		"type":        "video",
		"channel_id":  idString(v.ChannelID),
		"external_id": v.ExternalID,
		"title":       v.Title,
	}
}

// Reindex rebuilds the documents of every channel and video in the store.
func (b *BleveIndex) Reindex() error {
	channels, err := b.store.GetAllChannels()
	if err != nil {
		return err
	}

	batch := b.idx.NewBatch()
	for _, ch := range channels {
		if err := batch.Index(docIDForChannel(ch.ID), channelDoc(ch)); err != nil {
			return err
		}
		videos, err := b.store.GetVideos(ch.ID)
		if err != nil {
			return err
		}
		for _, v := range videos {
			if err := batch.Index(docIDForVideo(v.ID), videoDoc(v)); err != nil {
				return err
			}
		}
	}
	return b.idx.Batch(batch)
}

func (b *BleveIndex) Search(query string, limit int) ([]*Result, error) {
	if len(strings.TrimSpace(query)) < 2 {
		return []*Result{}, nil
	}
	// OR of per-term match and prefix queries on the title
	tokens := tokenize(query)
	var qs []bleveQuery.Query
	for _, tok := range tokens {
		qt := bleve.NewMatchQuery(tok)
		qt.SetField("title")
		qt.SetBoost(4.0)
		qs = append(qs, qt)

		qtp := bleve.NewPrefixQuery(tok)
		qtp.SetField("title")
		qtp.SetBoost(3.5)
		qs = append(qs, qtp)

		qe := bleve.NewTermQuery(tok)
		qe.SetField("external_id")
		qe.SetBoost(0.5)
		qs = append(qs, qe)
	}
	if len(qs) == 0 {
		return []*Result{}, nil
	}
	if limit <= 0 {
		limit = 20
	}

	req := bleve.NewSearchRequestOptions(bleve.NewDisjunctionQuery(qs...), limit, 0, false)
	req.Fields = []string{"title"}
	res, err := b.idx.Search(req)
	if err != nil {
		return nil, err
	}

	out := make([]*Result, 0, len(res.Hits))
	for _, h := range res.Hits {
		r := &Result{Score: h.Score}
		title, _ := h.Fields["title"].(string)

		switch {
		case strings.HasPrefix(h.ID, "channel:"):
			id, ok := parseDocID(h.ID, "channel:")
			if !ok {
				continue
			}
			ch, err := b.store.GetChannel(id)
			if err != nil {
				debuglog.Debugf("stale index entry %s: %v", h.ID, err)
				continue
			}
			r.Channel = ch
			r.Matches = []Match{{Field: "name", Text: title, Weight: h.Score}}
		case strings.HasPrefix(h.ID, "video:"):
			id, ok := parseDocID(h.ID, "video:")
			if !ok {
				continue
			}
			v, err := b.store.GetVideo(id)
			if err != nil {
				debuglog.Debugf("stale index entry %s: %v", h.ID, err)
				continue
			}
			r.Video = v
			r.IsVideo = true
			if ch, err := b.store.GetChannel(v.ChannelID); err == nil {
				r.Channel = ch
			}
			r.Matches = []Match{{Field: "title", Text: truncate(title, 100), Weight: h.Score}}
		default:
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// OnChannelUpdated indexes the channel and its new videos and drops deleted ones.
func (b *BleveIndex) OnChannelUpdated(ch *storage.Channel, created, deleted []*storage.Video) {
	batch := b.idx.NewBatch()
	if ch != nil {
		_ = batch.Index(docIDForChannel(ch.ID), channelDoc(ch))
	}
	for _, v := range created {
		_ = batch.Index(docIDForVideo(v.ID), videoDoc(v))
	}
	for _, v := range deleted {
		batch.Delete(docIDForVideo(v.ID))
	}
	if err := b.idx.Batch(batch); err != nil {
		debuglog.Warnf("updating search index: %v", err)
	}
}

// OnChannelDeleted removes the channel document and every video document of
// the channel, including ones the caller did not pass.
func (b *BleveIndex) OnChannelDeleted(ch *storage.Channel, videos []*storage.Video) {
	batch := b.idx.NewBatch()
	batch.Delete(docIDForChannel(ch.ID))
	for _, v := range videos {
		batch.Delete(docIDForVideo(v.ID))
	}

	tq := bleve.NewTermQuery(idString(ch.ID))
	tq.SetField("channel_id")

	from := 0
	size := 1000
	for {
		req := bleve.NewSearchRequestOptions(tq, size, from, false)
		res, err := b.idx.Search(req)
		if err != nil || res == nil || len(res.Hits) == 0 {
			break
		}
		for _, h := range res.Hits {
			batch.Delete(h.ID)
		}
		if len(res.Hits) < size {
			break
		}
		from += size
	}

	if err := b.idx.Batch(batch); err != nil {
		debuglog.Warnf("removing channel from search index: %v", err)
	}
}

// DocCount reports total documents in the index.
func (b *BleveIndex) DocCount() (int, error) {
	count, err := b.idx.DocCount()
	return int(count), err
}

func (b *BleveIndex) Close() error {
	return b.idx.Close()
}

func idString(id uint64) string { return strconv.FormatUint(id, 10) }

func docIDForChannel(id uint64) string { return "channel:" + idString(id) }
func docIDForVideo(id uint64) string   { return "video:" + idString(id) }

func parseDocID(docID, prefix string) (uint64, bool) {
	id, err := strconv.ParseUint(strings.TrimPrefix(docID, prefix), 10, 64)
	return id, err == nil
}
