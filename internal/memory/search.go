package memory

import (
	"fmt"
	"log"
	"os"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
)

// SearchResult is a scored full-text hit over the message log.
type SearchResult struct {
	MessageID string  `json:"message_id"`
	SessionID string  `json:"session_id"`
	Sender    string  `json:"sender"`
	Content   string  `json:"content"`
	Score     float64 `json:"score"`
}

// MessageIndex provides full-text search over conversation messages.
type MessageIndex struct {
	index bleve.Index
	path  string
}

// OpenMessageIndex creates or opens the search index next to the database.
// A corrupted index is deleted and recreated rather than failing startup.
func OpenMessageIndex(dbPath string) (*MessageIndex, error) {
	indexPath := dbPath + ".bleve"

	index, err := bleve.Open(indexPath)
	if err == bleve.ErrorIndexPathDoesNotExist {
		index, err = bleve.New(indexPath, buildMessageMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create message index: %w", err)
		}
	} else if err != nil {
		log.Printf("message index appears corrupted (error: %v), recreating", err)
		if index != nil {
			index.Close()
		}
		if err := os.RemoveAll(indexPath); err != nil {
			return nil, fmt.Errorf("failed to remove corrupted index: %w", err)
		}
		index, err = bleve.New(indexPath, buildMessageMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to recreate message index: %w", err)
		}
	}

	return &MessageIndex{index: index, path: indexPath}, nil
}

// buildMessageMapping creates the index mapping for messages: identifiers as
// keyword fields, content analyzed for matching.
func buildMessageMapping() mapping.IndexMapping {
	indexMapping := bleve.NewIndexMapping()

	messageMapping := bleve.NewDocumentMapping()

	sessionField := bleve.NewTextFieldMapping()
	sessionField.Analyzer = keyword.Name
	sessionField.Store = true
	sessionField.Index = true
	messageMapping.AddFieldMappingsAt("session_id", sessionField)

	senderField := bleve.NewTextFieldMapping()
	senderField.Analyzer = keyword.Name
	senderField.Store = true
	senderField.Index = true
	messageMapping.AddFieldMappingsAt("sender", senderField)

	contentField := bleve.NewTextFieldMapping()
	contentField.Analyzer = standard.Name
	contentField.Store = true
	contentField.Index = true
	messageMapping.AddFieldMappingsAt("content", contentField)

	indexMapping.DefaultMapping = messageMapping
	return indexMapping
}

// IndexMessage adds one message to the index.
func (mi *MessageIndex) IndexMessage(messageID, sessionID, sender, content string) error {
	doc := map[string]interface{}{
		"session_id": sessionID,
		"sender":     sender,
		"content":    content,
	}
	return mi.index.Index(messageID, doc)
}

// DeleteMessages removes messages from the index in one batch.
func (mi *MessageIndex) DeleteMessages(messageIDs []string) error {
	batch := mi.index.NewBatch()
	for _, id := range messageIDs {
		batch.Delete(id)
	}
	return mi.index.Batch(batch)
}

// Search returns the top k content matches, optionally filtered to a session.
func (mi *MessageIndex) Search(query, sessionID string, k int) ([]SearchResult, error) {
	if k <= 0 {
		k = 10
	}

	matchQuery := bleve.NewMatchQuery(query)
	matchQuery.SetField("content")

	var searchRequest *bleve.SearchRequest
	if sessionID != "" {
		sessionQuery := bleve.NewTermQuery(sessionID)
		sessionQuery.SetField("session_id")
		searchRequest = bleve.NewSearchRequest(bleve.NewConjunctionQuery(matchQuery, sessionQuery))
	} else {
		searchRequest = bleve.NewSearchRequest(matchQuery)
	}
	searchRequest.Size = k
	searchRequest.Fields = []string{"session_id", "sender", "content"}

	searchResult, err := mi.index.Search(searchRequest)
	if err != nil {
		return nil, fmt.Errorf("message search failed: %w", err)
	}

	results := make([]SearchResult, 0, len(searchResult.Hits))
	for _, hit := range searchResult.Hits {
		r := SearchResult{MessageID: hit.ID, Score: hit.Score}
		if v, ok := hit.Fields["session_id"].(string); ok {
			r.SessionID = v
		}
		if v, ok := hit.Fields["sender"].(string); ok {
			r.Sender = v
		}
		if v, ok := hit.Fields["content"].(string); ok {
			r.Content = v
		}
		results = append(results, r)
	}

	return results, nil
}

// Close closes the underlying index.
func (mi *MessageIndex) Close() error {
	return mi.index.Close()
}
