package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/pmartel/scribe-api/internal/domain"
	"github.com/pmartel/scribe-api/internal/queue"
)

// Task function labels for the document ingestion workflow. They are opaque
// strings to the queue; the worker pool maps them to handlers.
const (
	FunctionCollectContent     = "collect_content"
	FunctionExtractTags        = "extract_tags"
	FunctionGenerateTitle      = "generate_title"
	FunctionIndexUpsert        = "index_upsert"
	FunctionIndexDelete        = "index_delete"
	FunctionDeleteConversation = "delete_conversation"
)

// Content collection runs one-at-a-time per namespace because collectors
// hit rate-limited upstream sources. Indexing tolerates more parallelism.
const (
	collectConcurrency = 1
	indexConcurrency   = 4
)

// DocumentService fans document lifecycle events into queue tasks. It is the
// sole producer for the ingestion workflow; every enqueue goes through the
// queue.Producer port so admission and ordering policy stay in one place.
type DocumentService struct {
	producer queue.Producer
}

// NewDocumentService creates a new DocumentService.
func NewDocumentService(producer queue.Producer) (*DocumentService, error) {
	if producer == nil {
		return nil, fmt.Errorf("producer cannot be nil")
	}
	return &DocumentService{producer: producer}, nil
}

// documentInput is the input payload shared by document-scoped tasks.
type documentInput struct {
	DocumentID uuid.UUID `json:"document_id"`
	URL        string    `json:"url,omitempty"`
}

// conversationInput is the input payload for conversation cleanup tasks.
type conversationInput struct {
	ConversationID uuid.UUID `json:"conversation_id"`
}

// CollectContent enqueues content collection for a newly registered document.
// Collection is serialized per namespace (threshold 1).
func (s *DocumentService) CollectContent(
	ctx context.Context,
	namespaceID uuid.UUID,
	userID uuid.NullUUID,
	documentID uuid.UUID,
	sourceURL string,
) (*domain.Task, error) {
	return s.enqueue(ctx, namespaceID, userID, FunctionCollectContent,
		documentInput{DocumentID: documentID, URL: sourceURL},
		0, collectConcurrency)
}

// ExtractTags enqueues tag extraction for a document whose content is ready.
func (s *DocumentService) ExtractTags(
	ctx context.Context,
	namespaceID uuid.UUID,
	userID uuid.NullUUID,
	documentID uuid.UUID,
) (*domain.Task, error) {
	return s.enqueue(ctx, namespaceID, userID, FunctionExtractTags,
		documentInput{DocumentID: documentID}, 0, 0)
}

// GenerateTitle enqueues title generation for a document.
func (s *DocumentService) GenerateTitle(
	ctx context.Context,
	namespaceID uuid.UUID,
	userID uuid.NullUUID,
	documentID uuid.UUID,
) (*domain.Task, error) {
	return s.enqueue(ctx, namespaceID, userID, FunctionGenerateTitle,
		documentInput{DocumentID: documentID}, 0, 0)
}

// UpsertIndex enqueues a search-index update for a document. Index writes
// are given a higher priority than enrichment so queries see fresh data.
func (s *DocumentService) UpsertIndex(
	ctx context.Context,
	namespaceID uuid.UUID,
	userID uuid.NullUUID,
	documentID uuid.UUID,
) (*domain.Task, error) {
	return s.enqueue(ctx, namespaceID, userID, FunctionIndexUpsert,
		documentInput{DocumentID: documentID}, 10, indexConcurrency)
}

// DeleteIndex enqueues removal of a document from the search index.
func (s *DocumentService) DeleteIndex(
	ctx context.Context,
	namespaceID uuid.UUID,
	userID uuid.NullUUID,
	documentID uuid.UUID,
) (*domain.Task, error) {
	return s.enqueue(ctx, namespaceID, userID, FunctionIndexDelete,
		documentInput{DocumentID: documentID}, 10, indexConcurrency)
}

// DeleteConversation enqueues background cleanup of a deleted conversation.
func (s *DocumentService) DeleteConversation(
	ctx context.Context,
	namespaceID uuid.UUID,
	userID uuid.NullUUID,
	conversationID uuid.UUID,
) (*domain.Task, error) {
	return s.enqueue(ctx, namespaceID, userID, FunctionDeleteConversation,
		conversationInput{ConversationID: conversationID}, 0, 0)
}

func (s *DocumentService) enqueue(
	ctx context.Context,
	namespaceID uuid.UUID,
	userID uuid.NullUUID,
	function string,
	input any,
	priority int,
	threshold int,
) (*domain.Task, error) {
	data, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s input: %w", function, err)
	}

	task, err := s.producer.Enqueue(ctx, queue.EnqueueParams{
		NamespaceID:          namespaceID,
		UserID:               userID,
		Function:             function,
		Priority:             priority,
		ConcurrencyThreshold: threshold,
		Input:                data,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue %s: %w", function, err)
	}

	return task, nil
}
