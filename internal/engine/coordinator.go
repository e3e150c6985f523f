package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/chronicle/internal/extract"
	"github.com/scrypster/chronicle/internal/llm"
	"github.com/scrypster/chronicle/internal/storage"
	"github.com/scrypster/chronicle/pkg/types"
)

// EvolveRequest carries one interaction into the memory system.
type EvolveRequest struct {
	Content    string
	Source     string
	OccurredAt time.Time
	Metadata   map[string]string
}

// Evolve ingests an interaction: it appends it to the log, extracts
// candidates, resolves them into the graph, and writes the retrieval view.
// Re-submitting an identical (source, occurred_at, content) tuple whose prior
// attempt persisted is a no-op reported via Deduplicated; a tuple whose prior
// attempt failed is reprocessed under the original interaction ID.
//
// The state machine is received → extracting → resolving → persisted, with
// failed reachable from extracting and resolving. Each transition fires the
// state change callback, and terminal states are recorded on the interaction.
func (e *Engine) Evolve(ctx context.Context, req EvolveRequest) (*types.EvolutionResult, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, fmt.Errorf("%w: content is required", storage.ErrInvalidInput)
	}
	if req.Source == "" {
		req.Source = types.SourceManual
	}
	if req.OccurredAt.IsZero() {
		req.OccurredAt = e.clock()
	}
	if e.extractor == nil {
		return nil, fmt.Errorf("no extractor configured")
	}

	hash := dedupHash(req.Source, req.OccurredAt, req.Content)

	var interaction *types.Interaction
	prior, err := e.stores.Interactions.FindInteractionByHash(ctx, hash)
	switch {
	case err == nil:
		// Only a persisted attempt short-circuits; a failed (or interrupted)
		// one is reprocessed under its original ID so a corrected setup can
		// complete the interaction.
		if prior.State == types.StatePersisted {
			return &types.EvolutionResult{
				InteractionID: prior.ID,
				State:         types.StatePersisted,
				Deduplicated:  true,
			}, nil
		}
		interaction = prior
	case errors.Is(err, storage.ErrNotFound):
		interaction = &types.Interaction{
			ID:         "int:" + uuid.NewString(),
			Content:    req.Content,
			Source:     req.Source,
			OccurredAt: req.OccurredAt,
			IngestedAt: e.clock(),
			DedupHash:  hash,
			State:      types.StateReceived,
			Metadata:   req.Metadata,
		}
		if err := e.stores.Interactions.AppendInteraction(ctx, interaction); err != nil {
			if errors.Is(err, storage.ErrDuplicateInteraction) {
				// Raced with a concurrent identical submission; report its
				// current progress instead of processing twice.
				racing, lookupErr := e.stores.Interactions.FindInteractionByHash(ctx, hash)
				if lookupErr != nil {
					return nil, fmt.Errorf("engine: dedup lookup after race: %w", lookupErr)
				}
				return &types.EvolutionResult{
					InteractionID: racing.ID,
					State:         racing.State,
					Deduplicated:  true,
				}, nil
			}
			return nil, fmt.Errorf("engine: append interaction: %w", err)
		}
	default:
		return nil, fmt.Errorf("engine: dedup lookup: %w", err)
	}

	result := &types.EvolutionResult{
		InteractionID: interaction.ID,
		State:         types.StateReceived,
	}
	e.notifyStateChange(interaction.ID, types.StateReceived)

	result.State = types.StateExtracting
	e.notifyStateChange(interaction.ID, types.StateExtracting)

	extraction, err := e.extractWithRetry(ctx, interaction)
	if err != nil {
		result.State = types.StateFailed
		e.markInteractionState(ctx, interaction.ID, types.StateFailed)
		e.notifyStateChange(interaction.ID, types.StateFailed)
		return result, fmt.Errorf("engine: extraction for %s: %w", interaction.ID, err)
	}

	result.State = types.StateResolving
	e.notifyStateChange(interaction.ID, types.StateResolving)

	entityIDs := e.resolveCandidates(ctx, interaction, extraction, result)

	if err := e.writeMemoryItem(ctx, interaction, entityIDs); err != nil {
		result.State = types.StateFailed
		e.markInteractionState(ctx, interaction.ID, types.StateFailed)
		e.notifyStateChange(interaction.ID, types.StateFailed)
		return result, fmt.Errorf("engine: memory item for %s: %w", interaction.ID, err)
	}

	// The graph changed; cached expansions are stale.
	e.subgraphCache.Purge()

	result.State = types.StatePersisted
	e.markInteractionState(ctx, interaction.ID, types.StatePersisted)
	e.notifyStateChange(interaction.ID, types.StatePersisted)
	return result, nil
}

// markInteractionState records a terminal state on the interaction row. It
// survives caller cancellation so a timeout during extraction still leaves an
// accurate marker. The evolution outcome stands even when the bookkeeping
// write fails; the worst case is a later re-submission reprocessing an
// already-persisted tuple.
func (e *Engine) markInteractionState(ctx context.Context, id, state string) {
	if err := e.stores.Interactions.SetInteractionState(context.WithoutCancel(ctx), id, state); err != nil {
		log.Printf("engine: recording state %s for %s: %v", state, id, err)
	}
}

// extractWithRetry runs extraction with exponential backoff, honouring the
// error's retryability signal.
func (e *Engine) extractWithRetry(ctx context.Context, interaction *types.Interaction) (*llm.ExtractionResult, error) {
	backoff := e.config.RetryBackoff
	var lastErr error

	for attempt := 0; attempt < e.config.ExtractionRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		result, err := e.extractor.Extract(ctx, interaction)
		if err == nil {
			return result, nil
		}
		lastErr = err

		var extractionErr *extract.ExtractionError
		if errors.As(err, &extractionErr) && !extractionErr.Retryable {
			return nil, err
		}
		log.Printf("engine: extraction attempt %d for %s failed: %v", attempt+1, interaction.ID, err)
	}
	return nil, lastErr
}

// resolveCandidates upserts extracted entities and relationships. Ambiguous
// entities and dangling relationships never fail the interaction; they are
// skipped and reported on the result so the caller can disambiguate and
// re-submit.
func (e *Engine) resolveCandidates(ctx context.Context, interaction *types.Interaction, extraction *llm.ExtractionResult, result *types.EvolutionResult) []string {
	nameToID := make(map[string]string)
	var entityIDs []string

	for _, candidate := range extraction.Entities {
		upsert, err := e.stores.Graph.UpsertEntity(ctx, candidate, interaction.OccurredAt)
		if err != nil {
			if errors.Is(err, storage.ErrAmbiguousEntity) {
				log.Printf("engine: %s: %v (skipped)", interaction.ID, err)
				result.AmbiguousEntities = append(result.AmbiguousEntities, candidate.Name)
				continue
			}
			log.Printf("engine: %s: entity %q upsert failed: %v", interaction.ID, candidate.Name, err)
			continue
		}

		if upsert.Created {
			result.EntitiesCreated++
		} else {
			result.EntitiesUpdated++
		}
		result.AttributesSuperseded += upsert.Superseded

		entityIDs = append(entityIDs, upsert.ID)
		nameToID[strings.ToLower(candidate.Name)] = upsert.ID
		for _, alias := range candidate.Aliases {
			nameToID[strings.ToLower(alias)] = upsert.ID
		}
	}

	for _, candidate := range extraction.Relationships {
		subjectID, okSubject := nameToID[strings.ToLower(candidate.SubjectName)]
		objectID, okObject := nameToID[strings.ToLower(candidate.ObjectName)]
		if !okSubject || !okObject {
			log.Printf("engine: %s: relationship %s→%s references unresolved entity (skipped)",
				interaction.ID, candidate.SubjectName, candidate.ObjectName)
			result.RelationshipsSkipped++
			continue
		}

		upsert, err := e.stores.Graph.UpsertRelationship(ctx, &types.Relationship{
			SubjectID:           subjectID,
			Predicate:           candidate.Predicate,
			ObjectID:            objectID,
			Confidence:          candidate.Confidence,
			ValidFrom:           interaction.OccurredAt,
			SourceInteractionID: interaction.ID,
		})
		if err != nil {
			log.Printf("engine: %s: relationship %s→%s upsert failed: %v",
				interaction.ID, candidate.SubjectName, candidate.ObjectName, err)
			result.RelationshipsSkipped++
			continue
		}
		result.RelationshipsCreated++
		result.RelationshipsSuperseded += upsert.Superseded
	}

	return entityIDs
}

// writeMemoryItem persists the denormalized retrieval view. Embedding
// failures are logged, not fatal: the item is retrievable via text fallback
// and can be re-embedded later.
func (e *Engine) writeMemoryItem(ctx context.Context, interaction *types.Interaction, entityIDs []string) error {
	metadata := map[string]string{"source": interaction.Source}
	for k, v := range interaction.Metadata {
		if k != "source" {
			metadata[k] = v
		}
	}

	item := &types.MemoryItem{
		ID:                  "mem:" + uuid.NewString(),
		Content:             interaction.Content,
		Timestamp:           interaction.OccurredAt,
		RecordedAt:          e.clock(),
		EntityIDs:           entityIDs,
		Metadata:            metadata,
		SourceInteractionID: interaction.ID,
	}
	if err := e.stores.Items.PutItem(ctx, item); err != nil {
		return err
	}

	if e.embedder != nil && e.stores.Embeddings != nil {
		vector, err := e.embedder.Embed(ctx, interaction.Content)
		if err != nil {
			log.Printf("engine: embedding for %s failed (item persisted without vector): %v", item.ID, err)
			return nil
		}
		if err := e.stores.Embeddings.StoreEmbedding(ctx, item.ID, vector, e.embedder.GetModel()); err != nil {
			log.Printf("engine: storing embedding for %s failed: %v", item.ID, err)
		}
	}
	return nil
}

// dedupHash is the SHA-256 of the (source, occurred_at, content) tuple.
func dedupHash(source string, occurredAt time.Time, content string) string {
	h := sha256.New()
	h.Write([]byte(source))
	h.Write([]byte{0})
	h.Write([]byte(occurredAt.UTC().Format(time.RFC3339Nano)))
	h.Write([]byte{0})
	h.Write([]byte(content))
	return hex.EncodeToString(h.Sum(nil))
}
