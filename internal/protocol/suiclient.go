package protocol

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"sui-lending-api/internal/config"

	"github.com/block-vision/sui-go-sdk/models"
	"github.com/block-vision/sui-go-sdk/sui"
)

// SuiClient wraps the Sui JSON-RPC client with retry and timeout
// configuration. It implements ChainReader.
type SuiClient struct {
	client sui.ISuiAPI
	config *config.RPCConfig
}

// NewSuiClient creates a new Sui RPC client for the configured endpoint.
func NewSuiClient(cfg *config.RPCConfig) *SuiClient {
	return &SuiClient{
		client: sui.NewSuiClient(cfg.Endpoint),
		config: cfg,
	}
}

// GetBalance fetches the balance for one concrete coin type with retry
// logic. Callers that need a symbol-level balance must sum across the
// coin's canonical and alias types.
func (s *SuiClient) GetBalance(ctx context.Context, address, coinType string) (CoinBalance, error) {
	var lastErr error
	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)

		rsp, err := s.client.SuiXGetBalance(attemptCtx, models.SuiXGetBalanceRequest{
			Owner:    address,
			CoinType: coinType,
		})
		cancel()

		if err == nil {
			total, parseErr := strconv.ParseUint(rsp.TotalBalance, 10, 64)
			if parseErr != nil {
				return CoinBalance{}, fmt.Errorf("invalid balance in RPC response %q: %w", rsp.TotalBalance, parseErr)
			}
			return CoinBalance{
				CoinType:     coinType,
				TotalBalance: total,
				ObjectCount:  int(rsp.CoinObjectCount),
			}, nil
		}

		lastErr = err

		// Don't retry on the last attempt
		if attempt < s.config.MaxRetries {
			time.Sleep(s.config.RetryDelay * time.Duration(attempt+1)) // Exponential backoff
		}
	}

	return CoinBalance{}, fmt.Errorf("failed to get balance from RPC after %d attempts: %w", s.config.MaxRetries+1, lastErr)
}

// GetTransactionBlock looks up a transaction by digest, returning its
// execution status, emitted events, and created object IDs.
func (s *SuiClient) GetTransactionBlock(ctx context.Context, digest string) (*SubmitResult, error) {
	rpcCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	rsp, err := s.client.SuiGetTransactionBlock(rpcCtx, models.SuiGetTransactionBlockRequest{
		Digest: digest,
		Options: models.SuiTransactionBlockOptions{
			ShowEffects: true,
			ShowEvents:  true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch transaction %s: %w", digest, err)
	}

	result := &SubmitResult{
		Digest:  rsp.Digest,
		Success: rsp.Effects.Status.Status == "success",
		Error:   rsp.Effects.Status.Error,
	}

	for _, created := range rsp.Effects.Created {
		result.Created = append(result.Created, created.Reference.ObjectId)
	}

	for _, ev := range rsp.Events {
		result.Events = append(result.Events, Event{
			Type:   ev.Type,
			Fields: ev.ParsedJson,
		})
	}

	return result, nil
}

// GetOwnedObjects lists objects of the given struct type owned by the
// address. Used to discover obligations directly from chain state when
// the SDK portfolio query is unavailable. Key objects hold a reference
// to the shared object they grant access to under ownership.of; when
// that field is present the referenced ID is returned instead of the
// key's own ID.
func (s *SuiClient) GetOwnedObjects(ctx context.Context, address, structType string) ([]string, error) {
	rpcCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	rsp, err := s.client.SuiXGetOwnedObjects(rpcCtx, models.SuiXGetOwnedObjectsRequest{
		Address: address,
		Query: models.SuiObjectResponseQuery{
			Filter: map[string]interface{}{
				"StructType": structType,
			},
			Options: models.SuiObjectDataOptions{
				ShowType:    true,
				ShowContent: true,
			},
		},
		Limit: 50,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list owned objects for %s: %w", address, err)
	}

	ids := make([]string, 0, len(rsp.Data))
	for _, obj := range rsp.Data {
		if obj.Data == nil {
			continue
		}
		ids = append(ids, referencedObjectID(obj.Data))
	}

	return ids, nil
}

// referencedObjectID unwraps a key object's ownership.of reference,
// falling back to the object's own ID.
func referencedObjectID(data *models.SuiObjectData) string {
	if data.Content != nil {
		if ownership, ok := data.Content.Fields["ownership"].(map[string]interface{}); ok {
			if of, ok := ownership["of"].(string); ok && of != "" {
				return of
			}
		}
	}
	return data.ObjectId
}

// IsHealthy checks if the RPC endpoint is responsive.
func (s *SuiClient) IsHealthy(ctx context.Context) error {
	rpcCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// Total transaction count is the cheapest liveness probe.
	if _, err := s.client.SuiGetTotalTransactionBlocks(rpcCtx); err != nil {
		return fmt.Errorf("RPC health check failed: %w", err)
	}

	return nil
}
