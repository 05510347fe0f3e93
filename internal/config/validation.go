package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate checks the configuration for internal consistency.
// All errors wrap package sentinel errors for errors.Is() checks.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if strings.TrimSpace(c.OpenAI.APIKey) == "" {
		return fmt.Errorf("%w: set OPENAI_API_KEY", ErrMissingAPIKey)
	}

	switch c.Index.Backend {
	case BackendVespa:
		if strings.TrimSpace(c.Index.VespaHost) == "" {
			return fmt.Errorf("%w: host must not be empty", ErrInvalidVespaHost)
		}
		if c.Index.VespaPort < 1 || c.Index.VespaPort > 65535 {
			return fmt.Errorf("%w: port %d out of range 1-65535", ErrInvalidVespaPort, c.Index.VespaPort)
		}
	case BackendPgvector:
		if err := validatePostgresURL(c.Index.PostgresURL); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: %q (expected %q or %q)",
			ErrInvalidBackend, c.Index.Backend, BackendVespa, BackendPgvector)
	}

	if c.Ingest.ChunkSize < 1 {
		return fmt.Errorf("%w: chunk size %d must be positive", ErrInvalidChunking, c.Ingest.ChunkSize)
	}
	if c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return fmt.Errorf("%w: overlap %d must be in [0, chunk size %d)",
			ErrInvalidChunking, c.Ingest.ChunkOverlap, c.Ingest.ChunkSize)
	}

	if c.Retrieval.TopK < 1 || c.Retrieval.TopK > 100 {
		return fmt.Errorf("%w: %d out of range 1-100", ErrInvalidTopK, c.Retrieval.TopK)
	}

	if c.Context.BudgetTokens < 1 {
		return fmt.Errorf("%w: %d must be positive", ErrInvalidBudget, c.Context.BudgetTokens)
	}

	if c.Session.IdleTimeout <= 0 {
		return fmt.Errorf("%w: session idle timeout must be positive", ErrInvalidTimeout)
	}
	switch c.Session.Rewriter {
	case RewriterTemplate, RewriterLLM:
	default:
		return fmt.Errorf("%w: rewriter %q (expected %q or %q)",
			ErrInvalidRewriter, c.Session.Rewriter, RewriterTemplate, RewriterLLM)
	}
	if c.Pipeline.RequestTimeout <= 0 || c.Pipeline.RewriteTimeout <= 0 ||
		c.Pipeline.RetrieveTimeout <= 0 || c.Pipeline.GenerateTimeout <= 0 {
		return fmt.Errorf("%w: pipeline timeouts must be positive", ErrInvalidTimeout)
	}

	return nil
}

// validatePostgresURL accepts postgres:// and postgresql:// URLs only.
func validatePostgresURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("%w: set DATABASE_URL for the pgvector backend", ErrInvalidPostgresURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPostgresURL, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "postgres", "postgresql":
		return nil
	default:
		return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidPostgresURL, u.Scheme)
	}
}
