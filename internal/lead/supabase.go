package lead

import (
	"context"
	"fmt"

	"github.com/supabase-community/supabase-go"
)

// SupabaseStore persists leads in a Supabase table.
type SupabaseStore struct {
	client *supabase.Client
	table  string
}

// NewSupabaseStore connects to the project's PostgREST endpoint.
func NewSupabaseStore(url, serviceKey, table string) (*SupabaseStore, error) {
	client, err := supabase.NewClient(url, serviceKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create Supabase client: %w", err)
	}
	return &SupabaseStore{client: client, table: table}, nil
}

// Get looks up the lead by phone number.
func (s *SupabaseStore) Get(_ context.Context, phone string) (*Lead, error) {
	var rows []Lead
	_, err := s.client.From(s.table).
		Select("*", "", false).
		Eq("phone", phone).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to query leads: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return &rows[0], nil
}

// Upsert inserts or replaces the lead keyed by phone number.
func (s *SupabaseStore) Upsert(_ context.Context, l *Lead) error {
	_, _, err := s.client.From(s.table).
		Insert(l, true, "phone", "representation", "").
		Execute()
	if err != nil {
		return fmt.Errorf("failed to upsert lead: %w", err)
	}
	return nil
}
