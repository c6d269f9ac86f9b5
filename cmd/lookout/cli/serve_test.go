package cli

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/felixgeelhaar/lookout/internal/config"
	"github.com/felixgeelhaar/lookout/internal/observe"
	"github.com/felixgeelhaar/lookout/internal/store"
)

func TestBuildProvider(t *testing.T) {
	ctx := context.Background()

	t.Run("StoredKeyUsed", func(t *testing.T) {
		s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "lookout.db"))
		if err != nil {
			t.Fatalf("Failed to create store: %v", err)
		}
		defer s.Close()
		if err := s.SetConfig(ctx, "anthropic.api_key", "sk-test"); err != nil {
			t.Fatalf("SetConfig failed: %v", err)
		}

		cfg := &config.Config{Provider: config.ProviderConfig{Name: "anthropic"}}
		p, err := buildProvider(ctx, cfg, s, observe.New(io.Discard, false))
		if err != nil {
			t.Fatalf("buildProvider failed: %v", err)
		}
		if p.Name() != "anthropic" {
			t.Errorf("Expected anthropic provider, got %q", p.Name())
		}
	})

	t.Run("StoreFaultIsLogged", func(t *testing.T) {
		s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "lookout.db"))
		if err != nil {
			t.Fatalf("Failed to create store: %v", err)
		}
		s.Close()

		var buf bytes.Buffer
		cfg := &config.Config{Provider: config.ProviderConfig{Name: "anthropic"}}
		if _, err := buildProvider(ctx, cfg, s, observe.New(&buf, false)); err == nil {
			t.Fatal("Expected error without an API key")
		}
		if !strings.Contains(buf.String(), "failed to read stored credential") {
			t.Errorf("Expected store fault logged, got %q", buf.String())
		}
	})

	t.Run("UnknownProvider", func(t *testing.T) {
		s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "lookout.db"))
		if err != nil {
			t.Fatalf("Failed to create store: %v", err)
		}
		defer s.Close()

		cfg := &config.Config{Provider: config.ProviderConfig{Name: "mystery"}}
		if _, err := buildProvider(ctx, cfg, s, observe.New(io.Discard, false)); err == nil {
			t.Error("Expected error for unknown provider name")
		}
	})
}
