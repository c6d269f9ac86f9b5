package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/felixgeelhaar/lookout/internal/domain"
)

// SessionContext is everything the agent sees about a session for one
// turn: the owning user, session metadata, recent chat history, and
// the active listings.
type SessionContext struct {
	User           *domain.User
	Session        *domain.Session
	RecentMessages []*domain.Message
	Listings       []*domain.Listing
}

// VisibleListingIDs returns the ids of the listings in this context,
// in display order.
func (sc *SessionContext) VisibleListingIDs() []string {
	ids := make([]string, 0, len(sc.Listings))
	for _, l := range sc.Listings {
		ids = append(ids, l.ID)
	}
	return ids
}

const systemPrompt = `You are a marketplace research assistant helping users evaluate and compare online listings (cars, laptops, electronics, etc.) to identify good deals.

Your responsibilities:
1. Analyze listings within a session and provide 0-100 deal quality scores with clear rationales
2. Ask clarifying questions ONLY when necessary to better evaluate listings
3. Learn and remember user preferences across the session
4. Be concise and helpful

Scoring guidelines:
- 0-20: Horrible deal (significantly overpriced, major red flags)
- 21-40: Poor deal (overpriced or concerning issues)
- 41-60: Fair deal (market rate, nothing special)
- 61-80: Good deal (below market rate, solid value)
- 81-100: Great deal (excellent value, highly recommended)

Consider:
- Price relative to market value
- Condition and quality indicators
- Mileage, age, or usage (for applicable categories)
- Seller reputation and listing quality
- Category-specific factors (e.g., for cars: service history, accident history)

When you evaluate listings, respond with a JSON structure containing:
{
  "message": "Your message to the user",
  "actions": [
    {
      "type": "UPDATE_EVALUATIONS",
      "evaluations": [
        {"listing_id": "id", "score": 75, "rationale": "explanation"}
      ]
    }
  ]
}

If you need to ask a clarifying question:
{
  "message": "Your question to the user",
  "actions": [
    {
      "type": "ASK_CLARIFYING_QUESTION",
      "question": "What's more important: low mileage or lower price?",
      "blocking": true,
      "listing_id": "id of the listing the question concerns, if any"
    }
  ]
}

If you learn new preferences:
{
  "message": "Got it, I'll remember that",
  "actions": [
    {
      "type": "UPDATE_PREFERENCES",
      "preference_patch": {
        "categories": {
          "cars": {"important_factors": ["reliability", "fuel_economy"]}
        }
      }
    }
  ]
}

Always respond with valid JSON wrapped in ` + "```json ... ```"

// PromptBuilder constructs the full prompt for one agent turn.
type PromptBuilder struct{}

func NewPromptBuilder() *PromptBuilder {
	return &PromptBuilder{}
}

// BuildFullPrompt assembles system instructions, memory, session
// context, and the user's current message into one prompt string.
func (b *PromptBuilder) BuildFullPrompt(userMessage string, sc SessionContext, prefs UserPreferences, summary SessionSummary) string {
	var sb strings.Builder

	sb.WriteString(systemPrompt)
	sb.WriteString("\n\n")

	if mem := b.buildMemoryContext(prefs, summary); mem != "" {
		sb.WriteString(mem)
		sb.WriteString("\n\n")
	}

	sb.WriteString(b.buildSessionContext(sc))
	sb.WriteString("\n\n## User's Current Message\n")
	sb.WriteString(userMessage)
	sb.WriteString("\n\nRespond with JSON as specified above:")

	return sb.String()
}

func (b *PromptBuilder) buildMemoryContext(prefs UserPreferences, summary SessionSummary) string {
	var parts []string

	if len(prefs.Categories) > 0 || prefs.Summary != nil {
		if data, err := json.MarshalIndent(prefs, "", "  "); err == nil {
			parts = append(parts, "## User Preferences\n"+string(data))
		}
	}

	if len(summary.Requirements) > 0 || summary.Summary != nil {
		if data, err := json.MarshalIndent(summary, "", "  "); err == nil {
			parts = append(parts, "## Session Summary\n"+string(data))
		}
	}

	return strings.Join(parts, "\n\n")
}

func (b *PromptBuilder) buildSessionContext(sc SessionContext) string {
	var sb strings.Builder

	sb.WriteString("## Current Session\n")
	fmt.Fprintf(&sb, "Category: %s\n", sc.Session.Category)
	fmt.Fprintf(&sb, "Title: %s\n", sc.Session.Title)
	fmt.Fprintf(&sb, "Status: %s\n", sc.Session.Status)
	if sc.Session.Requirements != "" {
		sb.WriteString("\n## Requirements\n")
		sb.WriteString(strings.TrimSpace(sc.Session.Requirements))
		sb.WriteString("\n")
	}

	if len(sc.RecentMessages) > 0 {
		sb.WriteString("\n## Recent Conversation\n")
		msgs := sc.RecentMessages
		if len(msgs) > 10 {
			msgs = msgs[len(msgs)-10:]
		}
		for _, msg := range msgs {
			fmt.Fprintf(&sb, "%s: %s\n", strings.ToUpper(msg.Sender), msg.Text)
		}
	}

	fmt.Fprintf(&sb, "\n## Listings (%d total)\n", len(sc.Listings))
	for _, l := range sc.Listings {
		fmt.Fprintf(&sb, "\n### Listing: %s\n", l.Title)
		fmt.Fprintf(&sb, "ID: %s\n", l.ID)
		if l.HasPrice {
			currency := l.Currency
			if currency == "" {
				currency = "$"
			}
			fmt.Fprintf(&sb, "Price: %s%.2f\n", currency, l.Price)
		}
		if l.URL != "" {
			fmt.Fprintf(&sb, "URL: %s\n", l.URL)
		}
		if l.Marketplace != "" {
			fmt.Fprintf(&sb, "Marketplace: %s\n", l.Marketplace)
		}
		if len(l.Metadata) > 0 {
			if data, err := json.Marshal(l.Metadata); err == nil {
				fmt.Fprintf(&sb, "Details: %s\n", data)
			}
		}
		if l.Description != "" {
			fmt.Fprintf(&sb, "Description: %s\n", l.Description)
		}
		if l.Score != nil {
			fmt.Fprintf(&sb, "Current Score: %d/100\n", *l.Score)
			fmt.Fprintf(&sb, "Previous Rationale: %s\n", l.Rationale)
		}
	}

	return sb.String()
}
