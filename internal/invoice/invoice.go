// Package invoice renders an order snapshot into retrievable document
// content with a time-limited URL.
package invoice

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/serverless-orders/order-service/internal/model"
)

// Document is a rendered invoice: raw content plus a retrieval URL that
// stops working at ExpiresAt.
type Document struct {
	Content     []byte
	ContentType string
	URL         string
	ExpiresAt   time.Time
}

// Renderer turns a fully resolved order into a document. The core does not
// know how rendering happens.
type Renderer interface {
	Render(ctx context.Context, o model.Order) (*Document, error)
}

// TextRenderer produces a plain-text invoice and keeps it retrievable for
// the configured TTL.
type TextRenderer struct {
	store *expirable.LRU[string, []byte]
	ttl   time.Duration
}

func NewTextRenderer(ttl time.Duration) *TextRenderer {
	return &TextRenderer{
		store: expirable.NewLRU[string, []byte](1024, nil, ttl),
		ttl:   ttl,
	}
}

func (r *TextRenderer) Render(_ context.Context, o model.Order) (*Document, error) {
	content := renderBody(o)
	token := strings.ReplaceAll(uuid.NewString(), "-", "")
	r.store.Add(token, content)
	return &Document{
		Content:     content,
		ContentType: "application/pdf",
		URL:         "/invoices/" + token,
		ExpiresAt:   time.Now().Add(r.ttl),
	}, nil
}

// Fetch returns a previously rendered document until its TTL lapses.
func (r *TextRenderer) Fetch(token string) ([]byte, bool) {
	return r.store.Get(token)
}

func renderBody(o model.Order) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "PDF Invoice - Order %s\n", o.OrderID)
	b.WriteString("=====================================\n\n")
	fmt.Fprintf(&b, "Date: %s\n", o.CreatedAt)
	fmt.Fprintf(&b, "Customer: %s\n", orDefault(o.CustomerName))
	fmt.Fprintf(&b, "Email: %s\n\n", orDefault(o.CustomerEmail))
	b.WriteString("Items:\n")
	for _, item := range o.Items {
		fmt.Fprintf(&b, "- %s\n", item)
	}
	fmt.Fprintf(&b, "\nTotal Amount: $%s\n", o.Amount.StringFixed(2))
	fmt.Fprintf(&b, "Status: %s\n\n", o.Status)
	fmt.Fprintf(&b, "Generated on: %s", model.NowISO())
	return []byte(b.String())
}

func orDefault(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
