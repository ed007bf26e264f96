package invoice

import (
	"context"
	"testing"
	"time"

	"github.com/serverless-orders/order-service/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestTextRenderer(t *testing.T) {
	r := NewTextRenderer(time.Minute)
	o := model.Order{
		OrderID:       "ORD-ABCD1234",
		CreatedAt:     "2024-01-01T00:00:00.000000000Z",
		CustomerName:  "A",
		CustomerEmail: "a@example.com",
		Items:         []string{"X", "Y"},
		Amount:        decimal.NewFromFloat(499.99),
		Status:        model.StatusPending,
	}

	doc, err := r.Render(context.Background(), o)
	assert.NoError(t, err)
	assert.Equal(t, "application/pdf", doc.ContentType)
	assert.True(t, doc.ExpiresAt.After(time.Now()))

	body := string(doc.Content)
	assert.Contains(t, body, "PDF Invoice - Order ORD-ABCD1234")
	assert.Contains(t, body, "Customer: A")
	assert.Contains(t, body, "- X")
	assert.Contains(t, body, "- Y")
	assert.Contains(t, body, "Total Amount: $499.99")

	token := doc.URL[len("/invoices/"):]
	fetched, ok := r.Fetch(token)
	assert.True(t, ok)
	assert.Equal(t, doc.Content, fetched)

	_, ok = r.Fetch("missing")
	assert.False(t, ok)
}

func TestTextRenderer_BlankFields(t *testing.T) {
	r := NewTextRenderer(time.Minute)
	doc, err := r.Render(context.Background(), model.Order{OrderID: "ORD-00000000"})
	assert.NoError(t, err)
	assert.Contains(t, string(doc.Content), "Customer: N/A")
	assert.Contains(t, string(doc.Content), "Email: N/A")
}
