package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from TicketStatus
		to   TicketStatus
		want bool
	}{
		{"open to in_progress", TicketStatusOpen, TicketStatusInProgress, true},
		{"in_progress back to open", TicketStatusInProgress, TicketStatusOpen, true},
		{"in_progress to resolved", TicketStatusInProgress, TicketStatusResolved, true},
		{"resolved to closed", TicketStatusResolved, TicketStatusClosed, true},
		{"open to closed", TicketStatusOpen, TicketStatusClosed, true},
		{"in_progress to closed", TicketStatusInProgress, TicketStatusClosed, true},
		{"resolved reopened", TicketStatusResolved, TicketStatusOpen, true},
		{"open to resolved skips in_progress", TicketStatusOpen, TicketStatusResolved, false},
		{"closed to open", TicketStatusClosed, TicketStatusOpen, false},
		{"closed to in_progress", TicketStatusClosed, TicketStatusInProgress, false},
		{"resolved to in_progress", TicketStatusResolved, TicketStatusInProgress, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestNextStatusesMatchesCanTransition(t *testing.T) {
	all := []TicketStatus{TicketStatusOpen, TicketStatusInProgress, TicketStatusResolved, TicketStatusClosed}

	for _, from := range all {
		next := NextStatuses(from)
		for _, to := range next {
			assert.True(t, CanTransition(from, to), "NextStatuses(%s) contains %s, but CanTransition rejects it", from, to)
		}
		for _, to := range all {
			if CanTransition(from, to) {
				assert.Contains(t, next, to, "CanTransition(%s, %s) allowed, missing in NextStatuses", from, to)
			}
		}
	}
}

func TestIsValidStatus(t *testing.T) {
	assert.True(t, IsValidStatus("open"))
	assert.True(t, IsValidStatus("in_progress"))
	assert.True(t, IsValidStatus("resolved"))
	assert.True(t, IsValidStatus("closed"))
	assert.False(t, IsValidStatus("reopened"))
	assert.False(t, IsValidStatus(""))
}

func TestTicketIsTerminal(t *testing.T) {
	assert.False(t, (&Ticket{Status: TicketStatusOpen}).IsTerminal())
	assert.False(t, (&Ticket{Status: TicketStatusInProgress}).IsTerminal())
	assert.True(t, (&Ticket{Status: TicketStatusResolved}).IsTerminal())
	assert.True(t, (&Ticket{Status: TicketStatusClosed}).IsTerminal())
}

func TestTicketOwnedByCaseInsensitive(t *testing.T) {
	ticket := &Ticket{Owner: TicketOwner{Email: "Alice@Example.com"}}

	assert.True(t, ticket.OwnedBy("alice@example.com"))
	assert.True(t, ticket.OwnedBy("ALICE@EXAMPLE.COM"))
	assert.False(t, ticket.OwnedBy("bob@example.com"))
}

func TestSortedMessages(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	ticket := &Ticket{
		Messages: []Message{
			{ID: "c", CreatedAt: base.Add(2 * time.Hour)},
			{ID: "a", CreatedAt: base},
			{ID: "b", CreatedAt: base.Add(time.Hour)},
		},
	}

	sorted := ticket.SortedMessages()

	assert.Equal(t, []string{"a", "b", "c"}, []string{sorted[0].ID, sorted[1].ID, sorted[2].ID})
	// Исходный порядок не меняется
	assert.Equal(t, "c", ticket.Messages[0].ID)
}

func TestProductPriceValue(t *testing.T) {
	price := 9.99
	assert.Equal(t, 9.99, (&Product{Price: &price}).PriceValue())
	assert.Equal(t, 0.0, (&Product{}).PriceValue())
}
