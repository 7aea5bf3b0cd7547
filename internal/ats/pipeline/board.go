package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Card is an application as shown on the board
type Card struct {
	ApplicationID uuid.UUID `json:"application_id"`
	CandidateID   uuid.UUID `json:"candidate_id"`
	CandidateName string    `json:"candidate_name"`
	Email         string    `json:"email"`
	Stage         Stage     `json:"stage"`
	Position      int       `json:"position"`
	Version       int       `json:"version"`
	AppliedAt     time.Time `json:"applied_at"`
}

// Column is one stage of the board
type Column struct {
	Stage Stage   `json:"stage"`
	Count int     `json:"count"`
	Cards []*Card `json:"cards"`
}

// Board is the kanban view of one posting
type Board struct {
	PostingID uuid.UUID `json:"posting_id"`
	Total     int       `json:"total"`
	Columns   []*Column `json:"columns"`
}

// BuildBoard groups cards into columns in stage order, including empty
// columns. Cards are sorted by position, then application time.
func BuildBoard(postingID uuid.UUID, cards []*Card) *Board {
	board := &Board{PostingID: postingID, Columns: make([]*Column, 0, len(Stages()))}
	byStage := make(map[Stage]*Column)
	for _, st := range Stages() {
		col := &Column{Stage: st, Cards: []*Card{}}
		byStage[st] = col
		board.Columns = append(board.Columns, col)
	}

	for _, c := range cards {
		col, ok := byStage[c.Stage]
		if !ok {
			continue
		}
		col.Cards = append(col.Cards, c)
		board.Total++
	}

	for _, col := range board.Columns {
		sort.SliceStable(col.Cards, func(i, j int) bool {
			a, b := col.Cards[i], col.Cards[j]
			if a.Position != b.Position {
				return a.Position < b.Position
			}
			if !a.AppliedAt.Equal(b.AppliedAt) {
				return a.AppliedAt.Before(b.AppliedAt)
			}
			return a.ApplicationID.String() < b.ApplicationID.String()
		})
		col.Count = len(col.Cards)
	}
	return board
}

// Board loads the kanban board of a posting
func (s *Service) Board(ctx context.Context, tenantID, postingID uuid.UUID) (*Board, error) {
	if _, err := s.postings.Get(ctx, tenantID, postingID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.candidate_id, c.first_name || ' ' || c.last_name, c.email,
			a.stage, a.position, a.version, a.applied_at
		FROM applications a
		JOIN candidates c ON c.id = a.candidate_id
		WHERE a.tenant_id = $1 AND a.posting_id = $2`,
		tenantID, postingID)
	if err != nil {
		return nil, fmt.Errorf("failed to load board: %w", err)
	}
	defer rows.Close()

	var cards []*Card
	for rows.Next() {
		var c Card
		if err := rows.Scan(&c.ApplicationID, &c.CandidateID, &c.CandidateName, &c.Email,
			&c.Stage, &c.Position, &c.Version, &c.AppliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan card: %w", err)
		}
		cards = append(cards, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return BuildBoard(postingID, cards), nil
}
