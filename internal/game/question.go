package game

import (
	"fmt"
	"math/rand"

	"github.com/google/uuid"

	"formula/internal/models"
)

// generateQuestion produces a fresh addition prompt with operands in 0-99.
func generateQuestion() *models.Question {
	a := rand.Intn(100)
	b := rand.Intn(100)
	return &models.Question{
		ID:       uuid.NewString(),
		Question: fmt.Sprintf("%d + %d", a, b),
		Answer:   a + b,
	}
}

// questionView is the client-facing shape of a question. The answer stays
// server-side.
func questionView(q *models.Question) map[string]any {
	return map[string]any{
		"id":       q.ID,
		"question": q.Question,
	}
}
