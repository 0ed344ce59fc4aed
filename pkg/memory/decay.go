package memory

import (
	"math"
	"strings"
	"time"
)

/*
HalfLife returns 0.5^(age/halfLife): 1 for a brand new item, 0.5 after one
half-life. Negative ages count as new; a non-positive halfLife disables decay.
*/
func HalfLife(age, halfLife time.Duration) float64 {
	if halfLife <= 0 {
		return 1
	}

	if age < 0 {
		age = 0
	}

	return math.Pow(0.5, float64(age)/float64(halfLife))
}

/*
DecayedImportance is the importance of item as seen at now.
*/
func DecayedImportance(item MemoryItem, now time.Time, halfLife time.Duration) float64 {
	return item.Importance * HalfLife(now.Sub(item.Timestamp), halfLife)
}

/*
EstimateTokens approximates the token count of text at four tokens per
three words.
*/
func EstimateTokens(text string) int {
	words := len(strings.Fields(text))

	if words == 0 {
		return 0
	}

	return (words*4 + 2) / 3
}

/*
Cosine is the cosine similarity of two vectors, 0 when either is empty,
zero, or they differ in length.
*/
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, na, nb float64

	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}

	if na == 0 || nb == 0 {
		return 0
	}

	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
