// Package embedding computes a deterministic bag-of-character-positions hash
// vector for a text. It is not a semantic embedding model: vectors only fill
// a similarity field and carry no retrieval quality guarantee.
package embedding

import (
	"encoding/json"
	"math"
	"strings"
	"unicode/utf16"
)

// Dimensions is the fixed vector length.
const Dimensions = 128

// Embed lower-cases text, splits it on whitespace and, for every UTF-16 code
// unit at 0-based position i within a word, increments bucket
// (unit*(i+1)*7) mod Dimensions. Characters outside the Basic Multilingual
// Plane count as two units (a surrogate pair). The result is L2-normalised unless it
// is the zero vector, which is returned as is.
func Embed(text string) []float64 {
	vec := make([]float64, Dimensions)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		for i, unit := range utf16.Encode([]rune(word)) {
			bucket := (int64(unit) * int64(i+1) * 7) % Dimensions
			vec[bucket]++
		}
	}

	var sum float64
	for _, v := range vec {
		sum += v * v
	}
	if sum == 0 {
		return vec
	}
	norm := math.Sqrt(sum)
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}

// Marshal serialises a vector as a JSON array for storage.
func Marshal(vec []float64) string {
	raw, err := json.Marshal(vec)
	if err != nil {
		// float slices only fail on NaN/Inf, which Embed never produces
		return "[]"
	}
	return string(raw)
}
