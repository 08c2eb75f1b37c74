package embedding

import (
	"encoding/json"
	"math"
	"reflect"
	"testing"
)

func norm(vec []float64) float64 {
	var s float64
	for _, v := range vec {
		s += v * v
	}
	return math.Sqrt(s)
}

func TestEmbedIsUnitLength(t *testing.T) {
	for _, text := range []string{"a", "Graph theory studies graphs", "  многие слова  ", "日本語 テキスト", "x\ty\nz"} {
		vec := Embed(text)
		if len(vec) != Dimensions {
			t.Fatalf("%q: expected %d dims, got %d", text, Dimensions, len(vec))
		}
		if n := norm(vec); math.Abs(n-1) > 1e-9 {
			t.Fatalf("%q: expected unit norm, got %v", text, n)
		}
	}
}

func TestEmbedEmptyIsZero(t *testing.T) {
	for _, text := range []string{"", "   \n\t"} {
		vec := Embed(text)
		if len(vec) != Dimensions {
			t.Fatalf("expected %d dims, got %d", Dimensions, len(vec))
		}
		if !reflect.DeepEqual(vec, make([]float64, Dimensions)) {
			t.Fatalf("expected zero vector for %q", text)
		}
	}
}

func TestEmbedBuckets(t *testing.T) {
	// "ab": 'a'=97 at i=0 -> 679 mod 128 = 39; 'b'=98 at i=1 -> 1372 mod 128 = 92
	vec := Embed("AB")
	want := 1 / math.Sqrt2
	if math.Abs(vec[39]-want) > 1e-12 || math.Abs(vec[92]-want) > 1e-12 {
		t.Fatalf("unexpected buckets: [39]=%v [92]=%v", vec[39], vec[92])
	}
	if !reflect.DeepEqual(Embed("ab ab"), Embed("AB\tab")) {
		t.Fatalf("expected case and whitespace insensitivity")
	}
}

func TestEmbedCountsSurrogatePairs(t *testing.T) {
	// U+1F600 is 0xD83D 0xDE00 in UTF-16: 55357*7 mod 128 = 43, 56832*14 mod 128 = 0
	vec := Embed("\U0001F600")
	want := 1 / math.Sqrt2
	if math.Abs(vec[43]-want) > 1e-12 || math.Abs(vec[0]-want) > 1e-12 {
		t.Fatalf("unexpected buckets: [43]=%v [0]=%v", vec[43], vec[0])
	}
}

func TestMarshal(t *testing.T) {
	vec := Embed("hello world")
	var back []float64
	if err := json.Unmarshal([]byte(Marshal(vec)), &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(back) != Dimensions {
		t.Fatalf("expected %d values, got %d", Dimensions, len(back))
	}
}
