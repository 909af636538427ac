package textutil

import "math"

// Fingerprint represents a term-frequency vector for text similarity comparison.
type Fingerprint struct {
	tokens map[string]float64
	norm   float64
}

// NewNameFingerprint creates a character-bigram fingerprint of a company name.
// Names are normalized first so spacing and width differences do not matter.
// A single-character name yields a one-term fingerprint.
func NewNameFingerprint(name string) *Fingerprint {
	return fromTerms(Bigrams(NormalizeName(name)))
}

func fromTerms(terms []string) *Fingerprint {
	if len(terms) == 0 {
		return nil
	}
	counts := make(map[string]float64, len(terms))
	for _, term := range terms {
		counts[term]++
	}
	var norm float64
	for _, count := range counts {
		norm += count * count
	}
	return &Fingerprint{
		tokens: counts,
		norm:   math.Sqrt(norm),
	}
}

// Bigrams returns the overlapping two-rune windows of s.
func Bigrams(s string) []string {
	runes := []rune(s)
	switch len(runes) {
	case 0:
		return nil
	case 1:
		return []string{s}
	}
	out := make([]string, 0, len(runes)-1)
	for i := 0; i+1 < len(runes); i++ {
		out = append(out, string(runes[i:i+2]))
	}
	return out
}

// WithIDF returns a new Fingerprint with TF-IDF weights applied.
// Each term's count is multiplied by its IDF weight and the norm is recomputed.
// Terms absent from idf are weighted by unseen; a non-positive unseen keeps
// their raw count.
func (f *Fingerprint) WithIDF(idf map[string]float64, unseen float64) *Fingerprint {
	if f == nil || len(idf) == 0 {
		return f
	}
	weighted := make(map[string]float64, len(f.tokens))
	var norm float64
	for token, count := range f.tokens {
		w := count
		if idfVal, ok := idf[token]; ok {
			w *= idfVal
		} else if unseen > 0 {
			w *= unseen
		}
		if w == 0 {
			continue
		}
		weighted[token] = w
		norm += w * w
	}
	if len(weighted) == 0 {
		return nil
	}
	return &Fingerprint{
		tokens: weighted,
		norm:   math.Sqrt(norm),
	}
}

// Terms returns the fingerprint's unique terms in no particular order.
func (f *Fingerprint) Terms() []string {
	if f == nil {
		return nil
	}
	out := make([]string, 0, len(f.tokens))
	for term := range f.tokens {
		out = append(out, term)
	}
	return out
}

// Corpus collects document frequency statistics for IDF computation.
type Corpus struct {
	docCount int
	docFreq  map[string]int
}

// NewCorpus creates an empty corpus.
func NewCorpus() *Corpus {
	return &Corpus{docFreq: make(map[string]int)}
}

// Add registers a fingerprint's unique terms in the corpus.
func (c *Corpus) Add(fp *Fingerprint) {
	if c == nil || fp == nil {
		return
	}
	c.docCount++
	for token := range fp.tokens {
		c.docFreq[token]++
	}
}

// IDF computes smoothed inverse document frequency weights,
// 1 + log((N+1)/(1+df)), so terms shared by every document keep some weight.
func (c *Corpus) IDF() map[string]float64 {
	if c == nil || c.docCount == 0 {
		return nil
	}
	idf := make(map[string]float64, len(c.docFreq))
	n := float64(c.docCount)
	for term, df := range c.docFreq {
		idf[term] = 1 + math.Log((n+1)/(1+float64(df)))
	}
	return idf
}

// UnseenIDF is the weight of a term that appears in no document, the rarest
// possible term under the same smoothing as IDF.
func (c *Corpus) UnseenIDF() float64 {
	if c == nil || c.docCount == 0 {
		return 0
	}
	return 1 + math.Log(float64(c.docCount)+1)
}
