package models

// KeywordID indexes into a KeywordRanker's lexicon.
type KeywordID int32

// Keyword is one lexical entry: a WordNet-style synset plus every surface
// string that maps to it.
type Keyword struct {
	ID         KeywordID
	SynsetID   int64
	SynsetStrs []string
}
