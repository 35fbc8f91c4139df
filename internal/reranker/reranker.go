package reranker

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/loreweave/loreweave/internal/chunker"
	"github.com/loreweave/loreweave/internal/rag"
)

// Strategy selects how results are re-scored.
type Strategy string

const (
	// StrategySemantic keeps the original similarity: a no-op control path.
	StrategySemantic Strategy = "semantic"
	// StrategyKeyword scores by query/content keyword overlap alone.
	StrategyKeyword Strategy = "keyword"
	// StrategyMetadata scores by query matches in metadata fields alone.
	StrategyMetadata Strategy = "metadata"
	// StrategyHybrid blends similarity with keyword, metadata, and
	// content-type boosts. The default.
	StrategyHybrid Strategy = "hybrid"
)

// Hybrid blend weights and the materiality threshold above which a boost is
// worth mentioning in the reranking reason.
const (
	keywordWeight       = 0.3
	metadataWeight      = 0.2
	contentTypeWeight   = 0.1
	materialityMinBoost = 0.1

	contentLengthCap = 1000
)

// Config toggles the individual hybrid boosts. A disabled boost's term is
// omitted from the blend, not zeroed and added.
type Config struct {
	EnableKeywordBoost  bool
	EnableMetadataBoost bool
}

// DefaultConfig enables all boosts.
func DefaultConfig() Config {
	return Config{EnableKeywordBoost: true, EnableMetadataBoost: true}
}

// RerankedResult is one re-scored search hit with a human-readable trace of
// which boosts applied.
type RerankedResult struct {
	ChunkID            int64             `json:"chunk_id"`
	Type               chunker.ChunkType `json:"chunk_type"`
	Content            string            `json:"content"`
	Metadata           map[string]any    `json:"metadata,omitempty"`
	OriginalSimilarity float64           `json:"original_similarity"`
	Score              float64           `json:"reranked_score"`
	Reason             string            `json:"reranking_reason"`
}

// Service re-scores similarity-ranked result sets with hybrid signals to
// improve topical precision beyond raw vector distance.
type Service struct {
	config Config
	logger *slog.Logger
}

// New creates a reranker.
func New(config Config) *Service {
	return &Service{
		config: config,
		logger: slog.Default().With("component", "reranker"),
	}
}

// Rerank re-scores results with the named strategy and returns them sorted
// by descending score; ties keep the input order. Unrecognized strategy
// names fall back to hybrid with a warning. Results with neither id nor
// content are dropped before scoring.
func (s *Service) Rerank(query string, results []rag.SearchResult, strategy Strategy) []RerankedResult {
	switch strategy {
	case StrategySemantic, StrategyKeyword, StrategyMetadata, StrategyHybrid:
	default:
		s.logger.Warn("unknown rerank strategy, falling back to hybrid", "strategy", string(strategy))
		strategy = StrategyHybrid
	}

	reranked := make([]RerankedResult, 0, len(results))
	for _, result := range results {
		if result.ChunkID == 0 && result.Content == "" {
			continue // malformed result
		}
		score, reason := s.score(query, result, strategy)
		reranked = append(reranked, RerankedResult{
			ChunkID:            result.ChunkID,
			Type:               result.Type,
			Content:            result.Content,
			Metadata:           result.Metadata,
			OriginalSimilarity: result.Similarity,
			Score:              score,
			Reason:             reason,
		})
	}

	sort.SliceStable(reranked, func(i, j int) bool { return reranked[i].Score > reranked[j].Score })
	return reranked
}

func (s *Service) score(query string, result rag.SearchResult, strategy Strategy) (float64, string) {
	switch strategy {
	case StrategySemantic:
		return result.Similarity, "semantic similarity only"

	case StrategyKeyword:
		score := keywordScore(query, result.Content)
		return score, boostReason("keyword", score)

	case StrategyMetadata:
		score := metadataScore(query, result.Metadata)
		return score, boostReason("metadata", score)

	default: // hybrid
		score := result.Similarity
		var reasons []string

		if s.config.EnableKeywordBoost {
			kw := keywordScore(query, result.Content)
			score += keywordWeight * kw
			if kw > materialityMinBoost {
				reasons = append(reasons, fmt.Sprintf("keyword boost %.2f", kw))
			}
		}
		if s.config.EnableMetadataBoost {
			md := metadataScore(query, result.Metadata)
			score += metadataWeight * md
			if md > materialityMinBoost {
				reasons = append(reasons, fmt.Sprintf("metadata boost %.2f", md))
			}
		}
		ct := contentTypeScore(query, result.Type)
		score += contentTypeWeight * ct
		if ct > materialityMinBoost {
			reasons = append(reasons, fmt.Sprintf("content type boost %.2f", ct))
		}

		reason := "no boost applied"
		if len(reasons) > 0 {
			reason = strings.Join(reasons, ", ")
		}
		return clip01(score), reason
	}
}

func boostReason(name string, score float64) string {
	if score > materialityMinBoost {
		return fmt.Sprintf("%s boost %.2f", name, score)
	}
	return "no boost applied"
}

var wordPattern = regexp.MustCompile(`[a-z0-9']+`)

func words(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		set[w] = struct{}{}
	}
	return set
}

// keywordScore blends the query word-set overlap ratio (70%) with a content
// length normalization capped at contentLengthCap characters (30%).
func keywordScore(query, content string) float64 {
	queryWords := words(query)
	if len(queryWords) == 0 {
		return 0
	}
	contentWords := words(content)

	matched := 0
	for w := range queryWords {
		if _, ok := contentWords[w]; ok {
			matched++
		}
	}
	matchRatio := float64(matched) / float64(len(queryWords))

	length := len(content)
	if length > contentLengthCap {
		length = contentLengthCap
	}
	lengthNorm := float64(length) / float64(contentLengthCap)

	return clip01(0.7*matchRatio + 0.3*lengthNorm)
}

// metadataScore sums per-field boosts: 0.3 for a full query substring match
// in a string field, 0.1 for each individual query word found, and 0.2 per
// matching string member of a list field. Boosts across fields are additive.
func metadataScore(query string, metadata map[string]any) float64 {
	if len(metadata) == 0 {
		return 0
	}

	lowerQuery := strings.ToLower(strings.TrimSpace(query))
	if lowerQuery == "" {
		return 0
	}
	queryWords := wordPattern.FindAllString(lowerQuery, -1)

	var score float64
	for _, value := range metadata {
		switch v := value.(type) {
		case string:
			field := strings.ToLower(v)
			if strings.Contains(field, lowerQuery) {
				score += 0.3
			}
			for _, w := range queryWords {
				if strings.Contains(field, w) {
					score += 0.1
				}
			}
		case []string:
			for _, member := range v {
				if strings.Contains(strings.ToLower(member), lowerQuery) {
					score += 0.2
				}
			}
		case []any:
			for _, member := range v {
				if str, ok := member.(string); ok && strings.Contains(strings.ToLower(str), lowerQuery) {
					score += 0.2
				}
			}
		}
	}
	return clip01(score)
}

// Vocabulary hints binding query phrasing to content types.
var contentTypeVocabulary = map[string][]string{
	"character": {"character", "who", "personality", "appearance", "motivation", "relationship", "protagonist"},
	"setting":   {"setting", "where", "location", "place", "world", "city", "landscape"},
	"outline":   {"plot", "outline", "story", "chapter", "happens", "arc"},
}

// contentTypeScore awards a flat boost when the query vocabulary points at
// the result's content type.
func contentTypeScore(query string, chunkType chunker.ChunkType) float64 {
	lowerQuery := strings.ToLower(query)
	typeName := string(chunkType)

	for vocab, hints := range contentTypeVocabulary {
		if !strings.Contains(typeName, vocab) {
			continue
		}
		for _, hint := range hints {
			if strings.Contains(lowerQuery, hint) {
				return 0.3
			}
		}
	}
	return 0
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
