// Package graph builds a link graph from backlinks and computes PageRank,
// domain authority, and spam scores over it (C10). SpamScore applies fixed
// additive rules; the teacher's internal/analyzer term matching is used
// only by SpamEvidence, to report which watch terms matched.
package graph

import (
	"math"
	"regexp"
	"strings"

	"github.com/TheBoringRats/ratcrowler/internal/analyzer"
	"github.com/TheBoringRats/ratcrowler/internal/model"
	"github.com/TheBoringRats/ratcrowler/internal/normalize"
)

const (
	damping         = 0.85
	convergenceTol  = 1e-6
	maxIterations   = 100
	nofollowWeight  = 0.1
	followWeight    = 1.0
)

// edge is a directed, weighted link between two URLs. Multi-edges between
// the same pair collapse to the maximum weight seen.
type edge struct {
	to     string
	weight float64
}

// Graph is an adjacency-list directed graph of URLs.
type Graph struct {
	nodes map[string]struct{}
	out   map[string][]edge
}

// New builds a Graph from backlinks, collapsing multi-edges to their max
// weight as spec.md §4.10 requires.
func New(backlinks []model.Backlink) *Graph {
	g := &Graph{
		nodes: make(map[string]struct{}),
		out:   make(map[string][]edge),
	}

	weights := make(map[[2]string]float64)
	order := make([][2]string, 0, len(backlinks))

	for _, bl := range backlinks {
		g.nodes[bl.SourceURL] = struct{}{}
		g.nodes[bl.TargetURL] = struct{}{}

		w := followWeight
		if bl.IsNofollow {
			w = nofollowWeight
		}

		key := [2]string{bl.SourceURL, bl.TargetURL}
		if existing, ok := weights[key]; !ok {
			weights[key] = w
			order = append(order, key)
		} else if w > existing {
			weights[key] = w
		}
	}

	for _, key := range order {
		g.out[key[0]] = append(g.out[key[0]], edge{to: key[1], weight: weights[key]})
	}

	return g
}

// PageRank runs weighted power iteration with damping 0.85, converging
// when the max per-node delta drops below 1e-6 or after 100 iterations.
func (g *Graph) PageRank() map[string]float64 {
	n := len(g.nodes)
	if n == 0 {
		return map[string]float64{}
	}

	urls := make([]string, 0, n)
	for u := range g.nodes {
		urls = append(urls, u)
	}

	outWeight := make(map[string]float64, n)
	for _, u := range urls {
		var total float64
		for _, e := range g.out[u] {
			total += e.weight
		}
		outWeight[u] = total
	}

	scores := make(map[string]float64, n)
	init := 1.0 / float64(n)
	for _, u := range urls {
		scores[u] = init
	}

	for iter := 0; iter < maxIterations; iter++ {
		next := make(map[string]float64, n)
		base := (1 - damping) / float64(n)

		var danglingMass float64
		for _, u := range urls {
			if outWeight[u] == 0 {
				danglingMass += scores[u]
			}
		}

		for _, u := range urls {
			next[u] = base + damping*danglingMass/float64(n)
		}

		for _, u := range urls {
			if outWeight[u] == 0 {
				continue
			}
			for _, e := range g.out[u] {
				next[e.to] += damping * scores[u] * (e.weight / outWeight[u])
			}
		}

		var maxDelta float64
		for _, u := range urls {
			delta := math.Abs(next[u] - scores[u])
			if delta > maxDelta {
				maxDelta = delta
			}
		}

		scores = next
		if maxDelta < convergenceTol {
			break
		}
	}

	return scores
}

// DomainAuthority computes per-host authority scores from backlinks, per
// spec.md §4.10: min(100, 2*unique_source_domains + 50*quality_per_link).
func DomainAuthority(backlinks []model.Backlink) map[string]float64 {
	type acc struct {
		sourceDomains map[string]struct{}
		qualitySum    float64
		totalLinks    int
	}

	byTarget := make(map[string]*acc)

	for _, bl := range backlinks {
		host := normalize.Host(bl.TargetURL)
		if host == "" {
			continue
		}
		a, ok := byTarget[host]
		if !ok {
			a = &acc{sourceDomains: make(map[string]struct{})}
			byTarget[host] = a
		}

		a.sourceDomains[normalize.Host(bl.SourceURL)] = struct{}{}
		a.totalLinks++

		var quality float64
		if !bl.IsNofollow {
			quality += 1
		}
		if strings.TrimSpace(bl.AnchorText) != "" {
			quality += 0.5
		}
		if strings.TrimSpace(bl.Context) != "" {
			quality += 0.5
		}
		a.qualitySum += quality
	}

	scores := make(map[string]float64, len(byTarget))
	for host, a := range byTarget {
		qualityPerLink := 0.0
		if a.totalLinks > 0 {
			qualityPerLink = a.qualitySum / float64(a.totalLinks)
		}
		score := 2*float64(len(a.sourceDomains)) + 50*qualityPerLink
		if score > 100 {
			score = 100
		}
		scores[host] = score
	}
	return scores
}

var spammyAnchor = regexp.MustCompile(`(?i)(buy|cheap|discount|sale)`)

var spammyHostTokens = []string{"link", "seo", "directory"}

// SpamScore computes the per-backlink spam heuristic score from spec.md
// §4.10. A backlink is flagged when the total reaches 0.8 or more.
func SpamScore(bl model.Backlink) (score float64, flagged bool) {
	anchor := strings.TrimSpace(bl.AnchorText)

	if wordCount(anchor) > 5 {
		score += 0.2
	}
	if spammyAnchor.MatchString(anchor) {
		score += 0.3
	}

	host := strings.ToLower(normalize.Host(bl.SourceURL))
	for _, token := range spammyHostTokens {
		if strings.Contains(host, token) {
			score += 0.4
			break
		}
	}

	context := strings.TrimSpace(bl.Context)
	if context == "" || len(context) < 50 {
		score += 0.2
	}

	return score, score >= 0.8
}

// spamTerms mirrors spammyAnchor's vocabulary for evidence gathering; the
// score itself only ever comes from SpamScore.
var spamTerms = []string{"buy", "cheap", "discount", "sale"}

// SpamEvidence runs SpamScore and additionally reports which spam terms
// were found in the anchor text or surrounding context, so a flagged
// backlink can be explained rather than just scored.
func SpamEvidence(bl model.Backlink) (score float64, flagged bool, matches []analyzer.TermMatch) {
	score, flagged = SpamScore(bl)
	content := strings.TrimSpace(bl.AnchorText + " " + bl.Context)
	matches = analyzer.FindTermMatches(content, bl.TargetURL, normalize.Host(bl.SourceURL), spamTerms)
	return score, flagged, matches
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}
