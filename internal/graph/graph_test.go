package graph

import (
	"math"
	"testing"

	"github.com/TheBoringRats/ratcrowler/internal/model"
)

func TestPageRank_SumsToApproximatelyOne(t *testing.T) {
	backlinks := []model.Backlink{
		{SourceURL: "https://a.com", TargetURL: "https://b.com"},
		{SourceURL: "https://b.com", TargetURL: "https://c.com"},
		{SourceURL: "https://c.com", TargetURL: "https://a.com"},
	}

	scores := New(backlinks).PageRank()
	if len(scores) != 3 {
		t.Fatalf("expected 3 nodes, got %d", len(scores))
	}

	var sum float64
	for _, s := range scores {
		sum += s
	}
	if math.Abs(sum-1.0) > 1e-3 {
		t.Errorf("expected scores to sum to ~1.0, got %f", sum)
	}
}

func TestPageRank_NofollowEdgeWeighsLess(t *testing.T) {
	backlinks := []model.Backlink{
		{SourceURL: "https://a.com", TargetURL: "https://b.com", IsNofollow: true},
		{SourceURL: "https://a.com", TargetURL: "https://c.com"},
	}

	scores := New(backlinks).PageRank()
	if scores["https://c.com"] <= scores["https://b.com"] {
		t.Errorf("expected followed link target to outrank nofollow target: %+v", scores)
	}
}

func TestPageRank_MultiEdgeCollapsesToMaxWeight(t *testing.T) {
	backlinks := []model.Backlink{
		{SourceURL: "https://a.com", TargetURL: "https://b.com", IsNofollow: true},
		{SourceURL: "https://a.com", TargetURL: "https://b.com", IsNofollow: false},
	}
	g := New(backlinks)
	edges := g.out["https://a.com"]
	if len(edges) != 1 {
		t.Fatalf("expected multi-edge to collapse to 1, got %d", len(edges))
	}
	if edges[0].weight != followWeight {
		t.Errorf("expected collapsed edge to keep max weight %v, got %v", followWeight, edges[0].weight)
	}
}

func TestDomainAuthority_CapsAt100(t *testing.T) {
	var backlinks []model.Backlink
	for i := 0; i < 100; i++ {
		backlinks = append(backlinks, model.Backlink{
			SourceURL:  "https://source" + string(rune('a'+i%26)) + ".com",
			TargetURL:  "https://target.com",
			AnchorText: "click here",
			Context:    "some surrounding context text",
		})
	}

	scores := DomainAuthority(backlinks)
	if scores["target.com"] > 100 {
		t.Errorf("expected score capped at 100, got %f", scores["target.com"])
	}
}

func TestSpamScore_FlagsObviousSpam(t *testing.T) {
	bl := model.Backlink{
		SourceURL:  "https://cheap-seo-directory.com",
		TargetURL:  "https://victim.com",
		AnchorText: "buy cheap discount sale items today now",
		Context:    "",
	}
	score, flagged := SpamScore(bl)
	if !flagged {
		t.Errorf("expected spam flag, got score %f", score)
	}
}

func TestSpamScore_CleanLinkIsNotFlagged(t *testing.T) {
	bl := model.Backlink{
		SourceURL:  "https://reputable-news.com",
		TargetURL:  "https://victim.com",
		AnchorText: "research findings",
		Context:    "This article cites the research findings from a recent peer reviewed study on the topic.",
	}
	_, flagged := SpamScore(bl)
	if flagged {
		t.Error("expected clean link to not be flagged")
	}
}

func TestSpamEvidence_ReportsMatchedTerms(t *testing.T) {
	bl := model.Backlink{
		SourceURL:  "https://cheap-seo-directory.com",
		TargetURL:  "https://victim.com",
		AnchorText: "buy cheap discount sale items today now",
		Context:    "",
	}
	score, flagged, matches := SpamEvidence(bl)
	if !flagged {
		t.Fatalf("expected spam flag, got score %f", score)
	}
	if len(matches) == 0 {
		t.Fatal("expected at least one matched spam term")
	}
	found := false
	for _, m := range matches {
		if m.Term == "cheap" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected 'cheap' among matched terms, got %+v", matches)
	}
}
