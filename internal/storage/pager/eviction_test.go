package pager

import "testing"

func TestSampledLRU_LowerScoreIsOlder(t *testing.T) {
	s := NewSampledLRU(3)
	s.Update(0)
	s.Update(1)
	s.Update(2)
	if s.Score(0) >= s.Score(1) {
		t.Fatalf("expected frame 0 to have a lower (older) score than frame 1: %d vs %d", s.Score(0), s.Score(1))
	}
	s.Update(0) // touch again, should become the newest
	if s.Score(0) <= s.Score(2) {
		t.Fatalf("expected re-touched frame 0 to score higher than untouched frame 2: %d vs %d", s.Score(0), s.Score(2))
	}
}

func TestSampledLRU_ResetClearsScore(t *testing.T) {
	s := NewSampledLRU(2)
	s.Update(0)
	s.Update(0)
	s.Reset(0)
	if s.Score(0) != 0 {
		t.Fatalf("expected score 0 after Reset, got %d", s.Score(0))
	}
}

func TestDummy_AllScoresEqual(t *testing.T) {
	var d Dummy
	d.Update(0)
	d.Update(1)
	if d.Score(0) != d.Score(1) {
		t.Fatal("expected Dummy scores to always be equal")
	}
}

func TestSampleIndices_DistinctWithinRange(t *testing.T) {
	idxs := sampleIndices(10, 5)
	if len(idxs) != 5 {
		t.Fatalf("expected 5 indices, got %d", len(idxs))
	}
	seen := make(map[int]bool)
	for _, i := range idxs {
		if i < 0 || i >= 10 {
			t.Fatalf("index %d out of range [0,10)", i)
		}
		if seen[i] {
			t.Fatalf("duplicate index %d", i)
		}
		seen[i] = true
	}
}

func TestSampleIndices_ClampsToN(t *testing.T) {
	idxs := sampleIndices(3, 5)
	if len(idxs) != 3 {
		t.Fatalf("expected sample size clamped to 3, got %d", len(idxs))
	}
}
